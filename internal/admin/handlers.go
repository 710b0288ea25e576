// Package admin exposes the operator surface over stored notifications:
// inspection of the processing backlog and manual rescheduling of rows the
// automatic retries gave up on.
package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/seva-labs/paygate/internal/common"
	"github.com/seva-labs/paygate/internal/notification"
)

// Handlers bundles the admin endpoints.
type Handlers struct {
	Store  notification.Store
	Logger zerolog.Logger

	BasicUser string
	BasicPass string

	// Now is swappable in tests.
	Now func() time.Time
}

// Mount registers the admin routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/admin/notifications", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/reschedule", h.Reschedule)
	})
}

type notificationView struct {
	ID                      uuid.UUID         `json:"id"`
	PSPReference            string            `json:"pspReference"`
	OriginalReference       string            `json:"originalReference,omitempty"`
	MerchantReference       string            `json:"merchantReference"`
	EventCode               string            `json:"eventCode"`
	Success                 bool              `json:"success"`
	PaymentMethod           string            `json:"paymentMethod,omitempty"`
	AmountValue             int64             `json:"amountValue"`
	AmountCurrency          string            `json:"amountCurrency"`
	Reason                  string            `json:"reason,omitempty"`
	Live                    bool              `json:"live"`
	Done                    bool              `json:"done"`
	Processing              bool              `json:"processing"`
	ScheduledProcessingTime *time.Time        `json:"scheduledProcessingTime,omitempty"`
	ErrorCount              int               `json:"errorCount"`
	ErrorMessage            string            `json:"errorMessage,omitempty"`
	AdditionalData          map[string]string `json:"additionalData,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}

func toView(n notification.Notification) notificationView {
	return notificationView{
		ID:                      n.ID,
		PSPReference:            n.PSPReference,
		OriginalReference:       n.OriginalReference,
		MerchantReference:       n.MerchantReference,
		EventCode:               string(n.EventCode),
		Success:                 n.Success,
		PaymentMethod:           n.PaymentMethod,
		AmountValue:             n.AmountValue,
		AmountCurrency:          n.AmountCurrency,
		Reason:                  n.Reason,
		Live:                    n.Live,
		Done:                    n.Done,
		Processing:              n.Processing,
		ScheduledProcessingTime: n.ScheduledProcessingTime,
		ErrorCount:              n.ErrorCount,
		ErrorMessage:            n.ErrorMessage,
		AdditionalData:          n.AdditionalData,
		CreatedAt:               n.CreatedAt,
		UpdatedAt:               n.UpdatedAt,
	}
}

// List returns stored notifications, newest first, with the total count for
// pagination.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	filter := notification.ListFilter{
		EventCode: r.URL.Query().Get("eventCode"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("done")); raw != "" {
		done, err := strconv.ParseBool(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_FILTER", "done must be a boolean", nil)
			return
		}
		filter.Done = &done
	}

	items, err := h.Store.List(r.Context(), filter)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list notifications")
		common.JSONError(w, http.StatusInternalServerError, "LIST_ERROR", "unable to list notifications", nil)
		return
	}
	total, err := h.Store.Count(r.Context(), filter)
	if err != nil {
		h.Logger.Error().Err(err).Msg("count notifications")
		common.JSONError(w, http.StatusInternalServerError, "LIST_ERROR", "unable to count notifications", nil)
		return
	}

	views := make([]notificationView, 0, len(items))
	for _, n := range items {
		views = append(views, toView(n))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"items": views,
		"total": total,
	})
}

// Get returns one notification by id.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	n, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "notification not found", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("get notification")
		common.JSONError(w, http.StatusInternalServerError, "FETCH_ERROR", "unable to load notification", nil)
		return
	}
	common.JSON(w, http.StatusOK, toView(n))
}

// Reschedule reopens a notification and puts it at the front of the due set.
// This is the operator's lever for rows that exhausted their retries or got
// closed by a since-fixed defect.
func (h *Handlers) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	n, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "notification not found", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("get notification")
		common.JSONError(w, http.StatusInternalServerError, "FETCH_ERROR", "unable to load notification", nil)
		return
	}

	// Reopening clears the processing flag as well, so a row stuck behind a
	// crashed worker can be revived the same way.
	if err := h.Store.SetDone(r.Context(), id, false); err != nil {
		h.Logger.Error().Err(err).Msg("reopen notification")
		common.JSONError(w, http.StatusInternalServerError, "UPDATE_ERROR", "unable to reopen notification", nil)
		return
	}
	at := h.now()
	if err := h.Store.SetSchedule(r.Context(), id, at); err != nil {
		h.Logger.Error().Err(err).Msg("reschedule notification")
		common.JSONError(w, http.StatusInternalServerError, "UPDATE_ERROR", "unable to reschedule notification", nil)
		return
	}

	h.Logger.Info().
		Str("notification_id", id.String()).
		Str("event_code", string(n.EventCode)).
		Time("scheduled_processing_time", at).
		Msg("notification rescheduled by operator")
	common.JSON(w, http.StatusAccepted, map[string]any{
		"id":                      id,
		"scheduledProcessingTime": at,
	})
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ID", "invalid notification id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.BasicUser == "" && h.BasicPass == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.BasicUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.BasicPass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
