// Package webhook receives the provider's notification envelope, verifies
// it, and persists each item for asynchronous processing. The handler never
// processes payments inline; acceptance only means "stored durably".
package webhook

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seva-labs/paygate/internal/common"
	"github.com/seva-labs/paygate/internal/notification"
	"github.com/seva-labs/paygate/internal/obs"
)

// maxBodyBytes bounds the inbound envelope size.
const maxBodyBytes = 1 << 20

// acceptedBody is the acknowledgement the provider expects; anything else
// triggers provider-side redelivery.
const acceptedBody = "[accepted]"

// Boolish accepts the provider's bool-or-quoted-bool encoding.
type Boolish bool

// UnmarshalJSON accepts true, false, "true" and "false".
func (b *Boolish) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "true":
		*b = true
	case "false", "":
		*b = false
	default:
		return fmt.Errorf("webhook: invalid boolean %q", s)
	}
	return nil
}

// Amount is the provider's minor-unit money shape.
type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency" validate:"required,len=3"`
}

// Item is one notification inside the envelope.
type Item struct {
	PSPReference        string            `json:"pspReference" validate:"required"`
	OriginalReference   string            `json:"originalReference"`
	MerchantReference   string            `json:"merchantReference"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	EventCode           string            `json:"eventCode" validate:"required"`
	EventDate           string            `json:"eventDate"`
	Success             Boolish           `json:"success"`
	PaymentMethod       string            `json:"paymentMethod"`
	Amount              Amount            `json:"amount"`
	Reason              string            `json:"reason"`
	AdditionalData      map[string]string `json:"additionalData"`
}

type envelopeItem struct {
	NotificationRequestItem Item `json:"NotificationRequestItem" validate:"required"`
}

// Envelope is the provider's batch wrapper.
type Envelope struct {
	Live              Boolish        `json:"live"`
	NotificationItems []envelopeItem `json:"notificationItems" validate:"required,min=1,dive"`
}

// Handler accepts the provider's webhook POST.
type Handler struct {
	Store    notification.Store
	Logger   zerolog.Logger
	Validate *validator.Validate

	// HMACKey is the provider's hex-encoded signing secret. Empty disables
	// signature verification (test merchants without HMAC configured).
	HMACKey string
	// BasicUser and BasicPass protect the endpoint; the provider sends
	// standard basic auth.
	BasicUser string
	BasicPass string

	// Replay suppresses byte-identical redeliveries within ReplayTTL.
	// Logical duplicates with differing bytes still insert fresh rows; the
	// dispatcher de-duplicates those.
	Replay    *redis.Client
	ReplayTTL time.Duration
}

// Handle ingests one envelope. Every item must persist before the
// acknowledgement is written; a partial failure returns 500 so the provider
// redelivers the whole batch.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="webhook"`)
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
		h.count("", "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		h.count("", "malformed")
		return
	}
	if err := h.validate().Struct(env); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ENVELOPE", err.Error(), nil)
		h.count("", "malformed")
		return
	}

	if h.HMACKey != "" {
		for _, wrapped := range env.NotificationItems {
			if err := Verify(h.HMACKey, wrapped.NotificationRequestItem); err != nil {
				h.Logger.Warn().
					Str("pspreference", wrapped.NotificationRequestItem.PSPReference).
					Str("event_code", wrapped.NotificationRequestItem.EventCode).
					Msg("hmac verification failed")
				common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
				h.count(wrapped.NotificationRequestItem.EventCode, "bad_signature")
				return
			}
		}
	}

	if dup, err := h.isReplay(r, body); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
		return
	} else if dup {
		// The earlier delivery already stored the items; acknowledge so the
		// provider stops retrying.
		h.Logger.Info().Msg("duplicate webhook delivery suppressed")
		h.count("", "replay")
		h.accept(w)
		return
	}

	for _, wrapped := range env.NotificationItems {
		item := wrapped.NotificationRequestItem
		n := toNotification(item, bool(env.Live))
		if err := h.Store.Save(r.Context(), &n); err != nil {
			h.Logger.Error().Err(err).
				Str("pspreference", item.PSPReference).
				Str("event_code", item.EventCode).
				Msg("persist notification")
			common.JSONError(w, http.StatusInternalServerError, "PERSIST_ERROR", "unable to store notification", nil)
			h.count(item.EventCode, "store_error")
			return
		}
		h.Logger.Info().
			Str("notification_id", n.ID.String()).
			Str("pspreference", item.PSPReference).
			Str("event_code", item.EventCode).
			Bool("success", bool(item.Success)).
			Msg("notification stored")
		h.count(item.EventCode, "stored")
	}
	h.accept(w)
}

func (h *Handler) accept(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(acceptedBody))
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.BasicUser == "" && h.BasicPass == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.BasicUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.BasicPass)) == 1
	return userOK && passOK
}

func (h *Handler) isReplay(r *http.Request, body []byte) (bool, error) {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return false, nil
	}
	key := "wh:notif:" + common.Sha256Hex(string(body))
	fresh, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

func (h *Handler) validate() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return validator.New()
}

func (h *Handler) count(eventCode, result string) {
	if obs.WebhookReceivedTotal != nil {
		obs.WebhookReceivedTotal.WithLabelValues(eventCode, result).Inc()
	}
}

func toNotification(item Item, live bool) notification.Notification {
	return notification.Notification{
		PSPReference:      item.PSPReference,
		OriginalReference: item.OriginalReference,
		MerchantReference: item.MerchantReference,
		EventCode:         notification.NormalizeEventCode(item.EventCode),
		Success:           bool(item.Success),
		PaymentMethod:     item.PaymentMethod,
		AmountValue:       item.Amount.Value,
		AmountCurrency:    strings.ToUpper(item.Amount.Currency),
		Reason:            item.Reason,
		Live:              live,
		AdditionalData:    item.AdditionalData,
	}
}
