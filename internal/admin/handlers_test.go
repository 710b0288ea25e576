package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seva-labs/paygate/internal/notification"
)

var adminNow = time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)

type fakeStore struct {
	byID map[uuid.UUID]*notification.Notification
	all  []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[uuid.UUID]*notification.Notification{}}
}

func (s *fakeStore) add(n notification.Notification) uuid.UUID {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	s.byID[n.ID] = &n
	s.all = append(s.all, n.ID)
	return n.ID
}

func (s *fakeStore) Save(_ context.Context, n *notification.Notification) error {
	n.ID = s.add(*n)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (notification.Notification, error) {
	n, ok := s.byID[id]
	if !ok {
		return notification.Notification{}, pgx.ErrNoRows
	}
	return *n, nil
}

func (s *fakeStore) SetProcessing(_ context.Context, id uuid.UUID, processing bool) error {
	s.byID[id].Processing = processing
	return nil
}

func (s *fakeStore) SetDone(_ context.Context, id uuid.UUID, done bool) error {
	s.byID[id].Done = done
	s.byID[id].Processing = false
	return nil
}

func (s *fakeStore) SetSchedule(_ context.Context, id uuid.UUID, at time.Time) error {
	s.byID[id].ScheduledProcessingTime = &at
	return nil
}

func (s *fakeStore) RecordError(_ context.Context, id uuid.UUID, message string) error {
	s.byID[id].ErrorCount++
	s.byID[id].ErrorMessage = message
	return nil
}

func (s *fakeStore) ListUnscheduled(context.Context) ([]notification.Notification, error) {
	return nil, nil
}

func (s *fakeStore) ListDue(context.Context, time.Time, int) ([]notification.Notification, error) {
	return nil, nil
}

func (s *fakeStore) ListSkipped(context.Context, time.Time, time.Duration) ([]notification.Notification, error) {
	return nil, nil
}

func (s *fakeStore) matches(n *notification.Notification, filter notification.ListFilter) bool {
	if filter.EventCode != "" && string(n.EventCode) != filter.EventCode {
		return false
	}
	if filter.Done != nil && n.Done != *filter.Done {
		return false
	}
	return true
}

func (s *fakeStore) List(_ context.Context, filter notification.ListFilter) ([]notification.Notification, error) {
	var out []notification.Notification
	for _, id := range s.all {
		if s.matches(s.byID[id], filter) {
			out = append(out, *s.byID[id])
		}
	}
	return out, nil
}

func (s *fakeStore) Count(_ context.Context, filter notification.ListFilter) (int64, error) {
	items, _ := s.List(context.Background(), filter)
	return int64(len(items)), nil
}

func newRouter(store *fakeStore) http.Handler {
	h := &Handlers{
		Store:     store,
		Logger:    zerolog.Nop(),
		BasicUser: "ops",
		BasicPass: "s3cret",
		Now:       func() time.Time { return adminNow },
	}
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.SetBasicAuth("ops", "s3cret")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListFiltersByEventCodeAndDone(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.add(notification.Notification{EventCode: notification.EventAuthorisation, Done: true})
	store.add(notification.Notification{EventCode: notification.EventRefund})
	store.add(notification.Notification{EventCode: notification.EventRefund, Done: true})

	rec := do(t, newRouter(store), http.MethodGet, "/admin/notifications/?eventCode=REFUND&done=false", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []map[string]any `json:"items"`
		Total int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(1), body.Total)
	require.Len(t, body.Items, 1)
	require.Equal(t, "REFUND", body.Items[0]["eventCode"])
}

func TestListRequiresCredentials(t *testing.T) {
	t.Parallel()

	rec := do(t, newRouter(newFakeStore()), http.MethodGet, "/admin/notifications/", false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRescheduleReopensAndSchedulesNow(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	id := store.add(notification.Notification{
		EventCode:  notification.EventCapture,
		Done:       true,
		Processing: true,
		ErrorCount: 3,
	})

	rec := do(t, newRouter(store), http.MethodPost, "/admin/notifications/"+id.String()+"/reschedule", true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	n := store.byID[id]
	require.False(t, n.Done)
	require.False(t, n.Processing)
	require.NotNil(t, n.ScheduledProcessingTime)
	require.Equal(t, adminNow, n.ScheduledProcessingTime.UTC())
}

func TestRescheduleUnknownIDReturns404(t *testing.T) {
	t.Parallel()

	rec := do(t, newRouter(newFakeStore()), http.MethodPost, "/admin/notifications/"+uuid.NewString()+"/reschedule", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReturnsNotification(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	id := store.add(notification.Notification{
		EventCode:    notification.EventAuthorisation,
		PSPReference: "AUTH1",
	})

	rec := do(t, newRouter(store), http.MethodGet, "/admin/notifications/"+id.String(), true)
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "AUTH1", view["pspReference"])
}
