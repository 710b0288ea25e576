package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seva-labs/paygate/internal/notification"
)

type captureStore struct {
	saved   []notification.Notification
	saveErr error
}

func (s *captureStore) Save(_ context.Context, n *notification.Notification) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	n.ID = uuid.New()
	s.saved = append(s.saved, *n)
	return nil
}

func (s *captureStore) GetByID(context.Context, uuid.UUID) (notification.Notification, error) {
	return notification.Notification{}, nil
}
func (s *captureStore) SetProcessing(context.Context, uuid.UUID, bool) error { return nil }
func (s *captureStore) SetDone(context.Context, uuid.UUID, bool) error       { return nil }
func (s *captureStore) SetSchedule(context.Context, uuid.UUID, time.Time) error {
	return nil
}
func (s *captureStore) RecordError(context.Context, uuid.UUID, string) error { return nil }
func (s *captureStore) ListUnscheduled(context.Context) ([]notification.Notification, error) {
	return nil, nil
}
func (s *captureStore) ListDue(context.Context, time.Time, int) ([]notification.Notification, error) {
	return nil, nil
}
func (s *captureStore) ListSkipped(context.Context, time.Time, time.Duration) ([]notification.Notification, error) {
	return nil, nil
}
func (s *captureStore) List(context.Context, notification.ListFilter) ([]notification.Notification, error) {
	return nil, nil
}
func (s *captureStore) Count(context.Context, notification.ListFilter) (int64, error) {
	return 0, nil
}

func envelopeJSON(items ...string) string {
	return fmt.Sprintf(`{"live":"false","notificationItems":[%s]}`, strings.Join(items, ","))
}

func itemJSON(pspRef, eventCode, success string) string {
	return fmt.Sprintf(`{"NotificationRequestItem":{
		"pspReference":%q,
		"merchantReference":"ORD-1001",
		"merchantAccountCode":"TestMerchant",
		"eventCode":%q,
		"success":%q,
		"paymentMethod":"scheme",
		"amount":{"value":33333,"currency":"EUR"},
		"additionalData":{"donationToken":"tok_1"}
	}}`, pspRef, eventCode, success)
}

func post(h *Handler, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/notifications", strings.NewReader(body))
	if auth {
		req.SetBasicAuth("provider", "s3cret")
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func newHandler(store *captureStore) *Handler {
	return &Handler{
		Store:     store,
		Logger:    zerolog.Nop(),
		BasicUser: "provider",
		BasicPass: "s3cret",
	}
}

func TestHandleStoresEveryItemAndAccepts(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	rec := post(newHandler(store), envelopeJSON(
		itemJSON("AUTH1", "AUTHORISATION", "true"),
		itemJSON("CAP1", "CAPTURE", "false"),
	), true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[accepted]", rec.Body.String())
	require.Len(t, store.saved, 2)
	require.Equal(t, notification.EventAuthorisation, store.saved[0].EventCode)
	require.True(t, store.saved[0].Success)
	require.Equal(t, notification.EventCapture, store.saved[1].EventCode)
	require.False(t, store.saved[1].Success)
	require.Equal(t, int64(33333), store.saved[0].AmountValue)
	require.Equal(t, "EUR", store.saved[0].AmountCurrency)
}

func TestHandleRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	rec := post(newHandler(store), envelopeJSON(itemJSON("AUTH1", "AUTHORISATION", "true")), false)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, store.saved)
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	h := newHandler(store)
	h.HMACKey = testKey
	rec := post(h, envelopeJSON(itemJSON("AUTH1", "AUTHORISATION", "true")), true)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, store.saved)
}

func TestHandleAcceptsSignedItem(t *testing.T) {
	t.Parallel()

	item := Item{
		PSPReference:        "AUTH1",
		MerchantReference:   "ORD-1001",
		MerchantAccountCode: "TestMerchant",
		EventCode:           "AUTHORISATION",
		Success:             true,
		Amount:              Amount{Value: 33333, Currency: "EUR"},
	}
	sig, err := Sign(testKey, item)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"live":false,"notificationItems":[{"NotificationRequestItem":{
		"pspReference":"AUTH1",
		"merchantReference":"ORD-1001",
		"merchantAccountCode":"TestMerchant",
		"eventCode":"AUTHORISATION",
		"success":"true",
		"amount":{"value":33333,"currency":"EUR"},
		"additionalData":{"hmacSignature":%q}
	}}]}`, sig)

	store := &captureStore{}
	h := newHandler(store)
	h.HMACKey = testKey
	rec := post(h, body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.saved, 1)
}

func TestHandleRejectsEmptyEnvelope(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	rec := post(newHandler(store), `{"live":"true","notificationItems":[]}`, true)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, store.saved)
}

func TestHandlePersistFailureReturns500(t *testing.T) {
	t.Parallel()

	store := &captureStore{saveErr: errors.New("connection reset")}
	rec := post(newHandler(store), envelopeJSON(itemJSON("AUTH1", "AUTHORISATION", "true")), true)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleSuppressesByteIdenticalReplay(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	store := &captureStore{}
	h := newHandler(store)
	h.Replay = redis.NewClient(&redis.Options{Addr: srv.Addr()})
	h.ReplayTTL = time.Minute

	body := envelopeJSON(itemJSON("AUTH1", "AUTHORISATION", "true"))
	rec := post(h, body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.saved, 1)

	rec = post(h, body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[accepted]", rec.Body.String())
	require.Len(t, store.saved, 1, "replayed delivery must not insert again")
}
