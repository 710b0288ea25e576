package notification

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventCode enumerates the PSP webhook event types the module understands.
// Codes outside this set are accepted at the edge and resolved to a no-op
// processor later; they are not an error.
type EventCode string

const (
	EventAuthorisation EventCode = "AUTHORISATION"
	EventCapture       EventCode = "CAPTURE"
	EventCaptureFailed EventCode = "CAPTURE_FAILED"
	EventCancellation  EventCode = "CANCELLATION"
	EventRefund        EventCode = "REFUND"
	EventRefundFailed  EventCode = "REFUND_FAILED"
	EventOfferClosed   EventCode = "OFFER_CLOSED"
	EventDonation      EventCode = "DONATION"
)

// NormalizeEventCode uppercases and trims a raw event code from the wire.
func NormalizeEventCode(raw string) EventCode {
	return EventCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// Notification is one inbound webhook event. Rows are never deleted;
// Done=true is the terminal state.
type Notification struct {
	ID                      uuid.UUID
	PSPReference            string
	OriginalReference       string
	MerchantReference       string
	EventCode               EventCode
	Success                 bool
	PaymentMethod           string
	AmountValue             int64
	AmountCurrency          string
	Reason                  string
	Live                    bool
	AdditionalData          map[string]string
	Done                    bool
	Processing              bool
	ScheduledProcessingTime *time.Time
	ErrorCount              int
	ErrorMessage            string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// IsDue reports whether the notification qualifies for a dispatcher pass at
// the supplied instant. Rows marked processing are excluded so overlapping
// dispatcher runs cannot double-process; this predicate mirrors the store's
// due-set query.
func (n Notification) IsDue(now time.Time) bool {
	if n.Done || n.Processing || n.ScheduledProcessingTime == nil {
		return false
	}
	return !n.ScheduledProcessingTime.After(now)
}

// IsSkipped reports whether the notification looks stuck: scheduled longer
// ago than the grace window and still not done. Stuck processing flags are
// recovered by the scheduler's skipped sweep.
func (n Notification) IsSkipped(now time.Time, grace time.Duration) bool {
	if n.Done || n.ScheduledProcessingTime == nil {
		return false
	}
	return n.ScheduledProcessingTime.Before(now.Add(-grace))
}

// DonationToken extracts the provider's donation token when present.
func (n Notification) DonationToken() string {
	if n.AdditionalData == nil {
		return ""
	}
	return n.AdditionalData["donationToken"]
}
