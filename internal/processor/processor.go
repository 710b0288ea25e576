// Package processor maps PSP event codes to order-transaction state
// transitions. Everything here is pure: no persistence, no I/O, just the
// lookup table and the transition rules.
package processor

import (
	"github.com/seva-labs/paygate/internal/notification"
	"github.com/seva-labs/paygate/internal/order"
)

// Input carries the state a processor needs to decide a transition. Amounts
// are minor-unit integers; RefundedMinor is the total already recorded for
// the transaction before this notification.
type Input struct {
	CurrentState  order.PaymentState
	AmountMinor   int64
	TotalMinor    int64
	RefundedMinor int64
}

// Outcome is the result of a processor decision. Transition=false means the
// notification requires no state change in the current pass. Anomaly carries
// an operator-facing warning for data-consistency signals that are neither a
// transition nor an error.
type Outcome struct {
	Target     order.PaymentState
	Transition bool
	Anomaly    string
}

// Func decides the transition for one (eventCode, success) combination.
type Func func(Input) Outcome

type entry struct {
	onSuccess Func
	onFailure Func
}

// Registry resolves event codes to their transition logic.
type Registry struct {
	handlers map[notification.EventCode]entry
}

// NewRegistry builds the registry with the full event-code table.
func NewRegistry() *Registry {
	return &Registry{handlers: map[notification.EventCode]entry{
		notification.EventAuthorisation: {
			onSuccess: authorisationSucceeded,
			onFailure: authorisationFailed,
		},
		notification.EventCapture: {
			onSuccess: captureSucceeded,
		},
		notification.EventCancellation: {
			onSuccess: cancellationSucceeded,
		},
		notification.EventOfferClosed: {
			onSuccess: offerClosed,
		},
		notification.EventRefund: {
			onSuccess: refundSucceeded,
		},
		// Informational codes: accepted, no transition.
		notification.EventCaptureFailed: {},
		notification.EventRefundFailed:  {},
		notification.EventDonation:      {},
	}}
}

// Resolve returns the transition logic for the event. The second result
// reports whether the event code is known at all; unknown codes resolve to a
// no-op, which is not an error.
func (r *Registry) Resolve(code notification.EventCode, success bool) (Func, bool) {
	e, known := r.handlers[code]
	fn := e.onSuccess
	if !success {
		fn = e.onFailure
	}
	if fn == nil {
		fn = noop
	}
	return fn, known
}

func noop(Input) Outcome { return Outcome{} }

// A successful authorisation marks the transaction paid unless it already is.
func authorisationSucceeded(in Input) Outcome {
	if in.CurrentState == order.StatePaid {
		return Outcome{}
	}
	return Outcome{Target: order.StatePaid, Transition: true}
}

// A failed authorisation only fails transactions still in progress; anything
// further along keeps its state.
func authorisationFailed(in Input) Outcome {
	if in.CurrentState != order.StateInProgress {
		return Outcome{}
	}
	return Outcome{Target: order.StateFailed, Transition: true}
}

// The shopper abandoned the hosted payment page.
func offerClosed(in Input) Outcome {
	if in.CurrentState != order.StateInProgress {
		return Outcome{}
	}
	return Outcome{Target: order.StateFailed, Transition: true}
}

func captureSucceeded(in Input) Outcome {
	if in.CurrentState == order.StatePaid {
		return Outcome{}
	}
	return Outcome{Target: order.StatePaid, Transition: true}
}

func cancellationSucceeded(in Input) Outcome {
	switch in.CurrentState {
	case order.StateCancelled, order.StateRefunded:
		return Outcome{}
	}
	return Outcome{Target: order.StateCancelled, Transition: true}
}
