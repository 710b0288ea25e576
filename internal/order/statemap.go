package order

import (
	"errors"
	"strings"
)

// ErrUnmappedState indicates the transaction's platform state has no
// counterpart in the webhook-module vocabulary.
var ErrUnmappedState = errors.New("order: transaction state has no webhook mapping")

// MapTechnicalState converts the platform's transaction state label into the
// internal webhook-module vocabulary.
func MapTechnicalState(technical string) (PaymentState, error) {
	switch strings.ToLower(strings.TrimSpace(technical)) {
	case "open":
		return StateOpen, nil
	case "in_progress":
		return StateInProgress, nil
	case "authorized":
		return StateAuthorized, nil
	case "paid":
		return StatePaid, nil
	case "partly_paid":
		return StatePartiallyPaid, nil
	case "failed":
		return StateFailed, nil
	case "refunded":
		return StateRefunded, nil
	case "refunded_partially":
		return StatePartiallyRefunded, nil
	case "cancelled":
		return StateCancelled, nil
	}
	return "", ErrUnmappedState
}

// TechnicalState converts an internal payment state back into the platform's
// transaction state label.
func TechnicalState(state PaymentState) string {
	switch state {
	case StatePartiallyPaid:
		return "partly_paid"
	case StatePartiallyRefunded:
		return "refunded_partially"
	default:
		return string(state)
	}
}
