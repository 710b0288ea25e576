package order

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a requested state change is not
// permitted from the transaction's current state.
var ErrIllegalTransition = errors.New("order: illegal transaction state transition")

// legalTransitions enumerates the permitted state changes. Anything absent is
// rejected, not silently applied. Refund states are only reachable from paid
// (or partly paid) transactions, which is what forces the dispatcher's
// force-to-paid retry on refunds of merely authorized transactions.
var legalTransitions = map[PaymentState][]PaymentState{
	StateOpen:              {StateInProgress, StateAuthorized, StatePaid, StatePartiallyPaid, StateFailed, StateCancelled},
	StateInProgress:        {StateAuthorized, StatePaid, StatePartiallyPaid, StateFailed, StateCancelled},
	StateAuthorized:        {StatePaid, StatePartiallyPaid, StateFailed, StateCancelled},
	StatePartiallyPaid:     {StatePaid, StateFailed, StateCancelled},
	StatePaid:              {StateRefunded, StatePartiallyRefunded, StateCancelled},
	StatePartiallyRefunded: {StateRefunded},
	StateFailed:            {StateInProgress, StatePaid},
	StateRefunded:          {},
	StateCancelled:         {},
}

// CanTransition reports whether moving from one payment state to another is
// legal.
func CanTransition(from, to PaymentState) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition (wrapped with both states)
// when the requested change is not permitted.
func ValidateTransition(from, to PaymentState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
