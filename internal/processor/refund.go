package processor

import "github.com/seva-labs/paygate/internal/order"

// refundSucceeded compares the cumulative refunded amount against the
// transaction total, both in minor units. An overdraw is an anomaly to
// surface, never a transition; a partially refunded transaction can still be
// promoted to fully refunded.
func refundSucceeded(in Input) Outcome {
	cumulative := in.RefundedMinor + in.AmountMinor
	if cumulative > in.TotalMinor {
		return Outcome{Anomaly: "refunded amount exceeds transaction total"}
	}

	target := order.StatePartiallyRefunded
	if cumulative == in.TotalMinor {
		target = order.StateRefunded
	}

	if in.CurrentState == order.StateRefunded || in.CurrentState == target {
		return Outcome{}
	}
	return Outcome{Target: target, Transition: true}
}
