package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the platform's record an inbound notification correlates to via
// its merchant reference (the order number).
type Order struct {
	ID           uuid.UUID
	Number       string
	CurrencyCode string
	CreatedAt    time.Time
}

// Transaction is a single payment attempt against an order. TechnicalState
// holds the platform's raw state label; use MapTechnicalState to obtain the
// webhook-module vocabulary.
type Transaction struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	PaymentMethod  string
	TechnicalState string
	Amount         decimal.Decimal
	Currency       string
	UpdatedAt      time.Time
}

// PaymentState is the internal webhook-module state vocabulary.
type PaymentState string

const (
	StateOpen              PaymentState = "open"
	StateInProgress        PaymentState = "in_progress"
	StateAuthorized        PaymentState = "authorized"
	StatePaid              PaymentState = "paid"
	StatePartiallyPaid     PaymentState = "partially_paid"
	StateFailed            PaymentState = "failed"
	StateRefunded          PaymentState = "refunded"
	StatePartiallyRefunded PaymentState = "partially_refunded"
	StateCancelled         PaymentState = "cancelled"
)

// RelevantTechnicalStates is the allow-list of transaction states considered
// webhook-relevant. Transactions outside this set (e.g. already failed or
// cancelled) are never selected for processing.
var RelevantTechnicalStates = []string{
	"open",
	"in_progress",
	"authorized",
	"paid",
	"partly_paid",
	"refunded",
	"refunded_partially",
}
