// Package settlement keeps the capture and refund bookkeeping that backs
// webhook processing: which captures the provider confirmed and how much of
// a transaction has already been refunded.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRepoUnavailable indicates the repository dependency is not configured.
var ErrRepoUnavailable = errors.New("settlement: repository unavailable")

// CaptureRecord is one confirmed capture against a transaction.
type CaptureRecord struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	PSPReference  string
	AmountValue   int64
	Currency      string
	CreatedAt     time.Time
}

// RefundRecord is one confirmed refund against a transaction.
type RefundRecord struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	PSPReference  string
	AmountValue   int64
	Currency      string
	CreatedAt     time.Time
}

// Repository persists settlement bookkeeping. Records are keyed by
// (transaction, pspReference) so a duplicate delivery of the same provider
// event reconciles to the existing row instead of double-counting.
type Repository interface {
	RecordCapture(ctx context.Context, rec CaptureRecord) error
	RecordRefund(ctx context.Context, rec RefundRecord) error
	TotalRefunded(ctx context.Context, transactionID uuid.UUID) (int64, error)
	TotalCaptured(ctx context.Context, transactionID uuid.UUID) (int64, error)
}

// NewRepository constructs a Repository backed by a pgx connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool}
}

type pgRepo struct {
	pool *pgxpool.Pool
}

// RecordCapture inserts a capture row, ignoring duplicates of the same
// provider reference.
func (r *pgRepo) RecordCapture(ctx context.Context, rec CaptureRecord) error {
	if r == nil || r.pool == nil {
		return ErrRepoUnavailable
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO transaction_captures (transaction_id, pspreference, amount_value, currency)
VALUES ($1, $2, $3, $4)
ON CONFLICT (transaction_id, pspreference) DO NOTHING`,
		rec.TransactionID, rec.PSPReference, rec.AmountValue, rec.Currency)
	return err
}

// RecordRefund inserts a refund row, ignoring duplicates of the same
// provider reference.
func (r *pgRepo) RecordRefund(ctx context.Context, rec RefundRecord) error {
	if r == nil || r.pool == nil {
		return ErrRepoUnavailable
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO transaction_refunds (transaction_id, pspreference, amount_value, currency)
VALUES ($1, $2, $3, $4)
ON CONFLICT (transaction_id, pspreference) DO NOTHING`,
		rec.TransactionID, rec.PSPReference, rec.AmountValue, rec.Currency)
	return err
}

// TotalRefunded returns the minor-unit sum of recorded refunds.
func (r *pgRepo) TotalRefunded(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	return r.total(ctx, `SELECT coalesce(sum(amount_value), 0) FROM transaction_refunds WHERE transaction_id = $1`, transactionID)
}

// TotalCaptured returns the minor-unit sum of recorded captures.
func (r *pgRepo) TotalCaptured(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	return r.total(ctx, `SELECT coalesce(sum(amount_value), 0) FROM transaction_captures WHERE transaction_id = $1`, transactionID)
}

func (r *pgRepo) total(ctx context.Context, query string, transactionID uuid.UUID) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, ErrRepoUnavailable
	}
	var total int64
	if err := r.pool.QueryRow(ctx, query, transactionID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
