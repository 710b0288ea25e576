package order

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrRepoUnavailable indicates the repository dependency is not configured.
var ErrRepoUnavailable = errors.New("order: repository unavailable")

// Repository exposes the query shapes the webhook module actually needs.
type Repository interface {
	FindOrderByNumber(ctx context.Context, number string) (Order, error)
	FindRelevantTransaction(ctx context.Context, orderID uuid.UUID, states []string) (Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	UpdateTransactionState(ctx context.Context, id uuid.UUID, technicalState string) error
}

// NewRepository constructs a Repository backed by a pgx connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool}
}

type pgRepo struct {
	pool *pgxpool.Pool
}

// FindOrderByNumber loads an order by its merchant-facing order number.
func (r *pgRepo) FindOrderByNumber(ctx context.Context, number string) (Order, error) {
	if r == nil || r.pool == nil {
		return Order{}, ErrRepoUnavailable
	}
	row := r.pool.QueryRow(ctx, `SELECT id, order_number, currency_code, created_at
FROM orders WHERE order_number = $1`, strings.TrimSpace(number))
	var o Order
	if err := row.Scan(&o.ID, &o.Number, &o.CurrencyCode, &o.CreatedAt); err != nil {
		return Order{}, err
	}
	return o, nil
}

// FindRelevantTransaction returns the newest transaction for the order whose
// technical state is in the provided allow-list.
func (r *pgRepo) FindRelevantTransaction(ctx context.Context, orderID uuid.UUID, states []string) (Transaction, error) {
	if r == nil || r.pool == nil {
		return Transaction{}, ErrRepoUnavailable
	}
	if len(states) == 0 {
		states = RelevantTechnicalStates
	}
	row := r.pool.QueryRow(ctx, `SELECT id, order_id, payment_method, state, amount, currency, updated_at
FROM order_transactions WHERE order_id = $1 AND state = ANY($2)
ORDER BY created_at DESC LIMIT 1`, orderID, states)
	return scanTransaction(row)
}

// GetTransaction fetches a transaction by id.
func (r *pgRepo) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	if r == nil || r.pool == nil {
		return Transaction{}, ErrRepoUnavailable
	}
	row := r.pool.QueryRow(ctx, `SELECT id, order_id, payment_method, state, amount, currency, updated_at
FROM order_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// UpdateTransactionState persists a new technical state for the transaction.
func (r *pgRepo) UpdateTransactionState(ctx context.Context, id uuid.UUID, technicalState string) error {
	if r == nil || r.pool == nil {
		return ErrRepoUnavailable
	}
	tag, err := r.pool.Exec(ctx, `UPDATE order_transactions SET state = $2, updated_at = now() WHERE id = $1`,
		id, technicalState)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx     Transaction
		amount string
	)
	if err := row.Scan(&tx.ID, &tx.OrderID, &tx.PaymentMethod, &tx.TechnicalState, &amount, &tx.Currency, &tx.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, err
	}
	tx.Amount = parsed
	return tx, nil
}
