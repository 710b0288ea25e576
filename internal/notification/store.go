package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("notification: store unavailable")

// ListFilter narrows admin listings.
type ListFilter struct {
	EventCode string
	Done      *bool
	Limit     int
	Offset    int
}

// Store is the durable record of inbound webhook events. All time
// comparisons use the caller-supplied now so behavior stays testable.
type Store interface {
	Save(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (Notification, error)
	SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error
	SetDone(ctx context.Context, id uuid.UUID, done bool) error
	SetSchedule(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordError(ctx context.Context, id uuid.UUID, message string) error
	ListUnscheduled(ctx context.Context) ([]Notification, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	ListSkipped(ctx context.Context, now time.Time, grace time.Duration) ([]Notification, error)
	List(ctx context.Context, filter ListFilter) ([]Notification, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const notificationColumns = `id, pspreference, original_reference, merchant_reference, event_code, success,
payment_method, amount_value, amount_currency, reason, live, additional_data,
done, processing, scheduled_processing_time, error_count, error_message, created_at, updated_at`

// Save inserts the notification and fills in its generated identity and
// timestamps. Duplicate deliveries insert a fresh row on purpose;
// de-duplication happens logically during processing.
func (s *pgStore) Save(ctx context.Context, n *Notification) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	data, err := json.Marshal(n.AdditionalData)
	if err != nil {
		return err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_notifications
(pspreference, original_reference, merchant_reference, event_code, success,
 payment_method, amount_value, amount_currency, reason, live, additional_data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at, updated_at`,
		n.PSPReference, n.OriginalReference, n.MerchantReference, string(n.EventCode), n.Success,
		n.PaymentMethod, n.AmountValue, n.AmountCurrency, n.Reason, n.Live, data)
	return row.Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
}

// GetByID fetches a notification by id.
func (s *pgStore) GetByID(ctx context.Context, id uuid.UUID) (Notification, error) {
	if s == nil || s.pool == nil {
		return Notification{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM webhook_notifications WHERE id = $1`, id)
	return scanNotification(row)
}

// SetProcessing flips the advisory in-flight flag.
func (s *pgStore) SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error {
	return s.exec(ctx, `UPDATE webhook_notifications SET processing = $2, updated_at = now() WHERE id = $1`, id, processing)
}

// SetDone marks the notification terminal (or reopens it for a manual
// reprocess). Completion always clears the processing flag.
func (s *pgStore) SetDone(ctx context.Context, id uuid.UUID, done bool) error {
	return s.exec(ctx, `UPDATE webhook_notifications SET done = $2, processing = false, updated_at = now() WHERE id = $1`, id, done)
}

// SetSchedule assigns the scheduled processing time.
func (s *pgStore) SetSchedule(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.exec(ctx, `UPDATE webhook_notifications SET scheduled_processing_time = $2, updated_at = now() WHERE id = $1`, id, at)
}

// RecordError increments the error count and stores the latest message.
func (s *pgStore) RecordError(ctx context.Context, id uuid.UUID, message string) error {
	return s.exec(ctx, `UPDATE webhook_notifications
SET error_count = error_count + 1, error_message = $2, updated_at = now() WHERE id = $1`, id, message)
}

// ListUnscheduled returns notifications the scheduler has not yet touched.
func (s *pgStore) ListUnscheduled(ctx context.Context) ([]Notification, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+notificationColumns+` FROM webhook_notifications
WHERE done = false AND scheduled_processing_time IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// ListDue returns scheduled, not-done, not-processing notifications whose
// scheduled time has passed. Rows already marked processing are excluded so a
// concurrent dispatcher run will not pick them up.
func (s *pgStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	limit = clampPositive(limit, 100, 500)
	rows, err := s.pool.Query(ctx, `SELECT `+notificationColumns+` FROM webhook_notifications
WHERE done = false AND processing = false
  AND scheduled_processing_time IS NOT NULL AND scheduled_processing_time <= $1
ORDER BY scheduled_processing_time LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// ListSkipped returns stuck notifications: scheduled longer ago than the
// grace window and still not done, regardless of the processing flag.
func (s *pgStore) ListSkipped(ctx context.Context, now time.Time, grace time.Duration) ([]Notification, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	cutoff := now.Add(-grace)
	rows, err := s.pool.Query(ctx, `SELECT `+notificationColumns+` FROM webhook_notifications
WHERE done = false AND scheduled_processing_time IS NOT NULL AND scheduled_processing_time < $1
ORDER BY scheduled_processing_time`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// List returns notifications for the admin surface, newest first.
func (s *pgStore) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	query, args := buildListQuery(`SELECT `+notificationColumns+` FROM webhook_notifications`, filter, true)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// Count returns the number of notifications matching the filter.
func (s *pgStore) Count(ctx context.Context, filter ListFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	query, args := buildListQuery(`SELECT count(*) FROM webhook_notifications`, filter, false)
	var total int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *pgStore) exec(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func buildListQuery(prefix string, filter ListFilter, paginate bool) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if code := strings.TrimSpace(filter.EventCode); code != "" {
		args = append(args, strings.ToUpper(code))
		clauses = append(clauses, "event_code = $"+strconv.Itoa(len(args)))
	}
	if filter.Done != nil {
		args = append(args, *filter.Done)
		clauses = append(clauses, "done = $"+strconv.Itoa(len(args)))
	}
	query := prefix
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if paginate {
		limit := clampPositive(filter.Limit, 50, 200)
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, limit)
		query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))
		args = append(args, offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}
	return query, args
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n         Notification
		eventCode string
		data      []byte
		scheduled sql.NullTime
	)
	err := row.Scan(&n.ID, &n.PSPReference, &n.OriginalReference, &n.MerchantReference, &eventCode, &n.Success,
		&n.PaymentMethod, &n.AmountValue, &n.AmountCurrency, &n.Reason, &n.Live, &data,
		&n.Done, &n.Processing, &scheduled, &n.ErrorCount, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Notification{}, err
	}
	n.EventCode = EventCode(eventCode)
	if scheduled.Valid {
		t := scheduled.Time
		n.ScheduledProcessingTime = &t
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.AdditionalData); err != nil {
			return Notification{}, err
		}
	}
	return n, nil
}

func collectNotifications(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func clampPositive(value, def, max int) int {
	if value <= 0 {
		return def
	}
	if value > max {
		return max
	}
	return value
}

