package notification_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seva-labs/paygate/internal/notification"
)

// memStore is an in-memory Store honoring the same predicates as the SQL
// queries.
type memStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*notification.Notification
	fail  map[uuid.UUID]error
	order []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		rows: make(map[uuid.UUID]*notification.Notification),
		fail: make(map[uuid.UUID]error),
	}
}

func (m *memStore) add(n notification.Notification) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	copied := n
	m.rows[n.ID] = &copied
	m.order = append(m.order, n.ID)
	return n.ID
}

func (m *memStore) failWith(id uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[id] = err
}

func (m *memStore) get(id uuid.UUID) notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memStore) Save(_ context.Context, n *notification.Notification) error {
	m.add(*n)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return notification.Notification{}, errors.New("not found")
	}
	return *row, nil
}

func (m *memStore) SetProcessing(_ context.Context, id uuid.UUID, processing bool) error {
	return m.update(id, func(n *notification.Notification) { n.Processing = processing })
}

func (m *memStore) SetDone(_ context.Context, id uuid.UUID, done bool) error {
	return m.update(id, func(n *notification.Notification) {
		n.Done = done
		n.Processing = false
	})
}

func (m *memStore) SetSchedule(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(n *notification.Notification) { n.ScheduledProcessingTime = &at })
}

func (m *memStore) RecordError(_ context.Context, id uuid.UUID, message string) error {
	return m.update(id, func(n *notification.Notification) {
		n.ErrorCount++
		n.ErrorMessage = message
	})
}

func (m *memStore) ListUnscheduled(context.Context) ([]notification.Notification, error) {
	return m.filter(func(n notification.Notification) bool {
		return !n.Done && n.ScheduledProcessingTime == nil
	}), nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]notification.Notification, error) {
	due := m.filter(func(n notification.Notification) bool { return n.IsDue(now) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ListSkipped(_ context.Context, now time.Time, grace time.Duration) ([]notification.Notification, error) {
	return m.filter(func(n notification.Notification) bool { return n.IsSkipped(now, grace) }), nil
}

func (m *memStore) List(_ context.Context, filter notification.ListFilter) ([]notification.Notification, error) {
	all := m.filter(func(n notification.Notification) bool {
		if filter.EventCode != "" && string(n.EventCode) != filter.EventCode {
			return false
		}
		if filter.Done != nil && n.Done != *filter.Done {
			return false
		}
		return true
	})
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (m *memStore) Count(ctx context.Context, filter notification.ListFilter) (int64, error) {
	all, err := m.List(ctx, notification.ListFilter{EventCode: filter.EventCode, Done: filter.Done})
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

func (m *memStore) update(id uuid.UUID, fn func(*notification.Notification)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[id]; ok {
		return err
	}
	row, ok := m.rows[id]
	if !ok {
		return errors.New("not found")
	}
	fn(row)
	row.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) filter(pred func(notification.Notification) bool) []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notification.Notification
	for _, id := range m.order {
		if row, ok := m.rows[id]; ok && pred(*row) {
			out = append(out, *row)
		}
	}
	return out
}
