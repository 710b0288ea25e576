package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/seva-labs/paygate/internal/notification"
)

func newScheduler(store notification.Store, now time.Time) *notification.Scheduler {
	return &notification.Scheduler{
		Store:          store,
		Logger:         zerolog.Nop(),
		ProcessDelay:   5 * time.Second,
		SkippedGrace:   24 * time.Hour,
		SkippedBackoff: time.Hour,
		Now:            func() time.Time { return now },
	}
}

func TestSchedulerAssignsProcessingTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	id := store.add(notification.Notification{
		EventCode: notification.EventAuthorisation,
		CreatedAt: now.Add(-time.Second),
	})

	require.NoError(t, newScheduler(store, now).Run(context.Background()))

	got := store.get(id)
	require.NotNil(t, got.ScheduledProcessingTime)
	require.Equal(t, got.CreatedAt.Add(5*time.Second), *got.ScheduledProcessingTime)
}

func TestSchedulerRecoversSkippedNotification(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-25 * time.Hour)
	store := newMemStore()
	id := store.add(notification.Notification{
		EventCode:               notification.EventCapture,
		CreatedAt:               stale,
		Processing:              true,
		ScheduledProcessingTime: &stale,
	})

	require.NoError(t, newScheduler(store, now).Run(context.Background()))

	got := store.get(id)
	require.False(t, got.Processing, "stuck processing flag must be released")
	require.NotNil(t, got.ScheduledProcessingTime)
	require.Equal(t, now.Add(time.Hour), *got.ScheduledProcessingTime)
}

func TestSchedulerLeavesRecentNotificationsAlone(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	store := newMemStore()
	id := store.add(notification.Notification{
		EventCode:               notification.EventRefund,
		CreatedAt:               recent,
		ScheduledProcessingTime: &recent,
	})

	require.NoError(t, newScheduler(store, now).Run(context.Background()))

	got := store.get(id)
	require.Equal(t, recent, *got.ScheduledProcessingTime, "inside the grace window nothing changes")
}

func TestSchedulerIsolatesPerNotificationFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	broken := store.add(notification.Notification{EventCode: notification.EventAuthorisation, CreatedAt: now})
	healthy := store.add(notification.Notification{EventCode: notification.EventAuthorisation, CreatedAt: now})
	store.failWith(broken, errors.New("constraint violation"))

	require.NoError(t, newScheduler(store, now).Run(context.Background()))

	require.Nil(t, store.get(broken).ScheduledProcessingTime)
	require.NotNil(t, store.get(healthy).ScheduledProcessingTime, "one failure must not block the rest")
}

func TestDueSetExcludesProcessingRows(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	store := newMemStore()
	inFlight := store.add(notification.Notification{
		EventCode:               notification.EventAuthorisation,
		Processing:              true,
		ScheduledProcessingTime: &past,
	})
	idle := store.add(notification.Notification{
		EventCode:               notification.EventAuthorisation,
		ScheduledProcessingTime: &past,
	})

	due, err := store.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, idle, due[0].ID)
	require.NotEqual(t, inFlight, due[0].ID)
}

func TestIsDuePredicates(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	require.True(t, notification.Notification{ScheduledProcessingTime: &past}.IsDue(now))
	require.False(t, notification.Notification{ScheduledProcessingTime: &future}.IsDue(now))
	require.False(t, notification.Notification{ScheduledProcessingTime: &past, Processing: true}.IsDue(now))
	require.False(t, notification.Notification{ScheduledProcessingTime: &past, Done: true}.IsDue(now))
	require.False(t, notification.Notification{}.IsDue(now))

	old := now.Add(-25 * time.Hour)
	require.True(t, notification.Notification{ScheduledProcessingTime: &old}.IsSkipped(now, 24*time.Hour))
	require.False(t, notification.Notification{ScheduledProcessingTime: &past}.IsSkipped(now, 24*time.Hour))
	require.False(t, notification.Notification{ScheduledProcessingTime: &old, Done: true}.IsSkipped(now, 24*time.Hour))
}
