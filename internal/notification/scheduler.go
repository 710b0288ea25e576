package notification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler assigns processing times to fresh notifications and recovers
// skipped ones. It runs as an independent periodic batch job; the short
// delay on new rows lets related notifications for the same transaction
// arrive before processing starts.
type Scheduler struct {
	Store          Store
	Logger         zerolog.Logger
	ProcessDelay   time.Duration
	SkippedGrace   time.Duration
	SkippedBackoff time.Duration
	Now            func() time.Time
}

// Run executes one scheduling pass. Per-notification failures are logged and
// never abort the rest of the pass.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.Store == nil {
		return errors.New("notification: scheduler store not configured")
	}
	now := s.now()

	unscheduled, err := s.Store.ListUnscheduled(ctx)
	if err != nil {
		return err
	}
	for _, n := range unscheduled {
		at := n.CreatedAt.Add(s.processDelay())
		if err := s.Store.SetSchedule(ctx, n.ID, at); err != nil {
			s.Logger.Error().Err(err).
				Str("notification_id", n.ID.String()).
				Str("event_code", string(n.EventCode)).
				Msg("schedule notification")
			continue
		}
		s.Logger.Debug().
			Str("notification_id", n.ID.String()).
			Time("scheduled_at", at).
			Msg("notification scheduled")
	}

	skipped, err := s.Store.ListSkipped(ctx, now, s.skippedGrace())
	if err != nil {
		return err
	}
	for _, n := range skipped {
		if n.Processing {
			// A previous run crashed or timed out mid-flight; release the
			// advisory lock before rescheduling.
			if err := s.Store.SetProcessing(ctx, n.ID, false); err != nil {
				s.Logger.Error().Err(err).
					Str("notification_id", n.ID.String()).
					Msg("reset stuck notification")
				continue
			}
		}
		at := now.Add(s.skippedBackoff())
		if err := s.Store.SetSchedule(ctx, n.ID, at); err != nil {
			s.Logger.Error().Err(err).
				Str("notification_id", n.ID.String()).
				Msg("reschedule skipped notification")
			continue
		}
		s.Logger.Warn().
			Str("notification_id", n.ID.String()).
			Str("event_code", string(n.EventCode)).
			Int("error_count", n.ErrorCount).
			Time("scheduled_at", at).
			Msg("skipped notification rescheduled")
	}
	return nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) processDelay() time.Duration {
	if s.ProcessDelay <= 0 {
		return 5 * time.Second
	}
	return s.ProcessDelay
}

func (s *Scheduler) skippedGrace() time.Duration {
	if s.SkippedGrace <= 0 {
		return 24 * time.Hour
	}
	return s.SkippedGrace
}

func (s *Scheduler) skippedBackoff() time.Duration {
	if s.SkippedBackoff <= 0 {
		return time.Hour
	}
	return s.SkippedBackoff
}
