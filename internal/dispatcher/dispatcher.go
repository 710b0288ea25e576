// Package dispatcher drives asynchronous webhook processing: it drains the
// due set of stored notifications, resolves each against the order it refers
// to, applies the event's state transition and side effects, and records the
// outcome back on the notification row.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seva-labs/paygate/internal/currency"
	"github.com/seva-labs/paygate/internal/notification"
	"github.com/seva-labs/paygate/internal/obs"
	"github.com/seva-labs/paygate/internal/order"
	"github.com/seva-labs/paygate/internal/processor"
	"github.com/seva-labs/paygate/internal/psp"
	"github.com/seva-labs/paygate/internal/settlement"
)

const (
	defaultBatchSize         = 100
	defaultMaxErrors         = 3
	defaultRetryDelay        = time.Minute
	defaultCaptureRetryDelay = 30 * time.Minute
)

// DonationClient forwards shopper donations to the provider.
type DonationClient interface {
	Donate(ctx context.Context, req psp.DonationRequest) (psp.ModificationResponse, error)
}

// Dispatcher processes due notifications one batch per Run call. Runs are
// single-threaded; cross-process exclusion is the caller's concern (the
// worker wraps Run in a distributed lock).
type Dispatcher struct {
	Store      notification.Store
	Orders     order.Repository
	Registry   *processor.Registry
	Settlement *settlement.Service
	Donations  DonationClient
	Logger     zerolog.Logger

	// BatchSize bounds how many due rows one pass picks up.
	BatchSize int
	// MaxErrors is the attempt ceiling; a notification that fails this many
	// times is closed with its last error message kept for the admin surface.
	MaxErrors int
	// RetryDelay spaces retries of recoverable failures.
	RetryDelay time.Duration
	// CaptureRetryDelay spaces capture retries; captures settle slowly on the
	// provider side, so hammering them every minute is pointless.
	CaptureRetryDelay time.Duration

	// Now is swappable in tests.
	Now func() time.Time
}

// terminalError marks failures that retrying cannot fix. The notification is
// closed on the first occurrence.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func terminal(format string, args ...any) error {
	return &terminalError{err: fmt.Errorf(format, args...)}
}

func isTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Run executes one dispatch pass. Failures are isolated per notification so
// one poisoned row cannot stall the rest of the batch.
func (d *Dispatcher) Run(ctx context.Context) error {
	now := d.now()
	due, err := d.Store.ListDue(ctx, now, d.batchSize())
	if err != nil {
		return fmt.Errorf("dispatcher: list due notifications: %w", err)
	}
	tracer := otel.Tracer("paygate/dispatcher")
	ctx, span := tracer.Start(ctx, "dispatcher.run",
		trace.WithAttributes(attribute.Int("notifications.due", len(due))))
	defer span.End()

	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.processOne(ctx, tracer, n)
	}
	return nil
}

func (d *Dispatcher) processOne(ctx context.Context, tracer trace.Tracer, n notification.Notification) {
	ctx, span := tracer.Start(ctx, "dispatcher.process", trace.WithAttributes(
		attribute.String("notification.id", n.ID.String()),
		attribute.String("notification.event_code", string(n.EventCode)),
		attribute.Bool("notification.success", n.Success),
	))
	defer span.End()

	log := d.Logger.With().
		Str("notification_id", n.ID.String()).
		Str("event_code", string(n.EventCode)).
		Str("pspreference", n.PSPReference).
		Str("merchant_reference", n.MerchantReference).
		Logger()

	if err := d.Store.SetProcessing(ctx, n.ID, true); err != nil {
		log.Error().Err(err).Msg("mark notification processing")
		return
	}

	started := d.now()
	result, err := d.process(ctx, log, n)
	d.observe(n.EventCode, result, d.now().Sub(started))

	switch {
	case err == nil:
		if err := d.Store.SetDone(ctx, n.ID, true); err != nil {
			log.Error().Err(err).Msg("mark notification done")
			return
		}
		log.Info().Str("result", result).Msg("notification processed")

	case isTerminal(err):
		// Retrying cannot help; keep the message and close the row.
		if recErr := d.Store.RecordError(ctx, n.ID, err.Error()); recErr != nil {
			log.Error().Err(recErr).Msg("record notification error")
		}
		if doneErr := d.Store.SetDone(ctx, n.ID, true); doneErr != nil {
			log.Error().Err(doneErr).Msg("mark notification done")
			return
		}
		log.Warn().Err(err).Msg("notification closed without processing")

	default:
		d.retry(ctx, log, n, err)
	}
}

// retry records the failure and either reschedules the notification or, once
// the attempt ceiling is reached, closes it for operator review.
func (d *Dispatcher) retry(ctx context.Context, log zerolog.Logger, n notification.Notification, cause error) {
	if err := d.Store.RecordError(ctx, n.ID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("record notification error")
	}
	attempts := n.ErrorCount + 1
	if attempts >= d.maxErrors() {
		if err := d.Store.SetDone(ctx, n.ID, true); err != nil {
			log.Error().Err(err).Msg("mark notification done")
			return
		}
		log.Error().Err(cause).Int("attempts", attempts).Msg("notification abandoned after repeated failures")
		return
	}

	next := d.now().Add(d.retryDelay(n.EventCode))
	if err := d.Store.SetSchedule(ctx, n.ID, next); err != nil {
		log.Error().Err(err).Msg("reschedule notification")
	}
	if err := d.Store.SetProcessing(ctx, n.ID, false); err != nil {
		log.Error().Err(err).Msg("clear notification processing flag")
	}
	if obs.NotificationsRescheduledTotal != nil {
		obs.NotificationsRescheduledTotal.WithLabelValues(string(n.EventCode)).Inc()
	}
	log.Warn().Err(cause).Time("next_attempt", next).Int("attempts", attempts).Msg("notification rescheduled")
}

// process resolves the notification against its order and applies the event.
// The returned result label feeds metrics; a nil error means the notification
// is finished.
func (d *Dispatcher) process(ctx context.Context, log zerolog.Logger, n notification.Notification) (string, error) {
	fn, known := d.Registry.Resolve(n.EventCode, n.Success)
	if !known {
		// Codes outside the table are acknowledged and dropped.
		log.Info().Msg("unrecognized event code, ignoring")
		return "ignored", nil
	}

	if n.EventCode == notification.EventDonation && n.Success {
		return d.processDonation(ctx, log, n)
	}

	ord, err := d.Orders.FindOrderByNumber(ctx, n.MerchantReference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "orphaned", terminal("no order for merchant reference %q", n.MerchantReference)
		}
		return "error", fmt.Errorf("find order %q: %w", n.MerchantReference, err)
	}
	tx, err := d.Orders.FindRelevantTransaction(ctx, ord.ID, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "orphaned", terminal("no relevant transaction for order %q", ord.Number)
		}
		return "error", fmt.Errorf("find transaction for order %q: %w", ord.Number, err)
	}
	current, err := order.MapTechnicalState(tx.TechnicalState)
	if err != nil {
		return "unmapped", terminal("transaction %s: %v", tx.ID, err)
	}

	in := processor.Input{
		CurrentState: current,
		AmountMinor:  n.AmountValue,
		TotalMinor:   currency.MinorUnits(tx.Amount, tx.Currency),
	}
	if n.EventCode == notification.EventRefund {
		refunded, err := d.Settlement.TotalRefunded(ctx, tx)
		if err != nil {
			return "error", fmt.Errorf("refund total for transaction %s: %w", tx.ID, err)
		}
		in.RefundedMinor = refunded
	}

	out := fn(in)
	if out.Anomaly != "" {
		// Data-consistency warning, not a failure: the notification is
		// accepted but nothing changes.
		log.Warn().
			Str("transaction_id", tx.ID.String()).
			Str("current_state", string(current)).
			Int64("amount_value", n.AmountValue).
			Msg(out.Anomaly)
		return "anomaly", nil
	}

	if out.Transition {
		if err := d.transition(ctx, log, n, tx, current, out.Target); err != nil {
			return "error", err
		}
	}

	if err := d.sideEffects(ctx, n, tx); err != nil {
		return "error", err
	}
	if out.Transition {
		return "transitioned", nil
	}
	return "noop", nil
}

// transition applies the target state, forcing a paid detour for refunds of
// transactions the platform never marked paid (captured out of band).
func (d *Dispatcher) transition(ctx context.Context, log zerolog.Logger, n notification.Notification, tx order.Transaction, from, to order.PaymentState) error {
	if err := order.ValidateTransition(from, to); err != nil {
		if n.EventCode != notification.EventRefund || !order.CanTransition(from, order.StatePaid) {
			return err
		}
		if err := d.apply(ctx, tx, from, order.StatePaid); err != nil {
			return err
		}
		log.Info().
			Str("transaction_id", tx.ID.String()).
			Str("from", string(from)).
			Msg("transaction forced to paid before refund")
		from = order.StatePaid
		if err := order.ValidateTransition(from, to); err != nil {
			return err
		}
	}
	return d.apply(ctx, tx, from, to)
}

func (d *Dispatcher) apply(ctx context.Context, tx order.Transaction, from, to order.PaymentState) error {
	if err := d.Orders.UpdateTransactionState(ctx, tx.ID, order.TechnicalState(to)); err != nil {
		return fmt.Errorf("update transaction %s to %s: %w", tx.ID, to, err)
	}
	if obs.StateTransitionsTotal != nil {
		obs.StateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	return nil
}

// sideEffects runs the event's settlement work after the state change is in
// place, so a failed side effect retries against an already-consistent state.
func (d *Dispatcher) sideEffects(ctx context.Context, n notification.Notification, tx order.Transaction) error {
	if !n.Success {
		return nil
	}
	switch n.EventCode {
	case notification.EventAuthorisation:
		return d.Settlement.OnAuthorisation(ctx, n, tx)
	case notification.EventCapture:
		return d.Settlement.OnCapture(ctx, n, tx)
	case notification.EventRefund:
		return d.Settlement.OnRefund(ctx, n, tx)
	}
	return nil
}

// processDonation forwards the shopper's donation token to the provider. A
// missing token is terminal; there is nothing to retry against.
func (d *Dispatcher) processDonation(ctx context.Context, log zerolog.Logger, n notification.Notification) (string, error) {
	token := n.DonationToken()
	if token == "" {
		return "orphaned", terminal("donation notification %s carries no token", n.PSPReference)
	}
	if d.Donations == nil {
		log.Info().Msg("donations not configured, ignoring")
		return "ignored", nil
	}
	resp, err := d.Donations.Donate(ctx, psp.DonationRequest{
		DonationToken: token,
		PaymentMethod: n.PaymentMethod,
		Amount:        psp.Amount{Value: n.AmountValue, Currency: n.AmountCurrency},
	})
	if err != nil {
		return "error", fmt.Errorf("forward donation %s: %w", n.PSPReference, err)
	}
	log.Info().Str("donation_pspreference", resp.PSPReference).Msg("donation forwarded")
	return "donated", nil
}

func (d *Dispatcher) observe(code notification.EventCode, result string, elapsed time.Duration) {
	if obs.NotificationsProcessedTotal != nil {
		obs.NotificationsProcessedTotal.WithLabelValues(string(code), result).Inc()
	}
	if obs.NotificationProcessingLatency != nil {
		obs.NotificationProcessingLatency.WithLabelValues(string(code)).Observe(obs.DurationMillis(elapsed))
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return defaultBatchSize
}

func (d *Dispatcher) maxErrors() int {
	if d.MaxErrors > 0 {
		return d.MaxErrors
	}
	return defaultMaxErrors
}

func (d *Dispatcher) retryDelay(code notification.EventCode) time.Duration {
	if code == notification.EventCapture {
		if d.CaptureRetryDelay > 0 {
			return d.CaptureRetryDelay
		}
		return defaultCaptureRetryDelay
	}
	if d.RetryDelay > 0 {
		return d.RetryDelay
	}
	return defaultRetryDelay
}
