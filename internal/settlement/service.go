package settlement

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/seva-labs/paygate/internal/notification"
	"github.com/seva-labs/paygate/internal/order"
	"github.com/seva-labs/paygate/internal/psp"
)

// CaptureClient is the slice of the PSP client the service needs.
type CaptureClient interface {
	Capture(ctx context.Context, req psp.ModificationRequest) (psp.ModificationResponse, error)
}

// Service applies event-specific side effects during webhook processing.
type Service struct {
	Repo   Repository
	PSP    CaptureClient
	Logger zerolog.Logger
	// ManualCaptureMethods lists payment methods whose authorisations must
	// be captured explicitly through the provider API.
	ManualCaptureMethods map[string]bool
}

// OnCapture reconciles capture bookkeeping for a confirmed CAPTURE event.
// The (transaction, pspReference) key makes duplicate deliveries converge on
// the same row.
func (s *Service) OnCapture(ctx context.Context, n notification.Notification, tx order.Transaction) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	err := s.Repo.RecordCapture(ctx, CaptureRecord{
		TransactionID: tx.ID,
		PSPReference:  n.PSPReference,
		AmountValue:   n.AmountValue,
		Currency:      n.AmountCurrency,
	})
	if err != nil {
		return &psp.CaptureError{PSPReference: n.PSPReference, Err: err}
	}
	s.Logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("pspreference", n.PSPReference).
		Int64("amount_value", n.AmountValue).
		Msg("capture recorded")
	return nil
}

// OnAuthorisation triggers an explicit capture for payment methods that do
// not capture automatically. Capture failures surface as CaptureError so the
// dispatcher reschedules instead of abandoning the notification.
func (s *Service) OnAuthorisation(ctx context.Context, n notification.Notification, tx order.Transaction) error {
	if s == nil || s.PSP == nil {
		return nil
	}
	if !s.ManualCaptureMethods[tx.PaymentMethod] {
		return nil
	}
	resp, err := s.PSP.Capture(ctx, psp.ModificationRequest{
		OriginalReference: n.PSPReference,
		Reference:         n.MerchantReference,
		Amount:            psp.Amount{Value: n.AmountValue, Currency: n.AmountCurrency},
	})
	if err != nil {
		return err
	}
	s.Logger.Info().
		Str("transaction_id", tx.ID.String()).
		Str("pspreference", resp.PSPReference).
		Str("payment_method", tx.PaymentMethod).
		Msg("manual capture requested")
	return nil
}

// OnRefund records refund bookkeeping once the processor accepted the
// refund notification.
func (s *Service) OnRefund(ctx context.Context, n notification.Notification, tx order.Transaction) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	return s.Repo.RecordRefund(ctx, RefundRecord{
		TransactionID: tx.ID,
		PSPReference:  n.PSPReference,
		AmountValue:   n.AmountValue,
		Currency:      n.AmountCurrency,
	})
}

// TotalRefunded exposes the refund bookkeeping sum for the dispatcher.
func (s *Service) TotalRefunded(ctx context.Context, tx order.Transaction) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	return s.Repo.TotalRefunded(ctx, tx.ID)
}
