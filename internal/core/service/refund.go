package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundService struct {
	repo   ports.PaymentRepository
	notify *customerNotifier
	logger *slog.Logger
	now    func() time.Time
}

func NewRefundService(repo ports.PaymentRepository, notifier ports.Notifier, logger *slog.Logger) *RefundService {
	return &RefundService{
		repo:   repo,
		notify: newCustomerNotifier(repo, notifier, logger),
		logger: logger,
		now:    time.Now,
	}
}

type CreateRefundCommand struct {
	PaymentID   uuid.UUID
	Amount      decimal.Decimal
	Reason      string
	ProcessedBy string
}

// CreateRefund records money returned against a completed or verified
// payment. The payment row is locked while the running total is checked, so
// concurrent refunds can never exceed the payment amount. The payment's own
// status is left unchanged.
func (r *RefundService) CreateRefund(ctx context.Context, cmd CreateRefundCommand) (*domain.Refund, *domain.RefundSummary, error) {
	now := r.now()

	var (
		payment *domain.Payment
		refund  *domain.Refund
		summary *domain.RefundSummary
	)
	err := r.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		p, err := txRepo.FindByIDForUpdate(ctx, cmd.PaymentID)
		if err != nil {
			return err
		}
		refunded, err := txRepo.SumRefunds(ctx, p.ID)
		if err != nil {
			return err
		}

		refund, err = domain.NewRefund(p, refunded, cmd.Amount, strings.TrimSpace(cmd.Reason), cmd.ProcessedBy, now)
		if err != nil {
			return err
		}
		if err := txRepo.CreateRefund(ctx, refund); err != nil {
			return err
		}

		total := refunded.Add(refund.Amount)
		event, err := domain.NewEvent(domain.EventRefundCreated, p.TenantID, "payment", p.ID.String(), domain.RefundEventData{
			RefundID:       refund.ID.String(),
			PaymentID:      p.ID.String(),
			Amount:         refund.Amount.StringFixed(2),
			RefundedAmount: total.StringFixed(2),
			Reason:         refund.Reason,
			ProcessedBy:    refund.ProcessedBy,
		}, now)
		if err != nil {
			return err
		}
		if err := txRepo.EnqueueEvent(ctx, event); err != nil {
			return err
		}

		payment = p
		summary = domain.NewRefundSummary(p, total)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("refund recorded",
		"refund_id", refund.ID,
		"payment_id", payment.ID,
		"amount", refund.Amount.StringFixed(2),
		"refundable", summary.Refundable.StringFixed(2),
	)
	r.notify.refundCreated(ctx, payment, refund)
	return refund, summary, nil
}

func (r *RefundService) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, *domain.RefundSummary, error) {
	p, err := r.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	refunds, err := r.repo.FindRefunds(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	refunded := decimal.Zero
	for _, rf := range refunds {
		refunded = refunded.Add(rf.Amount)
	}
	return refunds, domain.NewRefundSummary(p, refunded), nil
}
