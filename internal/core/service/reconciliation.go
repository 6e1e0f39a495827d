package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/metrics"
	"github.com/google/uuid"
)

// ReconciliationService derives an order's payment fields from its settled
// payments.
type ReconciliationService struct {
	repo   ports.PaymentRepository
	notify *customerNotifier
	logger *slog.Logger
	now    func() time.Time
}

func NewReconciliationService(repo ports.PaymentRepository, notifier ports.Notifier, logger *slog.Logger) *ReconciliationService {
	return &ReconciliationService{
		repo:   repo,
		notify: newCustomerNotifier(repo, notifier, logger),
		logger: logger,
		now:    time.Now,
	}
}

// ReconcileOrder recomputes the order's status, method and date under a row
// lock and writes only those fields. The order.paid event is enqueued in the
// same transaction, and only when the status moves into paid, so repeated
// reconciliation never repeats it.
func (s *ReconciliationService) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*domain.Settlement, error) {
	var (
		settlement *domain.Settlement
		order      *domain.Order
		becamePaid bool
	)

	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		o, err := txRepo.FindOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		payments, err := txRepo.FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		settlement = domain.ComputeSettlement(o, payments)
		order = o
		if !settlement.Changed(o) {
			return nil
		}

		if err := txRepo.UpdateOrderPayment(ctx, orderID, settlement); err != nil {
			return err
		}

		if settlement.BecamePaid(o.PaymentStatus) {
			event, err := domain.NewEvent(domain.EventOrderPaid, o.TenantID, "order", o.ID.String(), domain.OrderPaidData{
				OrderID:       o.ID.String(),
				CustomerID:    o.CustomerID,
				TotalAmount:   o.TotalAmount.StringFixed(2),
				TotalPaid:     settlement.TotalPaid.StringFixed(2),
				PaymentMethod: settlement.PaymentMethod,
				PaidAt:        s.paidAt(settlement),
			}, s.now())
			if err != nil {
				return err
			}
			if err := txRepo.EnqueueEvent(ctx, event); err != nil {
				return err
			}
			becamePaid = true
		}
		return nil
	})
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeOrderNotFound) {
			return nil, err
		}
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, domain.NewReconciliationError(orderID.String(), err)
	}

	metrics.ReconciliationsTotal.WithLabelValues(string(settlement.Status)).Inc()
	s.logger.Info("order reconciled",
		"order_id", orderID,
		"status", settlement.Status,
		"total_paid", settlement.TotalPaid.StringFixed(2),
		"remaining", settlement.Remaining.StringFixed(2),
	)

	if becamePaid {
		s.notify.orderPaid(ctx, order, settlement)
	}
	return settlement, nil
}

// GetSettlement computes the settlement view without writing anything.
func (s *ReconciliationService) GetSettlement(ctx context.Context, orderID uuid.UUID) (*domain.Settlement, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return domain.ComputeSettlement(order, payments), nil
}

// afterPayment reconciles the payment's order once a payment settled. Failures
// leave the order untouched and are only logged; the next reconciliation
// recomputes from scratch.
func (s *ReconciliationService) afterPayment(ctx context.Context, p *domain.Payment) {
	if p.OrderID == nil {
		return
	}
	if _, err := s.ReconcileOrder(ctx, *p.OrderID); err != nil {
		s.logger.Error("order reconciliation failed",
			"order_id", *p.OrderID,
			"payment_id", p.ID,
			"error", err,
		)
	}
}

func (s *ReconciliationService) paidAt(settlement *domain.Settlement) time.Time {
	if settlement.PaymentDate != nil {
		return *settlement.PaymentDate
	}
	return s.now()
}
