package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
)

const notifyTimeout = 2 * time.Second

// customerNotifier resolves who to tell about a payment and sends the
// message. It runs after commit and only logs failures: a lost SMS must never
// undo a settled payment. Each send is bounded by its own deadline so a slow
// broker cannot hold up the gateway's callback acknowledgement.
type customerNotifier struct {
	repo     ports.PaymentRepository
	notifier ports.Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

func newCustomerNotifier(repo ports.PaymentRepository, notifier ports.Notifier, logger *slog.Logger) *customerNotifier {
	return &customerNotifier{repo: repo, notifier: notifier, timeout: notifyTimeout, logger: logger}
}

// recipient prefers the phone that paid and falls back to the order's contact.
func (n *customerNotifier) recipient(ctx context.Context, p *domain.Payment) (ports.Recipient, bool) {
	to := ports.Recipient{CustomerID: p.CustomerID}

	if p.MethodType == domain.MethodMpesa {
		if gtx, err := n.repo.FindGatewayTransactionByPaymentID(ctx, p.ID); err == nil {
			to.Phone = gtx.PhoneNumber
		}
	}
	if to.Phone == "" && p.OrderID != nil {
		if order, err := n.repo.FindOrder(ctx, *p.OrderID); err == nil && order.CustomerPhone != nil {
			to.Phone = *order.CustomerPhone
		}
	}
	return to, to.Phone != ""
}

func (n *customerNotifier) send(ctx context.Context, to ports.Recipient, message string) {
	if n.notifier == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.notifier.Send(sendCtx, to, message); err != nil {
		n.logger.Warn("customer notification failed", "error", err)
	}
}

func (n *customerNotifier) paymentCompleted(ctx context.Context, p *domain.Payment) {
	to, ok := n.recipient(ctx, p)
	if !ok {
		return
	}
	msg := fmt.Sprintf("Payment of KES %s received. Ref %s.", p.Amount.StringFixed(2), p.Reference)
	if p.TransactionID != nil {
		msg = fmt.Sprintf("Payment of KES %s received. Receipt %s.", p.Amount.StringFixed(2), *p.TransactionID)
	}
	n.send(ctx, to, msg)
}

func (n *customerNotifier) paymentFailed(ctx context.Context, p *domain.Payment) {
	to, ok := n.recipient(ctx, p)
	if !ok {
		return
	}
	reason := "Payment failed"
	if p.FailureReason != nil {
		reason = *p.FailureReason
	}
	n.send(ctx, to, fmt.Sprintf("Payment of KES %s was not completed: %s.", p.Amount.StringFixed(2), reason))
}

func (n *customerNotifier) refundCreated(ctx context.Context, p *domain.Payment, r *domain.Refund) {
	to, ok := n.recipient(ctx, p)
	if !ok {
		return
	}
	n.send(ctx, to, fmt.Sprintf("A refund of KES %s for payment %s has been processed.", r.Amount.StringFixed(2), p.Reference))
}

func (n *customerNotifier) orderPaid(ctx context.Context, o *domain.Order, s *domain.Settlement) {
	if o.CustomerPhone == nil || *o.CustomerPhone == "" {
		return
	}
	to := ports.Recipient{CustomerID: o.CustomerID, Phone: *o.CustomerPhone}
	n.send(ctx, to, fmt.Sprintf("Your order is fully paid. Total KES %s.", s.TotalPaid.StringFixed(2)))
}
