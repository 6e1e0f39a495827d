package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/metrics"
)

// The helpers below run inside a transaction. Each checks the in-memory
// state machine, applies the precondition-guarded update and, only when the
// update applied, mirrors it on p and enqueues the matching outbox event.
// A false return with a nil error means another writer got there first.

func completeInTx(ctx context.Context, repo ports.PaymentRepository, p *domain.Payment, receipt string, now time.Time) (bool, error) {
	if err := p.CanTransitionTo(domain.StatusCompleted); err != nil {
		return false, err
	}
	applied, err := repo.CompletePayment(ctx, p.ID, receipt, now)
	if err != nil || !applied {
		return false, err
	}
	if err := p.Complete(receipt, now); err != nil {
		return false, err
	}
	if err := enqueuePaymentEvent(ctx, repo, domain.EventPaymentCompleted, p, now); err != nil {
		return false, err
	}
	metrics.PaymentTransitionsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
	return true, nil
}

func failInTx(ctx context.Context, repo ports.PaymentRepository, p *domain.Payment, reason string, raw json.RawMessage, now time.Time) (bool, error) {
	if err := p.CanTransitionTo(domain.StatusFailed); err != nil {
		return false, err
	}
	applied, err := repo.FailPayment(ctx, p.ID, reason, raw, now)
	if err != nil || !applied {
		return false, err
	}
	if err := p.Fail(reason, now); err != nil {
		return false, err
	}
	if len(raw) > 0 {
		p.GatewayResponse = raw
	}
	if err := enqueuePaymentEvent(ctx, repo, domain.EventPaymentFailed, p, now); err != nil {
		return false, err
	}
	metrics.PaymentTransitionsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	return true, nil
}

func enqueuePaymentEvent(ctx context.Context, repo ports.PaymentRepository, eventType string, p *domain.Payment, now time.Time) error {
	event, err := domain.NewEvent(eventType, p.TenantID, "payment", p.ID.String(), domain.NewPaymentEventData(p), now)
	if err != nil {
		return err
	}
	return repo.EnqueueEvent(ctx, event)
}
