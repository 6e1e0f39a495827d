package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
)

type StatusChecker interface {
	PollStatus(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
}

// StatusPoller resolves M-Pesa payments whose callback never arrived by
// asking the gateway for their outcome. Payments still unresolved well past
// their expiry are failed by PollStatus.
type StatusPoller struct {
	repo       ports.PaymentRepository
	payments   StatusChecker
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewStatusPoller(
	repo ports.PaymentRepository,
	payments StatusChecker,
	interval time.Duration,
	batchSize int,
	staleAfter time.Duration,
	logger *slog.Logger,
) *StatusPoller {
	return &StatusPoller{
		repo:       repo,
		payments:   payments,
		interval:   interval,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (w *StatusPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("status poller started",
		"interval", w.interval,
		"batch_size", w.batchSize,
		"stale_after", w.staleAfter,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("status poller stopping")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// RunOnce executes a single polling cycle.
func (w *StatusPoller) RunOnce(ctx context.Context) {
	w.run(ctx)
}

func (w *StatusPoller) run(ctx context.Context) {
	stale, err := w.repo.FindStaleProcessing(ctx, w.staleAfter, w.batchSize)
	if err != nil {
		w.logger.Error("failed to fetch stale payments", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	var resolved, stillPending, failed int
	for _, p := range stale {
		if ctx.Err() != nil {
			return
		}

		pctx := tenant.WithTenant(ctx, p.TenantID)
		// Recorded before the query so payments that keep erroring rotate to
		// the back of the queue.
		if err := w.repo.RecordPollAttempt(pctx, p.ID, time.Now()); err != nil {
			w.logger.Warn("failed to record poll attempt", "payment_id", p.ID, "error", err)
		}

		updated, err := w.payments.PollStatus(pctx, p.ID)
		if err != nil {
			failed++
			w.logger.Error("status poll failed",
				"payment_id", p.ID,
				"tenant_id", p.TenantID,
				"error", err,
			)
			continue
		}
		if updated.IsOpen() {
			stillPending++
			continue
		}
		resolved++
	}

	w.logger.Info("status poll cycle finished",
		"checked", len(stale),
		"resolved", resolved,
		"pending", stillPending,
		"failed", failed,
	)
}
