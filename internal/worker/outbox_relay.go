package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
)

// OutboxRelay publishes events committed to the outbox. Delivery is at least
// once: an event whose publish succeeded but whose mark failed is sent again.
type OutboxRelay struct {
	repo      ports.PaymentRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

func NewOutboxRelay(
	repo ports.PaymentRepository,
	publisher ports.EventPublisher,
	interval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

func (w *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox relay started", "interval", w.interval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// RunOnce executes a single relay cycle.
func (w *OutboxRelay) RunOnce(ctx context.Context) {
	w.run(ctx)
}

func (w *OutboxRelay) run(ctx context.Context) {
	entries, err := w.repo.FetchUnpublishedEvents(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to fetch outbox events", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var published, failed int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		event := entry.Event
		if err := w.publisher.Publish(ctx, &event); err != nil {
			failed++
			w.logger.Warn("failed to publish event",
				"event_id", event.ID,
				"type", event.Type,
				"attempts", entry.Attempts+1,
				"error", err,
			)
			if markErr := w.repo.MarkEventFailed(ctx, event.ID, err.Error()); markErr != nil {
				w.logger.Error("failed to record publish failure", "event_id", event.ID, "error", markErr)
			}
			continue
		}

		if err := w.repo.MarkEventPublished(ctx, event.ID, w.now()); err != nil {
			w.logger.Error("failed to mark event published", "event_id", event.ID, "error", err)
			continue
		}
		published++
	}

	w.logger.Info("outbox relay cycle finished", "published", published, "failed", failed)
}
