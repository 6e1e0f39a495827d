package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamPublisher is the subset of jetstream.JetStream used for publishing.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes outbox events to JetStream. The event id is sent as the
// message id so redelivery from the outbox is deduplicated by the stream.
type Publisher struct {
	js     StreamPublisher
	logger *slog.Logger
}

func NewPublisher(js StreamPublisher, logger *slog.Logger) *Publisher {
	return &Publisher{
		js:     js,
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, event *domain.Event) error {
	subject := EventSubjectPrefix + event.Type

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.logger.Debug("event published",
		"event_id", event.ID,
		"type", event.Type,
		"subject", subject,
		"duplicate", ack != nil && ack.Duplicate,
	)

	return nil
}
