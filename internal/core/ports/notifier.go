package ports

import (
	"context"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
)

type Recipient struct {
	CustomerID *string
	Phone      string
}

// Notifier delivers customer messages. Delivery is best effort and its
// failures never affect payment state.
type Notifier interface {
	Send(ctx context.Context, to Recipient, message string) error
}

// EventPublisher hands outbox events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}
