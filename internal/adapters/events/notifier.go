package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/oklog/ulid/v2"
)

type smsRequest struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	CustomerID  *string   `json:"customer_id,omitempty"`
	Phone       string    `json:"phone"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// NATSNotifier hands SMS requests to the messaging service over JetStream.
type NATSNotifier struct {
	js     StreamPublisher
	logger *slog.Logger
}

func NewNATSNotifier(js StreamPublisher, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{js: js, logger: logger}
}

func (n *NATSNotifier) Send(ctx context.Context, to ports.Recipient, message string) error {
	if to.Phone == "" {
		return fmt.Errorf("notification recipient has no phone number")
	}

	req := smsRequest{
		ID:          ulid.Make().String(),
		TenantID:    tenant.FromContext(ctx),
		CustomerID:  to.CustomerID,
		Phone:       to.Phone,
		Message:     message,
		RequestedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	if _, err := n.js.Publish(ctx, NotificationSubject, data); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}

	n.logger.Debug("notification queued", "id", req.ID, "tenant_id", req.TenantID)
	return nil
}

// LogNotifier writes notifications to the log. Used when NATS is disabled.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, to ports.Recipient, message string) error {
	n.logger.Info("customer notification",
		"tenant_id", tenant.FromContext(ctx),
		"phone", to.Phone,
		"message", message,
	)
	return nil
}
