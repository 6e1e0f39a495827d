package domain

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventOrderPaid        = "order.paid"
	EventRefundCreated    = "payment.refunded"
)

// Event is a domain event written to the outbox in the same transaction as
// the state change it describes.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	TenantID      string          `json:"tenant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
}

func NewEvent(eventType, tenantID, aggregateType, aggregateID string, data any, now time.Time) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    now.UTC(),
		Data:          payload,
	}, nil
}

// OutboxEntry is an event awaiting publication.
type OutboxEntry struct {
	Event       Event
	Attempts    int
	PublishedAt *time.Time
	LastError   *string
}

type PaymentEventData struct {
	PaymentID     string  `json:"payment_id"`
	OrderID       *string `json:"order_id,omitempty"`
	CustomerID    *string `json:"customer_id,omitempty"`
	Amount        string  `json:"amount"`
	Method        string  `json:"method"`
	TransactionID *string `json:"transaction_id,omitempty"`
	Reason        *string `json:"reason,omitempty"`
}

func NewPaymentEventData(p *Payment) PaymentEventData {
	d := PaymentEventData{
		PaymentID:     p.ID.String(),
		CustomerID:    p.CustomerID,
		Amount:        p.Amount.StringFixed(2),
		Method:        p.MethodID,
		TransactionID: p.TransactionID,
		Reason:        p.FailureReason,
	}
	if p.OrderID != nil {
		id := p.OrderID.String()
		d.OrderID = &id
	}
	return d
}

type OrderPaidData struct {
	OrderID       string    `json:"order_id"`
	CustomerID    *string   `json:"customer_id,omitempty"`
	TotalAmount   string    `json:"total_amount"`
	TotalPaid     string    `json:"total_paid"`
	PaymentMethod *string   `json:"payment_method,omitempty"`
	PaidAt        time.Time `json:"paid_at"`
}

type RefundEventData struct {
	RefundID       string `json:"refund_id"`
	PaymentID      string `json:"payment_id"`
	Amount         string `json:"amount"`
	RefundedAmount string `json:"refunded_amount"`
	Reason         string `json:"reason,omitempty"`
	ProcessedBy    string `json:"processed_by,omitempty"`
}
