// Package domain defines the payment lifecycle models and their invariants.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current state of a payment in its lifecycle
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusVerified   PaymentStatus = "verified"
)

// Payment represents a single monetary transaction against an optional order.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        string          `json:"tenant_id"`
	OrderID         *uuid.UUID      `json:"order_id,omitempty"`
	CustomerID      *string         `json:"customer_id,omitempty"`
	ParentPaymentID *uuid.UUID      `json:"parent_payment_id,omitempty"`
	MethodID        string          `json:"method_id"`
	MethodType      MethodType      `json:"method_type"`
	Amount          decimal.Decimal `json:"amount"`
	ProcessingFee   decimal.Decimal `json:"processing_fee"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Status          PaymentStatus   `json:"status"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	TransactionID   *string         `json:"transaction_id,omitempty"`
	Reference       string          `json:"reference"`
	Description     string          `json:"description,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`
	VerifiedBy      *string         `json:"verified_by,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewPaymentParams holds everything needed to open a pending payment.
type NewPaymentParams struct {
	TenantID        string
	OrderID         *uuid.UUID
	CustomerID      *string
	ParentPaymentID *uuid.UUID
	Method          *PaymentMethod
	Amount          decimal.Decimal
	Reference       string
	Description     string
	TTL             time.Duration
}

// NewPayment creates a pending payment with its fees derived from the method.
func NewPayment(p NewPaymentParams, now time.Time) (*Payment, error) {
	if p.Method == nil {
		return nil, NewValidationError("payment method is required")
	}
	if !p.Amount.IsPositive() {
		return nil, NewInvalidAmountError(p.Amount)
	}
	if !p.Amount.Equal(p.Amount.Round(2)) {
		return nil, NewValidationError("amount %s has more than two decimal places", p.Amount.String())
	}

	payment := &Payment{
		ID:              uuid.New(),
		TenantID:        p.TenantID,
		OrderID:         p.OrderID,
		CustomerID:      p.CustomerID,
		ParentPaymentID: p.ParentPaymentID,
		MethodID:        p.Method.ID,
		MethodType:      p.Method.Type,
		Amount:          p.Amount,
		Status:          StatusPending,
		Reference:       p.Reference,
		Description:     p.Description,
		InitiatedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if payment.Reference == "" {
		payment.Reference = payment.ShortReference()
	}
	if p.TTL > 0 {
		expires := now.Add(p.TTL)
		payment.ExpiresAt = &expires
	}
	payment.ApplyFees(p.Method)
	return payment, nil
}

// ApplyFees recomputes processing fee and net amount. Calling it repeatedly
// with the same method yields the same values.
func (p *Payment) ApplyFees(m *PaymentMethod) {
	p.ProcessingFee = m.Fee(p.Amount)
	p.NetAmount = p.Amount.Sub(p.ProcessingFee)
}

// ShortReference is the account reference shown on the customer's phone.
func (p *Payment) ShortReference() string {
	id := p.ID.String()
	return "PAY" + id[:8]
}

// CanTransitionTo validates whether a payment can transition from its current status to the target status.
//
// Valid transitions are:
//   - Pending → Processing, Completed, Failed, Cancelled
//   - Processing → Completed, Failed, Cancelled
//   - Completed → Verified
//
// Failed, Cancelled and Verified are terminal.
func (p *Payment) CanTransitionTo(target PaymentStatus) error {
	switch p.Status {
	case StatusFailed, StatusCancelled, StatusVerified:
		return NewInvalidTransitionError(p.Status, target)

	case StatusPending:
		switch target {
		case StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
			return nil
		}

	case StatusProcessing:
		switch target {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return nil
		}

	case StatusCompleted:
		if target == StatusVerified {
			return nil
		}
	}
	return NewInvalidTransitionError(p.Status, target)
}

func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case StatusFailed, StatusCancelled, StatusVerified:
		return true
	default:
		return false
	}
}

// IsSettled reports whether money has moved: completed or verified.
func (p *Payment) IsSettled() bool {
	return p.Status == StatusCompleted || p.Status == StatusVerified
}

// IsOpen reports whether the payment still awaits an outcome.
func (p *Payment) IsOpen() bool {
	return p.Status == StatusPending || p.Status == StatusProcessing
}

func (p *Payment) MarkProcessing(now time.Time) error {
	if p.Status != StatusPending {
		return NewInvalidTransitionError(p.Status, StatusProcessing)
	}
	p.Status = StatusProcessing
	p.UpdatedAt = now
	return nil
}

// Complete settles an open payment. An empty receipt leaves TransactionID unset.
func (p *Payment) Complete(receipt string, now time.Time) error {
	if !p.IsOpen() {
		return NewInvalidTransitionError(p.Status, StatusCompleted)
	}
	p.Status = StatusCompleted
	if receipt != "" {
		p.TransactionID = &receipt
	}
	p.CompletedAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Fail(reason string, now time.Time) error {
	if !p.IsOpen() {
		return NewInvalidTransitionError(p.Status, StatusFailed)
	}
	p.Status = StatusFailed
	p.FailureReason = &reason
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Cancel(now time.Time) error {
	if !p.IsOpen() {
		return NewInvalidTransitionError(p.Status, StatusCancelled)
	}
	p.Status = StatusCancelled
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Verify(by string, now time.Time) error {
	if p.Status != StatusCompleted {
		return NewInvalidTransitionError(p.Status, StatusVerified)
	}
	p.Status = StatusVerified
	p.VerifiedBy = &by
	p.VerifiedAt = &now
	p.UpdatedAt = now
	return nil
}

// SettledAt is the authoritative timestamp used when deriving order fields.
func (p *Payment) SettledAt() time.Time {
	if p.CompletedAt != nil {
		return *p.CompletedAt
	}
	return p.UpdatedAt
}
