package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundCompleted RefundStatus = "completed"
)

// Refund records money returned against a settled payment. Funds are moved
// outside this service; the record is the authoritative ledger entry.
type Refund struct {
	ID          uuid.UUID       `json:"id"`
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	Status      RefundStatus    `json:"status"`
	ProcessedBy string          `json:"processed_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RefundSummary is the derived refund position of a payment. The payment's
// own status is never changed by refunds.
type RefundSummary struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Refunded      decimal.Decimal `json:"refunded_amount"`
	Refundable    decimal.Decimal `json:"refundable_amount"`
	NetSettlement decimal.Decimal `json:"net_settlement"`
	FullyRefunded bool            `json:"fully_refunded"`
}

func NewRefundSummary(p *Payment, refunded decimal.Decimal) *RefundSummary {
	refundable := decimal.Max(p.Amount.Sub(refunded), decimal.Zero)
	return &RefundSummary{
		PaymentID:     p.ID,
		Amount:        p.Amount,
		Refunded:      refunded,
		Refundable:    refundable,
		NetSettlement: p.NetAmount.Sub(refunded),
		FullyRefunded: refundable.IsZero(),
	}
}

// NewRefund validates amount against what is still refundable on p.
func NewRefund(p *Payment, alreadyRefunded, amount decimal.Decimal, reason, processedBy string, now time.Time) (*Refund, error) {
	if !amount.IsPositive() {
		return nil, NewValidationError("refund amount must be greater than zero, got %s", amount.String())
	}
	if !p.IsSettled() {
		return nil, NewValidationError("payment %s is %s; only completed or verified payments can be refunded", p.ID, p.Status)
	}
	refundable := p.Amount.Sub(alreadyRefunded)
	if amount.GreaterThan(refundable) {
		return nil, NewValidationError("refund amount %s exceeds refundable balance %s",
			amount.StringFixed(2), decimal.Max(refundable, decimal.Zero).StringFixed(2))
	}
	return &Refund{
		ID:          uuid.New(),
		PaymentID:   p.ID,
		Amount:      amount,
		Reason:      reason,
		Status:      RefundCompleted,
		ProcessedBy: processedBy,
		CreatedAt:   now,
	}, nil
}
