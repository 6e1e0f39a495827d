package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderPaymentStatus is the payment state derived for an order.
type OrderPaymentStatus string

const (
	OrderPending OrderPaymentStatus = "pending"
	OrderPartial OrderPaymentStatus = "partial"
	OrderPaid    OrderPaymentStatus = "paid"
)

// PaidTolerance absorbs currency rounding when comparing totals.
var PaidTolerance = decimal.RequireFromString("0.01")

// Order is the external aggregate. Only PaymentStatus, PaymentMethod and
// PaymentDate are written by this service.
type Order struct {
	ID            uuid.UUID          `json:"id"`
	TenantID      string             `json:"tenant_id"`
	CustomerID    *string            `json:"customer_id,omitempty"`
	CustomerPhone *string            `json:"customer_phone,omitempty"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	PaymentDate   *time.Time         `json:"payment_date,omitempty"`
}

// Settlement is the derived view of an order's payments.
type Settlement struct {
	OrderID       uuid.UUID          `json:"order_id"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	TotalPaid     decimal.Decimal    `json:"total_paid"`
	Remaining     decimal.Decimal    `json:"remaining_balance"`
	Status        OrderPaymentStatus `json:"payment_status"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	PaymentDate   *time.Time         `json:"payment_date,omitempty"`
	PaymentCount  int                `json:"payment_count"`
}

// ComputeSettlement aggregates settled payments against an order total.
// Payments that are not completed or verified are ignored.
func ComputeSettlement(order *Order, payments []*Payment) *Settlement {
	s := &Settlement{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
		TotalPaid:   decimal.Zero,
	}

	var latest *Payment
	for _, p := range payments {
		if !p.IsSettled() {
			continue
		}
		s.TotalPaid = s.TotalPaid.Add(p.Amount)
		s.PaymentCount++
		if latest == nil || p.SettledAt().After(latest.SettledAt()) {
			latest = p
		}
	}

	s.Remaining = decimal.Max(order.TotalAmount.Sub(s.TotalPaid), decimal.Zero)

	switch {
	case s.Remaining.LessThanOrEqual(PaidTolerance):
		s.Status = OrderPaid
	case s.TotalPaid.IsPositive():
		s.Status = OrderPartial
	default:
		s.Status = OrderPending
	}

	if latest != nil {
		method := latest.MethodID
		at := latest.SettledAt()
		s.PaymentMethod = &method
		s.PaymentDate = &at
	}
	return s
}

// BecamePaid reports whether moving from old to s is a transition into paid.
func (s *Settlement) BecamePaid(old OrderPaymentStatus) bool {
	return old != OrderPaid && s.Status == OrderPaid
}

// Changed reports whether applying s would alter any derived order field.
func (s *Settlement) Changed(o *Order) bool {
	if o.PaymentStatus != s.Status {
		return true
	}
	if !equalStringPtr(o.PaymentMethod, s.PaymentMethod) {
		return true
	}
	switch {
	case o.PaymentDate == nil && s.PaymentDate == nil:
		return false
	case o.PaymentDate == nil || s.PaymentDate == nil:
		return true
	default:
		return !o.PaymentDate.Equal(*s.PaymentDate)
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
