package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// MethodType identifies how a payment is settled.
type MethodType string

const (
	MethodCash   MethodType = "cash"
	MethodCard   MethodType = "card"
	MethodMpesa  MethodType = "mpesa"
	MethodBank   MethodType = "bank"
	MethodCheque MethodType = "cheque"
)

func (t MethodType) IsValid() bool {
	switch t {
	case MethodCash, MethodCard, MethodMpesa, MethodBank, MethodCheque:
		return true
	}
	return false
}

// PaymentMethod is an immutable fee and limit configuration. Payments
// reference it by ID and never own it.
type PaymentMethod struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          MethodType      `json:"type"`
	FeePercentage decimal.Decimal `json:"fee_percentage"`
	FixedFee      decimal.Decimal `json:"fixed_fee"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	MaxAmount     decimal.Decimal `json:"max_amount"`
	DailyLimit    decimal.Decimal `json:"daily_limit"`
	Active        bool            `json:"active"`
}

var hundred = decimal.NewFromInt(100)

// Fee returns amount*pct/100 + fixed, rounded to cents.
func (m *PaymentMethod) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(m.FeePercentage).Div(hundred).Add(m.FixedFee).Round(2)
}

// ValidateAmount checks the per-transaction bounds and the remaining daily
// limit. usedToday is the volume already committed against the method today.
// A zero MaxAmount or DailyLimit means the bound is not enforced.
func (m *PaymentMethod) ValidateAmount(amount, usedToday decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewInvalidAmountError(amount)
	}
	if amount.LessThan(m.MinAmount) {
		return NewValidationError("amount %s is below the %s minimum of %s",
			amount.StringFixed(2), m.Name, m.MinAmount.StringFixed(2))
	}
	if m.MaxAmount.IsPositive() && amount.GreaterThan(m.MaxAmount) {
		return NewValidationError("amount %s exceeds the %s maximum of %s",
			amount.StringFixed(2), m.Name, m.MaxAmount.StringFixed(2))
	}
	if m.DailyLimit.IsPositive() {
		remaining := m.DailyLimit.Sub(usedToday)
		if amount.GreaterThan(remaining) {
			return NewValidationError("amount %s exceeds the remaining %s daily limit of %s",
				amount.StringFixed(2), m.Name, decimal.Max(remaining, decimal.Zero).StringFixed(2))
		}
	}
	return nil
}

// MethodRegistry is the static set of configured payment methods.
type MethodRegistry struct {
	methods map[string]PaymentMethod
}

func NewMethodRegistry(methods []PaymentMethod) (*MethodRegistry, error) {
	r := &MethodRegistry{methods: make(map[string]PaymentMethod, len(methods))}
	for _, m := range methods {
		if m.ID == "" {
			return nil, NewValidationError("payment method id is required")
		}
		if !m.Type.IsValid() {
			return nil, NewValidationError("payment method %s has unknown type %q", m.ID, m.Type)
		}
		if m.FeePercentage.IsNegative() || m.FixedFee.IsNegative() {
			return nil, NewValidationError("payment method %s has a negative fee", m.ID)
		}
		if m.MaxAmount.IsPositive() && m.MaxAmount.LessThan(m.MinAmount) {
			return nil, NewValidationError("payment method %s has max_amount below min_amount", m.ID)
		}
		if _, dup := r.methods[m.ID]; dup {
			return nil, NewValidationError("payment method %s is defined twice", m.ID)
		}
		r.methods[m.ID] = m
	}
	return r, nil
}

// Get returns an active method by ID.
func (r *MethodRegistry) Get(id string) (*PaymentMethod, error) {
	m, ok := r.methods[id]
	if !ok || !m.Active {
		return nil, NewMethodNotFoundError(id)
	}
	return &m, nil
}

// Active lists the enabled methods ordered by ID.
func (r *MethodRegistry) Active() []PaymentMethod {
	out := make([]PaymentMethod, 0, len(r.methods))
	for _, m := range r.methods {
		if m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultMethods is used when no method file is configured.
func DefaultMethods() []PaymentMethod {
	return []PaymentMethod{
		{
			ID:        "cash",
			Name:      "Cash",
			Type:      MethodCash,
			MinAmount: decimal.NewFromInt(1),
			Active:    true,
		},
		{
			ID:            "mpesa",
			Name:          "M-Pesa",
			Type:          MethodMpesa,
			FeePercentage: decimal.Zero,
			MinAmount:     decimal.NewFromInt(1),
			MaxAmount:     decimal.NewFromInt(250000),
			DailyLimit:    decimal.NewFromInt(500000),
			Active:        true,
		},
		{
			ID:            "card",
			Name:          "Card",
			Type:          MethodCard,
			FeePercentage: decimal.RequireFromString("2.5"),
			MinAmount:     decimal.NewFromInt(50),
			Active:        true,
		},
		{
			ID:        "bank",
			Name:      "Bank Transfer",
			Type:      MethodBank,
			FixedFee:  decimal.NewFromInt(30),
			MinAmount: decimal.NewFromInt(100),
			Active:    true,
		},
		{
			ID:        "cheque",
			Name:      "Cheque",
			Type:      MethodCheque,
			MinAmount: decimal.NewFromInt(500),
			Active:    false,
		},
	}
}
