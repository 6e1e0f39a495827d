package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentMethod_ValidateAmount(t *testing.T) {
	m := &PaymentMethod{
		Name:       "M-Pesa",
		Type:       MethodMpesa,
		MinAmount:  decimal.NewFromInt(10),
		MaxAmount:  decimal.NewFromInt(1000),
		DailyLimit: decimal.NewFromInt(1500),
	}

	tests := []struct {
		name   string
		amount int64
		used   int64
		ok     bool
	}{
		{"within bounds", 500, 0, true},
		{"at minimum", 10, 0, true},
		{"at maximum", 1000, 0, true},
		{"below minimum", 9, 0, false},
		{"above maximum", 1001, 0, false},
		{"zero", 0, 0, false},
		{"fits remaining limit", 500, 1000, true},
		{"exceeds remaining limit", 501, 1000, false},
		{"limit exhausted", 10, 1500, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateAmount(decimal.NewFromInt(tt.amount), decimal.NewFromInt(tt.used))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsErrorCode(err, ErrCodeValidation), "got %v", err)
			}
		})
	}
}

func TestPaymentMethod_UnlimitedWhenZero(t *testing.T) {
	m := &PaymentMethod{Type: MethodCash, MinAmount: decimal.NewFromInt(1)}
	assert.NoError(t, m.ValidateAmount(decimal.NewFromInt(10_000_000), decimal.NewFromInt(90_000_000)))
}

func TestPaymentMethod_Fee(t *testing.T) {
	m := &PaymentMethod{FeePercentage: decimal.RequireFromString("2.5"), FixedFee: decimal.RequireFromString("0.10")}
	assert.Equal(t, "2.60", m.Fee(decimal.NewFromInt(100)).StringFixed(2))
	assert.Equal(t, "0.35", m.Fee(decimal.NewFromInt(10)).StringFixed(2))
}

func TestPaymentMethod_FeeRoundsToCents(t *testing.T) {
	tests := []struct {
		pct, fixed, amount, want string
	}{
		{"1.5", "0", "10.10", "0.15"},   // 0.1515
		{"2.5", "0", "0.30", "0.01"},    // 0.0075, half away from zero
		{"1.5", "0", "0.20", "0"},       // 0.003
		{"2.5", "0.10", "0.30", "0.11"}, // 0.1075
	}

	for _, tt := range tests {
		m := &PaymentMethod{FeePercentage: decimal.RequireFromString(tt.pct), FixedFee: decimal.RequireFromString(tt.fixed)}
		fee := m.Fee(decimal.RequireFromString(tt.amount))
		assert.True(t, fee.Equal(decimal.RequireFromString(tt.want)), "%s%% + %s of %s: got %s", tt.pct, tt.fixed, tt.amount, fee)
	}
}

func TestMethodRegistry(t *testing.T) {
	r, err := NewMethodRegistry(DefaultMethods())
	require.NoError(t, err)

	m, err := r.Get("mpesa")
	require.NoError(t, err)
	assert.Equal(t, MethodMpesa, m.Type)

	_, err = r.Get("cheque")
	assert.True(t, IsErrorCode(err, ErrCodeMethodNotFound), "inactive methods are not resolvable")
	_, err = r.Get("paypal")
	assert.True(t, IsErrorCode(err, ErrCodeMethodNotFound))

	var ids []string
	for _, m := range r.Active() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"bank", "card", "cash", "mpesa"}, ids)
}

func TestMethodRegistry_RejectsBadConfig(t *testing.T) {
	tests := map[string][]PaymentMethod{
		"missing id":    {{Type: MethodCash}},
		"unknown type":  {{ID: "x", Type: "crypto"}},
		"negative fee":  {{ID: "x", Type: MethodCard, FixedFee: decimal.NewFromInt(-1)}},
		"max below min": {{ID: "x", Type: MethodCard, MinAmount: decimal.NewFromInt(10), MaxAmount: decimal.NewFromInt(5)}},
		"duplicate":     {{ID: "x", Type: MethodCash}, {ID: "x", Type: MethodCard}},
	}
	for name, methods := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewMethodRegistry(methods)
			assert.True(t, IsErrorCode(err, ErrCodeValidation))
		})
	}
}

func TestNewRefund(t *testing.T) {
	p := &Payment{Amount: decimal.NewFromInt(1000), NetAmount: decimal.NewFromInt(970), Status: StatusCompleted}

	r, err := NewRefund(p, decimal.NewFromInt(600), decimal.NewFromInt(400), "returned", "ops", p.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, RefundCompleted, r.Status)

	_, err = NewRefund(p, decimal.NewFromInt(600), decimal.RequireFromString("400.01"), "", "", p.CreatedAt)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	p.Status = StatusProcessing
	_, err = NewRefund(p, decimal.Zero, decimal.NewFromInt(1), "", "", p.CreatedAt)
	assert.True(t, IsErrorCode(err, ErrCodeValidation))

	summary := NewRefundSummary(&Payment{Amount: decimal.NewFromInt(1000), NetAmount: decimal.NewFromInt(970)}, decimal.NewFromInt(250))
	assert.Equal(t, "750.00", summary.Refundable.StringFixed(2))
	assert.Equal(t, "720.00", summary.NetSettlement.StringFixed(2))
	assert.False(t, summary.FullyRefunded)
}
