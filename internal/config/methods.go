package config

import (
	"fmt"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/shopspring/decimal"
)

// MethodConfig is one entry of payments.methods. Amounts are kept as strings
// so that YAML floats and quoted values both decode without precision loss.
type MethodConfig struct {
	ID            string `koanf:"id" validate:"required"`
	Name          string `koanf:"name" validate:"required"`
	Type          string `koanf:"type" validate:"required,oneof=cash card mpesa bank cheque"`
	FeePercentage string `koanf:"fee_percentage"`
	FixedFee      string `koanf:"fixed_fee"`
	MinAmount     string `koanf:"min_amount"`
	MaxAmount     string `koanf:"max_amount"`
	DailyLimit    string `koanf:"daily_limit"`
	Active        bool   `koanf:"active"`
}

func (m MethodConfig) toDomain() (domain.PaymentMethod, error) {
	method := domain.PaymentMethod{
		ID:     m.ID,
		Name:   m.Name,
		Type:   domain.MethodType(m.Type),
		Active: m.Active,
	}
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"fee_percentage", m.FeePercentage, &method.FeePercentage},
		{"fixed_fee", m.FixedFee, &method.FixedFee},
		{"min_amount", m.MinAmount, &method.MinAmount},
		{"max_amount", m.MaxAmount, &method.MaxAmount},
		{"daily_limit", m.DailyLimit, &method.DailyLimit},
	}
	for _, f := range fields {
		if f.value == "" {
			*f.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return domain.PaymentMethod{}, fmt.Errorf("payment method %s: invalid %s %q: %w", m.ID, f.name, f.value, err)
		}
		*f.dst = d
	}
	return method, nil
}

// Registry builds the payment method registry, falling back to the built-in
// defaults when no methods are configured.
func (c PaymentsConfig) Registry() (*domain.MethodRegistry, error) {
	if len(c.Methods) == 0 {
		return domain.NewMethodRegistry(domain.DefaultMethods())
	}
	methods := make([]domain.PaymentMethod, 0, len(c.Methods))
	for _, mc := range c.Methods {
		m, err := mc.toDomain()
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return domain.NewMethodRegistry(methods)
}
