package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/cache"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service/servicetest"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testTenant = "acme"

type fixture struct {
	repo       *servicetest.MockPaymentRepository
	gateway    *servicetest.MockGateway
	notifier   *servicetest.MockNotifier
	cache      *cache.MemoryCache
	reconciler *ReconciliationService
	payments   *PaymentService
	callbacks  *CallbackService
	refunds    *RefundService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	methods, err := domain.NewMethodRegistry(append(domain.DefaultMethods(), domain.PaymentMethod{
		ID:            "card-2pct",
		Name:          "Card (2% + 10)",
		Type:          domain.MethodCard,
		FeePercentage: decimal.NewFromInt(2),
		FixedFee:      decimal.NewFromInt(10),
		MinAmount:     decimal.NewFromInt(1),
		Active:        true,
	}))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		repo:     servicetest.NewMockPaymentRepository(),
		gateway:  &servicetest.MockGateway{},
		notifier: &servicetest.MockNotifier{},
		cache:    cache.NewMemoryCache(),
	}
	f.reconciler = NewReconciliationService(f.repo, f.notifier, logger)
	f.payments = NewPaymentService(f.repo, f.gateway, methods, f.reconciler, f.cache, f.notifier, PaymentConfig{
		CallbackBaseURL: "https://pay.example.com/",
		STKTimeout:      2 * time.Minute,
		IdempotencyTTL:  time.Hour,
	}, logger)
	f.callbacks = NewCallbackService(f.repo, f.payments, logger)
	f.refunds = NewRefundService(f.repo, f.notifier, logger)
	return f
}

func tenantCtx() context.Context {
	return tenant.WithTenant(context.Background(), testTenant)
}

// uniqueCheckouts makes every accepted push return a distinct CheckoutRequestID.
func (f *fixture) uniqueCheckouts() {
	var n atomic.Int64
	f.gateway.InitiateSTKPushFn = func(ctx context.Context, req domain.STKPushRequest) (*domain.STKPushResponse, error) {
		i := n.Add(1)
		return &domain.STKPushResponse{
			MerchantRequestID: fmt.Sprintf("merchant-%d", i),
			CheckoutRequestID: fmt.Sprintf("ws_CO_%d", i),
			ResponseCode:      "0",
		}, nil
	}
}

func (f *fixture) seedOrder(total string, phone string) *domain.Order {
	o := &domain.Order{
		ID:          uuid.New(),
		TenantID:    testTenant,
		TotalAmount: decimal.RequireFromString(total),
	}
	if phone != "" {
		o.CustomerPhone = &phone
	}
	f.repo.SeedOrder(o)
	return o
}

// startMpesa creates an M-Pesa payment whose push was accepted and returns
// it with its CheckoutRequestID.
func (f *fixture) startMpesa(t *testing.T, amount string, orderID *uuid.UUID) (*domain.Payment, string) {
	t.Helper()
	p, err := f.payments.CreatePayment(tenantCtx(), CreatePaymentCommand{
		OrderID:     orderID,
		MethodID:    "mpesa",
		Amount:      decimal.RequireFromString(amount),
		PhoneNumber: "0712345678",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, p.Status)

	gtx, err := f.repo.FindGatewayTransactionByPaymentID(tenantCtx(), p.ID)
	require.NoError(t, err)
	require.True(t, gtx.HasCheckout())
	return p, *gtx.CheckoutRequestID
}

func (f *fixture) payment(t *testing.T, id uuid.UUID) *domain.Payment {
	t.Helper()
	p, err := f.repo.FindByID(tenantCtx(), id)
	require.NoError(t, err)
	return p
}

func successCallback(checkoutID, receipt string, amount int) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":%d},
			{"Name":"MpesaReceiptNumber","Value":%q},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254712345678}
		]}}}}`, checkoutID, amount, receipt))
}

func failureCallback(checkoutID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":%d,
		"ResultDesc":%q}}}`, checkoutID, code, desc))
}

func jsonField(t *testing.T, data json.RawMessage, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return string(m[field])
}
