package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock services
type mockPaymentService struct {
	createFn     func(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error)
	getFn        func(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	gatewayFn    func(ctx context.Context, id uuid.UUID) (*domain.GatewayTransaction, error)
	stkPushFn    func(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	pollFn       func(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	completeFn   func(ctx context.Context, id uuid.UUID, cmd service.CompletePaymentCommand) (*domain.Payment, error)
	verifyFn     func(ctx context.Context, id uuid.UUID, by string) (*domain.Payment, error)
	cancelFn     func(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	registerFn   func(ctx context.Context) (*domain.RegisterURLResponse, error)
	methods      []domain.PaymentMethod
	createCalled int
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error) {
	m.createCalled++
	return m.createFn(ctx, cmd)
}

func (m *mockPaymentService) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return m.getFn(ctx, id)
}

func (m *mockPaymentService) GatewayTransaction(ctx context.Context, id uuid.UUID) (*domain.GatewayTransaction, error) {
	return m.gatewayFn(ctx, id)
}

func (m *mockPaymentService) InitiateSTKPush(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return m.stkPushFn(ctx, id)
}

func (m *mockPaymentService) PollStatus(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return m.pollFn(ctx, id)
}

func (m *mockPaymentService) CompleteManually(ctx context.Context, id uuid.UUID, cmd service.CompletePaymentCommand) (*domain.Payment, error) {
	return m.completeFn(ctx, id, cmd)
}

func (m *mockPaymentService) Verify(ctx context.Context, id uuid.UUID, by string) (*domain.Payment, error) {
	return m.verifyFn(ctx, id, by)
}

func (m *mockPaymentService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return m.cancelFn(ctx, id)
}

func (m *mockPaymentService) ListMethods() []domain.PaymentMethod {
	return m.methods
}

func (m *mockPaymentService) RegisterC2BURLs(ctx context.Context) (*domain.RegisterURLResponse, error) {
	return m.registerFn(ctx)
}

type mockRefundService struct {
	createFn func(ctx context.Context, cmd service.CreateRefundCommand) (*domain.Refund, *domain.RefundSummary, error)
	listFn   func(ctx context.Context, id uuid.UUID) ([]*domain.Refund, *domain.RefundSummary, error)
}

func (m *mockRefundService) CreateRefund(ctx context.Context, cmd service.CreateRefundCommand) (*domain.Refund, *domain.RefundSummary, error) {
	return m.createFn(ctx, cmd)
}

func (m *mockRefundService) ListRefunds(ctx context.Context, id uuid.UUID) ([]*domain.Refund, *domain.RefundSummary, error) {
	return m.listFn(ctx, id)
}

type mockReconciler struct {
	reconcileFn  func(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	settlementFn func(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
}

func (m *mockReconciler) ReconcileOrder(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	return m.reconcileFn(ctx, id)
}

func (m *mockReconciler) GetSettlement(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	return m.settlementFn(ctx, id)
}

type mockCallbackService struct {
	stkFn    func(ctx context.Context, body []byte) service.Ack
	calls    int
	lastBody []byte
}

func (m *mockCallbackService) HandleSTKCallback(ctx context.Context, body []byte) service.Ack {
	m.calls++
	m.lastBody = body
	return m.stkFn(ctx, body)
}

func (m *mockCallbackService) HandleC2BValidation(ctx context.Context, body []byte) service.Ack {
	m.calls++
	return service.Ack{ResultCode: 0, ResultDesc: "Accepted"}
}

func (m *mockCallbackService) HandleC2BConfirmation(ctx context.Context, body []byte) service.Ack {
	m.calls++
	return service.Ack{ResultCode: 0, ResultDesc: "Accepted"}
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

type testServer struct {
	payments  *mockPaymentService
	refunds   *mockRefundService
	reconcile *mockReconciler
	callbacks *mockCallbackService
	db        *mockPinger
	handler   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := &testServer{
		payments:  &mockPaymentService{},
		refunds:   &mockRefundService{},
		reconcile: &mockReconciler{},
		callbacks: &mockCallbackService{},
		db:        &mockPinger{},
	}

	h, err := NewRouter(
		RouterConfig{RequestTimeout: 5 * time.Second},
		NewPaymentHandler(s.payments, s.refunds, s.reconcile, logger),
		NewCallbackHandler(s.callbacks, logger),
		s.db,
		logger,
	)
	require.NoError(t, err)
	s.handler = h
	return s
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func samplePayment(status domain.PaymentStatus) *domain.Payment {
	return &domain.Payment{
		ID:            uuid.New(),
		TenantID:      "acme",
		MethodID:      "mpesa",
		MethodType:    domain.MethodMpesa,
		Amount:        decimal.NewFromInt(1000),
		ProcessingFee: decimal.NewFromInt(30),
		NetAmount:     decimal.NewFromInt(970),
		Status:        status,
		Reference:     "PAY-1",
		InitiatedAt:   time.Now(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func TestCreatePayment_Success(t *testing.T) {
	s := newTestServer(t)
	orderID := uuid.New()

	var got service.CreatePaymentCommand
	var gotTenant string
	s.payments.createFn = func(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error) {
		got = cmd
		gotTenant = tenant.FromContext(ctx)
		return samplePayment(domain.StatusProcessing), nil
	}

	body := `{"order_id":"` + orderID.String() + `","method_id":"mpesa","amount":1000,"phone_number":"0712345678","customer_id":"cust-1"}`
	rr := s.do(http.MethodPost, "/api/v1/payments", body, map[string]string{
		"X-Tenant-ID":     "acme",
		"Idempotency-Key": "idem-1",
	})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	env := decodeEnvelope(t, rr)
	assert.True(t, env.Success)

	var p domain.Payment
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, domain.StatusProcessing, p.Status)

	assert.Equal(t, "acme", gotTenant)
	assert.Equal(t, "idem-1", got.IdempotencyKey)
	assert.Equal(t, "mpesa", got.MethodID)
	assert.Equal(t, "1000", got.Amount.String())
	assert.Equal(t, "0712345678", got.PhoneNumber)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, orderID, *got.OrderID)
	require.NotNil(t, got.CustomerID)
	assert.Equal(t, "cust-1", *got.CustomerID)
}

func TestCreatePayment_RejectedBeforeService(t *testing.T) {
	tests := map[string]struct {
		body    string
		headers map[string]string
	}{
		"missing method":    {body: `{"amount":100}`},
		"missing amount":    {body: `{"method_id":"cash"}`},
		"negative amount":   {body: `{"method_id":"cash","amount":-5}`},
		"zero amount":       {body: `{"method_id":"cash","amount":0}`},
		"amount as text":    {body: `{"method_id":"cash","amount":"lots"}`},
		"bad order id":      {body: `{"method_id":"cash","amount":10,"order_id":"123"}`},
		"invalid json":      {body: `{"method_id":`},
		"invalid tenant":    {body: `{"method_id":"cash","amount":10}`, headers: map[string]string{"X-Tenant-ID": "Not Valid"}},
		"overlong customer": {body: `{"method_id":"cash","amount":10,"customer_id":"` + strings.Repeat("x", 65) + `"}`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t)
			s.payments.createFn = func(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error) {
				t.Error("service must not be called")
				return nil, nil
			}

			rr := s.do(http.MethodPost, "/api/v1/payments", tt.body, tt.headers)

			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			env := decodeEnvelope(t, rr)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, domain.ErrCodeValidation, env.Error.Code)
			assert.Equal(t, 0, s.payments.createCalled)
		})
	}
}

func TestCreatePayment_GatewayOutcomes(t *testing.T) {
	t.Run("rejection returns the failed payment", func(t *testing.T) {
		s := newTestServer(t)
		failed := samplePayment(domain.StatusFailed)
		reason := "Invalid phone number"
		failed.FailureReason = &reason
		s.payments.createFn = func(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error) {
			return failed, domain.NewGatewayRejectionError("1", reason)
		}

		rr := s.do(http.MethodPost, "/api/v1/payments", `{"method_id":"mpesa","amount":10,"phone_number":"0712345678"}`, nil)

		require.Equal(t, http.StatusCreated, rr.Code)
		var p domain.Payment
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &p))
		assert.Equal(t, domain.StatusFailed, p.Status)
		require.NotNil(t, p.FailureReason)
		assert.Equal(t, reason, *p.FailureReason)
	})

	t.Run("transport error leaves the payment pending", func(t *testing.T) {
		s := newTestServer(t)
		s.payments.createFn = func(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error) {
			return samplePayment(domain.StatusPending), domain.NewTransportError("stk push", errors.New("connection reset"))
		}

		rr := s.do(http.MethodPost, "/api/v1/payments", `{"method_id":"mpesa","amount":10,"phone_number":"0712345678"}`, nil)

		require.Equal(t, http.StatusAccepted, rr.Code)
		var p domain.Payment
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &p))
		assert.Equal(t, domain.StatusPending, p.Status)
	})
}

func TestRespondWithError_StatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewValidationError("bad"), http.StatusBadRequest, domain.ErrCodeValidation},
		{domain.NewPaymentNotFoundError("x"), http.StatusNotFound, domain.ErrCodePaymentNotFound},
		{domain.NewOrderNotFoundError("x"), http.StatusNotFound, domain.ErrCodeOrderNotFound},
		{domain.NewMethodNotFoundError("x"), http.StatusNotFound, domain.ErrCodeMethodNotFound},
		{domain.NewDuplicateRequestError("k"), http.StatusConflict, domain.ErrCodeDuplicateRequest},
		{domain.NewInvalidTransitionError(domain.StatusFailed, domain.StatusCompleted), http.StatusConflict, domain.ErrCodeInvalidTransition},
		{domain.NewRequestProcessingError("k"), http.StatusAccepted, domain.ErrCodeRequestProcessing},
		{domain.NewTransportError("query", errors.New("timeout")), http.StatusBadGateway, domain.ErrCodeTransport},
		{domain.NewAuthenticationError("oauth failed", nil), http.StatusBadGateway, domain.ErrCodeAuthentication},
		{domain.NewGatewayRejectionError("1", "Insufficient"), http.StatusUnprocessableEntity, domain.ErrCodeGatewayRejection},
		{errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rr := httptest.NewRecorder()
			respondWithError(rr, tt.err)

			assert.Equal(t, tt.status, rr.Code)
			var resp struct {
				Success bool      `json:"success"`
				Data    *APIError `json:"data"`
				Error   *APIError `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			apiErr := resp.Error
			if resp.Success {
				apiErr = resp.Data
			}
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}

	t.Run("internal errors are not leaked", func(t *testing.T) {
		rr := httptest.NewRecorder()
		respondWithError(rr, errors.New("pq: password authentication failed"))
		assert.NotContains(t, rr.Body.String(), "password")
	})
}

func TestGetPayment_IncludesGatewayTransaction(t *testing.T) {
	s := newTestServer(t)
	p := samplePayment(domain.StatusProcessing)
	checkout := "ws_CO_191220191020363925"

	s.payments.getFn = func(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
		assert.Equal(t, p.ID, id)
		return p, nil
	}
	s.payments.gatewayFn = func(ctx context.Context, id uuid.UUID) (*domain.GatewayTransaction, error) {
		return &domain.GatewayTransaction{PaymentID: id, PhoneNumber: "254712345678", CheckoutRequestID: &checkout}, nil
	}

	rr := s.do(http.MethodGet, "/api/v1/payments/"+p.ID.String(), "", nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view struct {
		ID                 uuid.UUID                  `json:"id"`
		Status             domain.PaymentStatus       `json:"status"`
		GatewayTransaction *domain.GatewayTransaction `json:"gateway_transaction"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &view))
	assert.Equal(t, p.ID, view.ID)
	require.NotNil(t, view.GatewayTransaction)
	assert.Equal(t, checkout, *view.GatewayTransaction.CheckoutRequestID)
}

func TestGetPayment_NotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)
	s.payments.getFn = func(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
		return nil, domain.NewPaymentNotFoundError(id.String())
	}

	rr := s.do(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodGet, "/api/v1/payments/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, domain.ErrCodeValidation, decodeEnvelope(t, rr).Error.Code)
}

func TestPaymentActions(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()
	completed := samplePayment(domain.StatusCompleted)

	var receipt, verifiedBy string
	s.payments.completeFn = func(ctx context.Context, got uuid.UUID, cmd service.CompletePaymentCommand) (*domain.Payment, error) {
		receipt = cmd.TransactionReference
		return completed, nil
	}
	s.payments.verifyFn = func(ctx context.Context, got uuid.UUID, by string) (*domain.Payment, error) {
		verifiedBy = by
		return samplePayment(domain.StatusVerified), nil
	}
	s.payments.cancelFn = func(ctx context.Context, got uuid.UUID) (*domain.Payment, error) {
		return nil, domain.NewInvalidTransitionError(domain.StatusCompleted, domain.StatusCancelled)
	}
	s.payments.pollFn = func(ctx context.Context, got uuid.UUID) (*domain.Payment, error) {
		return completed, nil
	}
	s.payments.stkPushFn = func(ctx context.Context, got uuid.UUID) (*domain.Payment, error) {
		return nil, domain.NewRequestProcessingError(got.String())
	}

	base := "/api/v1/payments/" + id.String()

	rr := s.do(http.MethodPost, base+"/complete", `{"transaction_reference":"NLJ7RT61SV"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "NLJ7RT61SV", receipt)

	rr = s.do(http.MethodPost, base+"/complete", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "body is optional for cash and card")
	assert.Empty(t, receipt)

	rr = s.do(http.MethodPost, base+"/verify", `{"verified_by":"auditor"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "auditor", verifiedBy)

	rr = s.do(http.MethodPost, base+"/verify", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, base+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, domain.ErrCodeInvalidTransition, decodeEnvelope(t, rr).Error.Code)

	rr = s.do(http.MethodPost, base+"/query", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodPost, base+"/stk-push", "", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestRefunds(t *testing.T) {
	s := newTestServer(t)
	p := samplePayment(domain.StatusCompleted)

	var got service.CreateRefundCommand
	s.refunds.createFn = func(ctx context.Context, cmd service.CreateRefundCommand) (*domain.Refund, *domain.RefundSummary, error) {
		got = cmd
		refund := &domain.Refund{ID: uuid.New(), PaymentID: cmd.PaymentID, Amount: cmd.Amount, Status: domain.RefundCompleted}
		return refund, domain.NewRefundSummary(p, cmd.Amount), nil
	}
	s.refunds.listFn = func(ctx context.Context, id uuid.UUID) ([]*domain.Refund, *domain.RefundSummary, error) {
		return nil, domain.NewRefundSummary(p, decimal.Zero), nil
	}

	rr := s.do(http.MethodPost, "/api/v1/payments/"+p.ID.String()+"/refunds",
		`{"amount":250.50,"reason":"damaged goods","processed_by":"ops"}`, nil)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, p.ID, got.PaymentID)
	assert.Equal(t, "250.5", got.Amount.String())
	assert.Equal(t, "damaged goods", got.Reason)

	var resp struct {
		Summary struct {
			Refundable decimal.Decimal `json:"refundable_amount"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &resp))
	assert.Equal(t, "749.50", resp.Summary.Refundable.StringFixed(2))

	rr = s.do(http.MethodPost, "/api/v1/payments/"+p.ID.String()+"/refunds", `{"amount":10}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodGet, "/api/v1/payments/"+p.ID.String()+"/refunds", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(decodeEnvelope(t, rr).Data), `"refunds":[]`)
}

func TestOrderSettlement(t *testing.T) {
	s := newTestServer(t)
	orderID := uuid.New()
	settlement := &domain.Settlement{
		OrderID:     orderID,
		TotalAmount: decimal.NewFromInt(5000),
		TotalPaid:   decimal.NewFromInt(2000),
		Remaining:   decimal.NewFromInt(3000),
		Status:      domain.OrderPartial,
	}
	reconciled := 0
	s.reconcile.settlementFn = func(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
		return settlement, nil
	}
	s.reconcile.reconcileFn = func(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
		reconciled++
		return settlement, nil
	}

	rr := s.do(http.MethodGet, "/api/v1/orders/"+orderID.String()+"/settlement", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got domain.Settlement
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &got))
	assert.Equal(t, domain.OrderPartial, got.Status)
	assert.Equal(t, "3000", got.Remaining.String())
	assert.Equal(t, 0, reconciled)

	rr = s.do(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, reconciled)
}

func TestListMethodsAndRegisterURLs(t *testing.T) {
	s := newTestServer(t)
	s.payments.methods = domain.DefaultMethods()[:1]
	s.payments.registerFn = func(ctx context.Context) (*domain.RegisterURLResponse, error) {
		return &domain.RegisterURLResponse{ResponseCode: "0", ResponseDescription: "success"}, nil
	}

	rr := s.do(http.MethodGet, "/api/v1/payment-methods", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var methods []domain.PaymentMethod
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rr).Data, &methods))
	assert.Len(t, methods, 1)

	rr = s.do(http.MethodPost, "/api/v1/mpesa/register-urls", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSTKCallback_AlwaysAcks(t *testing.T) {
	s := newTestServer(t)
	var gotTenant string
	s.callbacks.stkFn = func(ctx context.Context, body []byte) service.Ack {
		gotTenant = tenant.FromContext(ctx)
		return service.Ack{ResultCode: 0, ResultDesc: "Accepted"}
	}

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`
	rr := s.do(http.MethodPost, "/callbacks/mpesa/acme/stk", body, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var ack service.Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, "acme", gotTenant)
	assert.JSONEq(t, body, string(s.callbacks.lastBody))

	// Garbage is passed through untouched; the service decides the ack.
	s.callbacks.stkFn = func(ctx context.Context, body []byte) service.Ack {
		return service.Ack{ResultCode: 1, ResultDesc: "Rejected: malformed callback"}
	}
	rr = s.do(http.MethodPost, "/callbacks/mpesa/acme/stk", "not json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	assert.Equal(t, 1, ack.ResultCode)
}

func TestCallback_InvalidTenant(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodPost, "/callbacks/mpesa/BAD%20TENANT/stk", `{}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var ack service.Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	assert.Equal(t, 1, ack.ResultCode)
	assert.Equal(t, 0, s.callbacks.calls)
}

func TestC2BCallbacks(t *testing.T) {
	s := newTestServer(t)

	for _, kind := range []string{"validation", "confirmation"} {
		rr := s.do(http.MethodPost, "/callbacks/mpesa/acme/"+kind, `{"TransID":"RKTQDM7W6S"}`, nil)
		require.Equal(t, http.StatusOK, rr.Code, kind)
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rr.Body.String())
	}
	assert.Equal(t, 2, s.callbacks.calls)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	s.db.err = errors.New("connection refused")
	rr = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOpenAPIDocumentServed(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/docs/openapi.yaml", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "openapi: 3.0.3")
	assert.Contains(t, rr.Body.String(), "/api/v1/payments/{paymentID}/refunds")
}

func TestCorrelationID(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/health", "", map[string]string{"X-Correlation-ID": "corr-123"})
	assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-ID"))

	rr = s.do(http.MethodGet, "/health", "", nil)
	assert.Len(t, rr.Header().Get("X-Correlation-ID"), 26)
}

func TestRecovery(t *testing.T) {
	s := newTestServer(t)
	s.payments.getFn = func(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
		panic("boom")
	}

	rr := s.do(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), "", nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
}
