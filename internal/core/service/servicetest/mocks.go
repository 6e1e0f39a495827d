// Package servicetest provides in-memory doubles of the payment ports for
// tests of the service layer and the code built on it.
package servicetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockPaymentRepository is an in-memory PaymentRepository. Transitions are
// guarded the same way the SQL updates are, and WithTx serializes
// transactions, which stands in for the row locks.
type MockPaymentRepository struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	payments     map[uuid.UUID]*domain.Payment
	gateway      map[uuid.UUID]*domain.GatewayTransaction
	refunds      map[uuid.UUID][]*domain.Refund
	orders       map[uuid.UUID]*domain.Order
	callbackLogs []*domain.CallbackLog
	outbox       []*domain.OutboxEntry
	lastPolled   map[uuid.UUID]time.Time
	pollAttempts map[uuid.UUID]int
	volumeLocks  int

	FindByIDFn               func(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindStaleProcessingFn    func(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
	CompletePaymentFn        func(ctx context.Context, id uuid.UUID, receipt string, at time.Time) (bool, error)
	UpdateOrderPaymentFn     func(ctx context.Context, id uuid.UUID, s *domain.Settlement) error
	SaveCallbackLogFn        func(ctx context.Context, log *domain.CallbackLog) error
	FetchUnpublishedEventsFn func(ctx context.Context, limit int) ([]*domain.OutboxEntry, error)
	WithTxFn                 func(ctx context.Context, fn func(repo ports.PaymentRepository) error) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[uuid.UUID]*domain.Payment),
		gateway:  make(map[uuid.UUID]*domain.GatewayTransaction),
		refunds:  make(map[uuid.UUID][]*domain.Refund),
		orders:   make(map[uuid.UUID]*domain.Order),

		lastPolled:   make(map[uuid.UUID]time.Time),
		pollAttempts: make(map[uuid.UUID]int),
	}
}

// Test helpers

func (m *MockPaymentRepository) SeedPayment(p *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.TenantID == "" {
		p.TenantID = tenant.Default
	}
	cp := *p
	m.payments[p.ID] = &cp
}

func (m *MockPaymentRepository) SeedGatewayTransaction(t *domain.GatewayTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.gateway[t.ID] = &cp
}

func (m *MockPaymentRepository) SeedOrder(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.TenantID == "" {
		o.TenantID = tenant.Default
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = domain.OrderPending
	}
	cp := *o
	m.orders[o.ID] = &cp
}

// Events returns the outbox entries of the given type, or all when eventType is empty.
func (m *MockPaymentRepository) Events(eventType string) []*domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Event
	for _, e := range m.outbox {
		if eventType == "" || e.Event.Type == eventType {
			ev := e.Event
			out = append(out, &ev)
		}
	}
	return out
}

func (m *MockPaymentRepository) CallbackLogs() []*domain.CallbackLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.CallbackLog(nil), m.callbackLogs...)
}

func (m *MockPaymentRepository) visible(ctx context.Context, tenantID string) bool {
	return tenantID == tenant.FromContext(ctx)
}

// Payments

func (m *MockPaymentRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	if m.FindByIDFn != nil {
		return m.FindByIDFn(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.payments[id]; ok && m.visible(ctx, p.TenantID) {
		cp := *p
		return &cp, nil
	}
	return nil, domain.NewPaymentNotFoundError(id.String())
}

func (m *MockPaymentRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return m.FindByID(ctx, id)
}

func (m *MockPaymentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID && m.visible(ctx, p.TenantID) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockPaymentRepository) FindStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	if m.FindStaleProcessingFn != nil {
		return m.FindStaleProcessingFn(ctx, olderThan, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.Status != domain.StatusProcessing || !p.UpdatedAt.Before(cutoff) {
			continue
		}
		if polled, ok := m.lastPolled[p.ID]; ok && !polled.Before(cutoff) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, iPolled := m.lastPolled[out[i].ID]
		pj, jPolled := m.lastPolled[out[j].ID]
		if iPolled != jPolled {
			return !iPolled
		}
		if iPolled && !pi.Equal(pj) {
			return pi.Before(pj)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepository) RecordPollAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPolled[id] = at
	m.pollAttempts[id]++
	return nil
}

func (m *MockPaymentRepository) PollAttempts(id uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pollAttempts[id]
}

func (m *MockPaymentRepository) SumMethodVolume(ctx context.Context, methodID string, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	total := decimal.Zero
	for _, p := range m.payments {
		if p.MethodID != methodID || p.InitiatedAt.Before(since) || !m.visible(ctx, p.TenantID) {
			continue
		}
		switch p.Status {
		case domain.StatusProcessing, domain.StatusCompleted, domain.StatusVerified:
			total = total.Add(p.Amount)
		case domain.StatusPending:
			if p.ExpiresAt == nil || p.ExpiresAt.After(now) {
				total = total.Add(p.Amount)
			}
		}
	}
	return total, nil
}

// LockMethodVolume only counts calls; WithTx already serializes transactions.
func (m *MockPaymentRepository) LockMethodVolume(ctx context.Context, methodID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumeLocks++
	return nil
}

func (m *MockPaymentRepository) VolumeLocks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volumeLocks
}

// guarded applies mutate when the stored payment is in one of from.
func (m *MockPaymentRepository) guarded(ctx context.Context, id uuid.UUID, mutate func(p *domain.Payment), from ...domain.PaymentStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || !m.visible(ctx, p.TenantID) {
		return false
	}
	for _, s := range from {
		if p.Status == s {
			mutate(p)
			return true
		}
	}
	return false
}

func (m *MockPaymentRepository) MarkProcessing(ctx context.Context, id uuid.UUID, gatewayResponse json.RawMessage, at time.Time) (bool, error) {
	return m.guarded(ctx, id, func(p *domain.Payment) {
		p.Status = domain.StatusProcessing
		if len(gatewayResponse) > 0 {
			p.GatewayResponse = gatewayResponse
		}
		p.UpdatedAt = at
	}, domain.StatusPending), nil
}

func (m *MockPaymentRepository) CompletePayment(ctx context.Context, id uuid.UUID, receipt string, at time.Time) (bool, error) {
	if m.CompletePaymentFn != nil {
		return m.CompletePaymentFn(ctx, id, receipt, at)
	}
	return m.guarded(ctx, id, func(p *domain.Payment) {
		p.Status = domain.StatusCompleted
		if receipt != "" {
			r := receipt
			p.TransactionID = &r
		}
		p.CompletedAt = &at
		p.UpdatedAt = at
	}, domain.StatusPending, domain.StatusProcessing), nil
}

func (m *MockPaymentRepository) FailPayment(ctx context.Context, id uuid.UUID, reason string, gatewayResponse json.RawMessage, at time.Time) (bool, error) {
	return m.guarded(ctx, id, func(p *domain.Payment) {
		p.Status = domain.StatusFailed
		r := reason
		p.FailureReason = &r
		if len(gatewayResponse) > 0 {
			p.GatewayResponse = gatewayResponse
		}
		p.UpdatedAt = at
	}, domain.StatusPending, domain.StatusProcessing), nil
}

func (m *MockPaymentRepository) CancelPayment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.guarded(ctx, id, func(p *domain.Payment) {
		p.Status = domain.StatusCancelled
		p.UpdatedAt = at
	}, domain.StatusPending, domain.StatusProcessing), nil
}

func (m *MockPaymentRepository) VerifyPayment(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	return m.guarded(ctx, id, func(p *domain.Payment) {
		p.Status = domain.StatusVerified
		b := by
		p.VerifiedBy = &b
		p.VerifiedAt = &at
		p.UpdatedAt = at
	}, domain.StatusCompleted), nil
}

func (m *MockPaymentRepository) BackfillReceipt(ctx context.Context, id uuid.UUID, receipt string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.TransactionID != nil || !p.IsSettled() {
		return false, nil
	}
	r := receipt
	p.TransactionID = &r
	return true, nil
}

// Gateway transactions

func (m *MockPaymentRepository) CreateGatewayTransaction(ctx context.Context, t *domain.GatewayTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.gateway[t.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) FindGatewayTransactionByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.GatewayTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.gateway {
		if t.PaymentID == paymentID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.NewPaymentNotFoundError(paymentID.String())
}

func (m *MockPaymentRepository) FindGatewayTransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.GatewayTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.gateway {
		if t.CheckoutRequestID == nil || *t.CheckoutRequestID != checkoutRequestID {
			continue
		}
		if p, ok := m.payments[t.PaymentID]; ok && m.visible(ctx, p.TenantID) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.NewCallbackMismatchError(checkoutRequestID)
}

func (m *MockPaymentRepository) AttachCheckout(ctx context.Context, id uuid.UUID, merchantRequestID, checkoutRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.gateway[id]
	if !ok || t.CheckoutRequestID != nil {
		return domain.NewInvalidTransitionError(domain.StatusProcessing, domain.StatusProcessing)
	}
	merchant, checkout := merchantRequestID, checkoutRequestID
	t.MerchantRequestID = &merchant
	t.CheckoutRequestID = &checkout
	return nil
}

func (m *MockPaymentRepository) RecordCallbackResult(ctx context.Context, id uuid.UUID, res domain.CallbackResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.gateway[id]
	if !ok {
		return nil
	}
	if t.ReceiptNumber == nil && res.ReceiptNumber != "" {
		r := res.ReceiptNumber
		t.ReceiptNumber = &r
	}
	if t.TransactionDate == nil {
		t.TransactionDate = res.TransactionDate
	}
	if t.ResultCode == nil {
		code := res.ResultCode
		t.ResultCode = &code
	}
	if t.ResultDesc == nil && res.ResultDesc != "" {
		desc := res.ResultDesc
		t.ResultDesc = &desc
	}
	if t.RawCallback == nil && len(res.Raw) > 0 {
		t.RawCallback = res.Raw
	}
	return nil
}

// Refunds

func (m *MockPaymentRepository) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *refund
	m.refunds[refund.PaymentID] = append(m.refunds[refund.PaymentID], &cp)
	return nil
}

func (m *MockPaymentRepository) SumRefunds(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, r := range m.refunds[paymentID] {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (m *MockPaymentRepository) FindRefunds(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Refund, 0, len(m.refunds[paymentID]))
	for _, r := range m.refunds[paymentID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// Orders

func (m *MockPaymentRepository) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[id]; ok && m.visible(ctx, o.TenantID) {
		cp := *o
		return &cp, nil
	}
	return nil, domain.NewOrderNotFoundError(id.String())
}

func (m *MockPaymentRepository) FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return m.FindOrder(ctx, id)
}

func (m *MockPaymentRepository) UpdateOrderPayment(ctx context.Context, id uuid.UUID, s *domain.Settlement) error {
	if m.UpdateOrderPaymentFn != nil {
		return m.UpdateOrderPaymentFn(ctx, id, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.NewOrderNotFoundError(id.String())
	}
	o.PaymentStatus = s.Status
	o.PaymentMethod = s.PaymentMethod
	o.PaymentDate = s.PaymentDate
	return nil
}

func (m *MockPaymentRepository) SaveCallbackLog(ctx context.Context, log *domain.CallbackLog) error {
	if m.SaveCallbackLogFn != nil {
		return m.SaveCallbackLogFn(ctx, log)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *log
	m.callbackLogs = append(m.callbackLogs, &cp)
	return nil
}

// Outbox

func (m *MockPaymentRepository) EnqueueEvent(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, &domain.OutboxEntry{Event: *event})
	return nil
}

func (m *MockPaymentRepository) FetchUnpublishedEvents(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	if m.FetchUnpublishedEventsFn != nil {
		return m.FetchUnpublishedEventsFn(ctx, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OutboxEntry
	for _, e := range m.outbox {
		if e.PublishedAt == nil && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPaymentRepository) MarkEventPublished(ctx context.Context, eventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.outbox {
		if e.Event.ID == eventID {
			e.PublishedAt = &at
			e.Attempts++
			e.LastError = nil
		}
	}
	return nil
}

func (m *MockPaymentRepository) MarkEventFailed(ctx context.Context, eventID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.outbox {
		if e.Event.ID == eventID {
			r := reason
			e.Attempts++
			e.LastError = &r
		}
	}
	return nil
}

// Outbox returns a snapshot of every outbox entry.
func (m *MockPaymentRepository) Outbox() []domain.OutboxEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.OutboxEntry, 0, len(m.outbox))
	for _, e := range m.outbox {
		out = append(out, *e)
	}
	return out
}

func (m *MockPaymentRepository) WithTx(ctx context.Context, fn func(repo ports.PaymentRepository) error) error {
	if m.WithTxFn != nil {
		return m.WithTxFn(ctx, fn)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

// MockGateway
type MockGateway struct {
	mu    sync.Mutex
	calls map[string]int
	Delay time.Duration

	InitiateSTKPushFn      func(ctx context.Context, req domain.STKPushRequest) (*domain.STKPushResponse, error)
	QueryStatusFn          func(ctx context.Context, checkoutRequestID string) (*domain.STKQueryResponse, error)
	RegisterCallbackURLsFn func(ctx context.Context, validationURL, confirmationURL string) (*domain.RegisterURLResponse, error)

	LastPush *domain.STKPushRequest
}

func (m *MockGateway) inc(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

func (m *MockGateway) GetCalls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockGateway) InitiateSTKPush(ctx context.Context, req domain.STKPushRequest) (*domain.STKPushResponse, error) {
	m.inc("InitiateSTKPush")
	m.mu.Lock()
	m.LastPush = &req
	m.mu.Unlock()
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.InitiateSTKPushFn != nil {
		return m.InitiateSTKPushFn(ctx, req)
	}
	return &domain.STKPushResponse{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_191220191020363925",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
		Raw:                 json.RawMessage(`{"ResponseCode":"0"}`),
	}, nil
}

func (m *MockGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*domain.STKQueryResponse, error) {
	m.inc("QueryStatus")
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.QueryStatusFn != nil {
		return m.QueryStatusFn(ctx, checkoutRequestID)
	}
	return &domain.STKQueryResponse{CheckoutRequestID: checkoutRequestID, Pending: true}, nil
}

func (m *MockGateway) RegisterCallbackURLs(ctx context.Context, validationURL, confirmationURL string) (*domain.RegisterURLResponse, error) {
	m.inc("RegisterCallbackURLs")
	if m.RegisterCallbackURLsFn != nil {
		return m.RegisterCallbackURLsFn(ctx, validationURL, confirmationURL)
	}
	return &domain.RegisterURLResponse{ResponseCode: "0", ResponseDescription: "Success"}, nil
}

// MockNotifier records every message it is asked to send.
type MockNotifier struct {
	mu     sync.Mutex
	sent   []ports.Recipient
	msgs   []string
	SendFn func(ctx context.Context, to ports.Recipient, message string) error
}

func (m *MockNotifier) Send(ctx context.Context, to ports.Recipient, message string) error {
	m.mu.Lock()
	m.sent = append(m.sent, to)
	m.msgs = append(m.msgs, message)
	m.mu.Unlock()
	if m.SendFn != nil {
		return m.SendFn(ctx, to, message)
	}
	return nil
}

func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

func (m *MockNotifier) Recipients() []ports.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.Recipient(nil), m.sent...)
}
