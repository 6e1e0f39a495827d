package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/metrics"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	outcomeCompleted  = "completed"
	outcomeFailed     = "failed"
	outcomeDuplicate  = "duplicate"
	outcomeBackfilled = "backfilled"

	stkLockTTL = 45 * time.Second
)

type PaymentConfig struct {
	CallbackBaseURL string
	STKTimeout      time.Duration
	IdempotencyTTL  time.Duration
	// ExpiryGrace is how long past ExpiresAt a processing payment keeps
	// being polled before it is failed as expired.
	ExpiryGrace time.Duration
}

// retryPolicy bounds the retries of bookkeeping that must not be lost once the
// gateway has acted, such as storing the CheckoutRequestID of an accepted push.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

var defaultPersistPolicy = retryPolicy{attempts: 5, backoff: 200 * time.Millisecond, timeout: 15 * time.Second}

type PaymentService struct {
	repo       ports.PaymentRepository
	gateway    ports.MobileMoneyGateway
	methods    *domain.MethodRegistry
	reconciler *ReconciliationService
	cache      ports.Cache
	notify     *customerNotifier
	cfg        PaymentConfig
	persist    retryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

func NewPaymentService(
	repo ports.PaymentRepository,
	gateway ports.MobileMoneyGateway,
	methods *domain.MethodRegistry,
	reconciler *ReconciliationService,
	cache ports.Cache,
	notifier ports.Notifier,
	cfg PaymentConfig,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:       repo,
		gateway:    gateway,
		methods:    methods,
		reconciler: reconciler,
		cache:      cache,
		notify:     newCustomerNotifier(repo, notifier, logger),
		cfg:        cfg,
		persist:    defaultPersistPolicy,
		logger:     logger,
		now:        time.Now,
	}
}

type CreatePaymentCommand struct {
	OrderID         *uuid.UUID
	CustomerID      *string
	ParentPaymentID *uuid.UUID
	MethodID        string
	Amount          decimal.Decimal
	PhoneNumber     string
	Reference       string
	Description     string
	IdempotencyKey  string
}

func (c CreatePaymentCommand) fingerprint() string {
	var order, parent string
	if c.OrderID != nil {
		order = c.OrderID.String()
	}
	if c.ParentPaymentID != nil {
		parent = c.ParentPaymentID.String()
	}
	hashInput := strings.Join([]string{c.MethodID, c.Amount.StringFixed(2), order, parent, c.PhoneNumber, c.Reference}, "|")
	hashBytes := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hashBytes[:8])
}

// CreatePayment opens a payment. Cash settles immediately, M-Pesa sends an
// STK push and moves to processing once the gateway accepts it, every other
// method waits for manual completion.
//
// With an idempotency key, a repeated request returns the payment created by
// the first one and a concurrent duplicate gets REQUEST_PROCESSING.
func (s *PaymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (*domain.Payment, error) {
	if cmd.IdempotencyKey == "" {
		return s.createPayment(ctx, cmd)
	}

	key := "idem:payment:" + tenant.FromContext(ctx) + ":" + cmd.IdempotencyKey
	fingerprint := cmd.fingerprint()

	claimed, err := s.cache.SetNX(ctx, key, fingerprint+":", s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if !claimed {
		return s.replay(ctx, key, cmd.IdempotencyKey, fingerprint)
	}

	p, err := s.createPayment(ctx, cmd)
	if p == nil {
		// Nothing was persisted, so the client may retry with the same key.
		if delErr := s.cache.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to release idempotency key", "key", cmd.IdempotencyKey, "error", delErr)
		}
		return nil, err
	}
	// The payment exists from here on; a retry must replay it even when the
	// caller already went away.
	if setErr := s.cache.Set(context.WithoutCancel(ctx), key, fingerprint+":"+p.ID.String(), s.cfg.IdempotencyTTL); setErr != nil {
		s.logger.Warn("failed to store idempotency result", "key", cmd.IdempotencyKey, "error", setErr)
	}
	return p, err
}

func (s *PaymentService) replay(ctx context.Context, cacheKey, key, fingerprint string) (*domain.Payment, error) {
	val, ok, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !ok {
		return nil, domain.NewRequestProcessingError(key)
	}
	storedFingerprint, paymentID, _ := strings.Cut(val, ":")
	if storedFingerprint != fingerprint {
		return nil, domain.NewDuplicateRequestError(key)
	}
	if paymentID == "" {
		return nil, domain.NewRequestProcessingError(key)
	}
	id, err := uuid.Parse(paymentID)
	if err != nil {
		return nil, domain.NewRequestProcessingError(key)
	}
	return s.repo.FindByID(ctx, id)
}

func (s *PaymentService) createPayment(ctx context.Context, cmd CreatePaymentCommand) (*domain.Payment, error) {
	method, err := s.methods.Get(cmd.MethodID)
	if err != nil {
		return nil, err
	}

	var order *domain.Order
	if cmd.OrderID != nil {
		order, err = s.repo.FindOrder(ctx, *cmd.OrderID)
		if err != nil {
			return nil, err
		}
	}

	customerID := cmd.CustomerID
	if customerID == nil && order != nil {
		customerID = order.CustomerID
	}

	var phone string
	if method.Type == domain.MethodMpesa {
		phone = cmd.PhoneNumber
		if phone == "" && order != nil && order.CustomerPhone != nil {
			phone = *order.CustomerPhone
		}
		if phone == "" {
			return nil, domain.NewValidationError("phone_number is required for M-Pesa payments")
		}
		if phone, err = domain.NormalizePhone(phone); err != nil {
			return nil, err
		}
	}

	now := s.now()
	params := domain.NewPaymentParams{
		TenantID:        tenant.FromContext(ctx),
		OrderID:         cmd.OrderID,
		CustomerID:      customerID,
		ParentPaymentID: cmd.ParentPaymentID,
		Method:          method,
		Amount:          cmd.Amount,
		Reference:       cmd.Reference,
		Description:     cmd.Description,
	}
	if method.Type == domain.MethodMpesa {
		params.TTL = s.cfg.STKTimeout
	}
	payment, err := domain.NewPayment(params, now)
	if err != nil {
		return nil, err
	}

	var (
		gtx       *domain.GatewayTransaction
		completed bool
	)
	err = s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		// The limit check and the insert serialize per tenant and method, and
		// the new pending row counts against the limit for the next caller.
		if method.DailyLimit.IsPositive() {
			if err := txRepo.LockMethodVolume(ctx, method.ID); err != nil {
				return err
			}
		}
		usedToday, err := txRepo.SumMethodVolume(ctx, method.ID, startOfDay(now))
		if err != nil {
			return err
		}
		if err := method.ValidateAmount(cmd.Amount, usedToday); err != nil {
			return err
		}

		if err := txRepo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		switch method.Type {
		case domain.MethodMpesa:
			gtx = domain.NewGatewayTransaction(payment.ID, phone, now)
			return txRepo.CreateGatewayTransaction(ctx, gtx)
		case domain.MethodCash:
			completed, err = completeInTx(ctx, txRepo, payment, "", now)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment created",
		"payment_id", payment.ID,
		"method", method.ID,
		"amount", payment.Amount.StringFixed(2),
		"fee", payment.ProcessingFee.StringFixed(2),
		"status", payment.Status,
	)

	if completed {
		s.afterCompletion(ctx, payment)
	}
	if gtx != nil {
		return s.pushToPhone(ctx, payment, gtx)
	}
	return payment, nil
}

// InitiateSTKPush re-sends the prompt for a pending M-Pesa payment whose first
// push never reached the gateway.
func (s *PaymentService) InitiateSTKPush(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.MethodType != domain.MethodMpesa {
		return nil, domain.NewValidationError("payment %s is not an M-Pesa payment", p.ID)
	}
	if p.Status != domain.StatusPending {
		return nil, domain.NewInvalidTransitionError(p.Status, domain.StatusProcessing)
	}
	if p.ExpiresAt != nil && s.now().After(*p.ExpiresAt) {
		return nil, domain.NewValidationError("payment %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339))
	}

	gtx, err := s.repo.FindGatewayTransactionByPaymentID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if gtx.HasCheckout() {
		return nil, domain.NewValidationError("an STK push was already accepted for payment %s", p.ID)
	}

	lockKey := "stk:lock:" + p.ID.String()
	locked, err := s.cache.SetNX(ctx, lockKey, "1", stkLockTTL)
	if err != nil {
		return nil, fmt.Errorf("stk push lock: %w", err)
	}
	if !locked {
		return nil, domain.NewRequestProcessingError(p.ID.String())
	}
	defer func() {
		if err := s.cache.Delete(ctx, lockKey); err != nil {
			s.logger.Warn("failed to release stk push lock", "payment_id", p.ID, "error", err)
		}
	}()

	return s.pushToPhone(ctx, p, gtx)
}

// pushToPhone asks the gateway to prompt the customer. Acceptance moves the
// payment to processing; a rejection fails it with the gateway's reason;
// transport and authentication errors leave it pending for a later retry.
func (s *PaymentService) pushToPhone(ctx context.Context, p *domain.Payment, gtx *domain.GatewayTransaction) (*domain.Payment, error) {
	resp, err := s.gateway.InitiateSTKPush(ctx, domain.STKPushRequest{
		PhoneNumber: gtx.PhoneNumber,
		Amount:      p.Amount,
		Reference:   p.Reference,
		Description: p.Description,
		CallbackURL: s.callbackURL(ctx, "stk"),
	})
	now := s.now()

	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeGatewayRejection) {
			metrics.STKPushTotal.WithLabelValues("rejected").Inc()
			return s.failRejected(ctx, p, err, now)
		}
		metrics.STKPushTotal.WithLabelValues("error").Inc()
		s.logger.Warn("stk push failed, payment left pending",
			"payment_id", p.ID,
			"error", err,
		)
		return p, err
	}

	metrics.STKPushTotal.WithLabelValues("accepted").Inc()
	checkout := resp.CheckoutRequestID
	merchant := resp.MerchantRequestID

	// The customer has been prompted. Without the CheckoutRequestID the
	// confirmation cannot be matched, so this outlives the caller's context.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persist.timeout)
	defer cancel()

	var applied bool
	err = s.withRetry(persistCtx, func() error {
		return s.repo.WithTx(persistCtx, func(txRepo ports.PaymentRepository) error {
			var err error
			applied, err = recordAcceptance(persistCtx, txRepo, p, gtx, resp, now)
			return err
		})
	})
	if err != nil {
		s.logger.Error("stk push accepted but not recorded",
			"payment_id", p.ID,
			"checkout_request_id", checkout,
			"merchant_request_id", merchant,
			"error", err,
		)
		return p, fmt.Errorf("record stk push acceptance: %w", err)
	}

	gtx.CheckoutRequestID = &checkout
	gtx.MerchantRequestID = &merchant
	if !applied {
		if current, err := s.repo.FindByID(persistCtx, p.ID); err == nil {
			*p = *current
		}
		if p.Status != domain.StatusProcessing {
			s.logger.Warn("stk push accepted for a payment that is no longer pending",
				"payment_id", p.ID,
				"status", p.Status,
				"checkout_request_id", checkout,
			)
		}
		return p, nil
	}
	if err := p.MarkProcessing(now); err != nil {
		return p, err
	}
	p.GatewayResponse = resp.Raw
	metrics.PaymentTransitionsTotal.WithLabelValues(string(domain.StatusProcessing)).Inc()

	s.logger.Info("stk push accepted",
		"payment_id", p.ID,
		"checkout_request_id", checkout,
	)
	return p, nil
}

// recordAcceptance attaches the checkout ids and moves the payment to
// processing. A retry after an unacknowledged commit finds the ids already
// attached and carries on.
func recordAcceptance(ctx context.Context, txRepo ports.PaymentRepository, p *domain.Payment, gtx *domain.GatewayTransaction, resp *domain.STKPushResponse, now time.Time) (bool, error) {
	stored, err := txRepo.FindGatewayTransactionByPaymentID(ctx, p.ID)
	if err != nil {
		return false, err
	}
	switch {
	case !stored.HasCheckout():
		if err := txRepo.AttachCheckout(ctx, gtx.ID, resp.MerchantRequestID, resp.CheckoutRequestID); err != nil {
			return false, err
		}
	case *stored.CheckoutRequestID != resp.CheckoutRequestID:
		return false, domain.NewValidationError("payment %s is already bound to checkout request %s", p.ID, *stored.CheckoutRequestID)
	}
	return txRepo.MarkProcessing(ctx, p.ID, resp.Raw, now)
}

// withRetry runs op until it succeeds, fails with a domain error or the
// policy is exhausted. Domain errors are final; anything else is treated as a
// transient storage failure.
func (s *PaymentService) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		var domainErr *domain.DomainError
		if err == nil || errors.As(err, &domainErr) || attempt >= s.persist.attempts {
			return err
		}
		s.logger.Warn("retrying after storage error", "attempt", attempt, "error", err)

		timer := time.NewTimer(time.Duration(attempt) * s.persist.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (s *PaymentService) failRejected(ctx context.Context, p *domain.Payment, rejectErr error, now time.Time) (*domain.Payment, error) {
	reason := rejectErr.Error()
	var rejection *domain.GatewayRejection
	if errors.As(rejectErr, &rejection) && rejection.Description != "" {
		reason = rejection.Description
	}

	var failed bool
	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		current, err := txRepo.FindByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		*p = *current
		if !current.IsOpen() {
			return nil
		}
		failed, err = failInTx(ctx, txRepo, p, reason, nil, now)
		return err
	})
	if err != nil {
		s.logger.Error("failed to record gateway rejection", "payment_id", p.ID, "error", err)
		return p, rejectErr
	}

	s.logger.Info("stk push rejected", "payment_id", p.ID, "reason", reason)
	if failed {
		s.notify.paymentFailed(ctx, p)
	}
	return p, rejectErr
}

// PollStatus asks the gateway for the outcome of a processing payment. It is
// the fallback for confirmations that never arrived.
func (s *PaymentService) PollStatus(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return p, nil
	}

	gtx, err := s.repo.FindGatewayTransactionByPaymentID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !gtx.HasCheckout() {
		return nil, domain.NewValidationError("payment %s has no accepted STK push to query", p.ID)
	}

	res, err := s.gateway.QueryStatus(ctx, *gtx.CheckoutRequestID)
	if err != nil {
		if s.pastExpiry(p) {
			s.logger.Warn("status query failed for an expired payment", "payment_id", p.ID, "error", err)
			return s.expire(ctx, p.ID)
		}
		return nil, err
	}
	if res.Pending {
		if s.pastExpiry(p) {
			return s.expire(ctx, p.ID)
		}
		s.logger.Debug("stk push still pending", "payment_id", p.ID)
		return p, nil
	}

	result := domain.CallbackResult{
		ResultCode: res.ResultCode,
		ResultDesc: res.ResultDesc,
	}
	outcome, updated, err := s.applyGatewayResult(ctx, gtx, result, res.Raw)
	if err != nil {
		return nil, err
	}
	s.logger.Info("status poll applied", "payment_id", p.ID, "outcome", outcome, "result_code", res.ResultCode)
	return updated, nil
}

func (s *PaymentService) pastExpiry(p *domain.Payment) bool {
	return p.ExpiresAt != nil && s.now().After(p.ExpiresAt.Add(s.cfg.ExpiryGrace))
}

// expire fails an open payment that the gateway never resolved.
func (s *PaymentService) expire(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	now := s.now()

	var (
		p      *domain.Payment
		failed bool
	)
	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		current, err := txRepo.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p = current
		if !current.IsOpen() {
			return nil
		}
		failed, err = failInTx(ctx, txRepo, current, domain.ReasonExpired, nil, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if failed {
		s.logger.Info("payment expired without confirmation", "payment_id", p.ID, "expires_at", p.ExpiresAt)
		s.notify.paymentFailed(ctx, p)
	}
	return p, nil
}

// applyGatewayResult drives a payment from a gateway outcome, whether it came
// from a callback or a status poll. The payment row is locked and every
// transition is guarded, so concurrent or repeated deliveries apply at most once.
func (s *PaymentService) applyGatewayResult(ctx context.Context, gtx *domain.GatewayTransaction, res domain.CallbackResult, gatewayResponse json.RawMessage) (string, *domain.Payment, error) {
	now := s.now()
	outcome := outcomeDuplicate
	var p *domain.Payment

	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		current, err := txRepo.FindByIDForUpdate(ctx, gtx.PaymentID)
		if err != nil {
			return err
		}
		p = current

		if err := txRepo.RecordCallbackResult(ctx, gtx.ID, res); err != nil {
			return err
		}

		if !current.IsOpen() {
			if res.ResultCode == 0 && res.ReceiptNumber != "" && current.IsSettled() && current.TransactionID == nil {
				applied, err := txRepo.BackfillReceipt(ctx, current.ID, res.ReceiptNumber)
				if err != nil {
					return err
				}
				if applied {
					receipt := res.ReceiptNumber
					current.TransactionID = &receipt
					outcome = outcomeBackfilled
				}
			}
			if res.ResultCode == 0 && !current.IsSettled() {
				s.logger.Warn("successful gateway result for a closed payment, needs manual review",
					"payment_id", current.ID,
					"status", current.Status,
					"receipt", res.ReceiptNumber,
				)
			}
			return nil
		}

		if res.ResultCode == 0 {
			applied, err := completeInTx(ctx, txRepo, current, res.ReceiptNumber, now)
			if applied {
				outcome = outcomeCompleted
			}
			return err
		}

		reason := domain.FailureReason(res.ResultCode, res.ResultDesc)
		applied, err := failInTx(ctx, txRepo, current, reason, gatewayResponse, now)
		if applied {
			outcome = outcomeFailed
		}
		return err
	})
	if err != nil {
		return "", nil, err
	}

	switch outcome {
	case outcomeCompleted:
		s.afterCompletion(ctx, p)
	case outcomeFailed:
		s.notify.paymentFailed(ctx, p)
	}
	return outcome, p, nil
}

type CompletePaymentCommand struct {
	TransactionReference string
}

// CompleteManually settles a payment confirmed outside the gateway, such as a
// card terminal slip, a bank statement line or a receipt read off a phone.
func (s *PaymentService) CompleteManually(ctx context.Context, paymentID uuid.UUID, cmd CompletePaymentCommand) (*domain.Payment, error) {
	ref := strings.TrimSpace(cmd.TransactionReference)
	now := s.now()

	var p *domain.Payment
	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		current, err := txRepo.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p = current
		if current.MethodType == domain.MethodMpesa && ref == "" {
			return domain.NewValidationError("the M-Pesa receipt number is required to complete payment %s manually", current.ID)
		}
		applied, err := completeInTx(ctx, txRepo, current, ref, now)
		if err != nil {
			return err
		}
		if !applied {
			return domain.NewInvalidTransitionError(current.Status, domain.StatusCompleted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment completed manually", "payment_id", p.ID)
	s.afterCompletion(ctx, p)
	return p, nil
}

// Verify marks a completed payment as checked by an operator.
func (s *PaymentService) Verify(ctx context.Context, paymentID uuid.UUID, by string) (*domain.Payment, error) {
	if strings.TrimSpace(by) == "" {
		return nil, domain.NewValidationError("verified_by is required")
	}
	now := s.now()

	var p *domain.Payment
	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		current, err := txRepo.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p = current
		if err := current.CanTransitionTo(domain.StatusVerified); err != nil {
			return err
		}
		applied, err := txRepo.VerifyPayment(ctx, current.ID, by, now)
		if err != nil {
			return err
		}
		if !applied {
			return domain.NewInvalidTransitionError(current.Status, domain.StatusVerified)
		}
		return current.Verify(by, now)
	})
	if err != nil {
		return nil, err
	}
	metrics.PaymentTransitionsTotal.WithLabelValues(string(domain.StatusVerified)).Inc()
	return p, nil
}

// Cancel closes a payment that is still pending or processing.
func (s *PaymentService) Cancel(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	now := s.now()

	var p *domain.Payment
	err := s.repo.WithTx(ctx, func(txRepo ports.PaymentRepository) error {
		current, err := txRepo.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p = current
		if err := current.CanTransitionTo(domain.StatusCancelled); err != nil {
			return err
		}
		applied, err := txRepo.CancelPayment(ctx, current.ID, now)
		if err != nil {
			return err
		}
		if !applied {
			return domain.NewInvalidTransitionError(current.Status, domain.StatusCancelled)
		}
		return current.Cancel(now)
	})
	if err != nil {
		return nil, err
	}
	metrics.PaymentTransitionsTotal.WithLabelValues(string(domain.StatusCancelled)).Inc()
	s.logger.Info("payment cancelled", "payment_id", p.ID)
	return p, nil
}

func (s *PaymentService) Get(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.repo.FindByID(ctx, paymentID)
}

// GatewayTransaction returns the M-Pesa side of a payment.
func (s *PaymentService) GatewayTransaction(ctx context.Context, paymentID uuid.UUID) (*domain.GatewayTransaction, error) {
	return s.repo.FindGatewayTransactionByPaymentID(ctx, paymentID)
}

func (s *PaymentService) ListMethods() []domain.PaymentMethod {
	return s.methods.Active()
}

// RegisterC2BURLs points the shortcode's C2B validation and confirmation
// callbacks at this service for the current tenant.
func (s *PaymentService) RegisterC2BURLs(ctx context.Context) (*domain.RegisterURLResponse, error) {
	return s.gateway.RegisterCallbackURLs(ctx, s.callbackURL(ctx, "validation"), s.callbackURL(ctx, "confirmation"))
}

func (s *PaymentService) afterCompletion(ctx context.Context, p *domain.Payment) {
	s.reconciler.afterPayment(ctx, p)
	s.notify.paymentCompleted(ctx, p)
}

func (s *PaymentService) callbackURL(ctx context.Context, kind string) string {
	return strings.TrimRight(s.cfg.CallbackBaseURL, "/") + "/callbacks/mpesa/" + tenant.FromContext(ctx) + "/" + kind
}

// startOfDay is midnight of now's calendar day in the gateway's zone; daily
// limits reset then.
func startOfDay(now time.Time) time.Time {
	local := now.In(domain.EastAfricaTime)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, domain.EastAfricaTime)
}
