package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/metrics"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/google/uuid"
)

// Ack is the body returned to the gateway for every delivery.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	ackAccepted  = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	ackMalformed = Ack{ResultCode: 1, ResultDesc: "Rejected: malformed callback"}
	ackUnknown   = Ack{ResultCode: 1, ResultDesc: "Rejected: unknown CheckoutRequestID"}
	ackInternal  = Ack{ResultCode: 1, ResultDesc: "Rejected: internal error"}
)

// CallbackService processes asynchronous gateway confirmations.
type CallbackService struct {
	repo     ports.PaymentRepository
	payments *PaymentService
	logger   *slog.Logger
	now      func() time.Time
}

func NewCallbackService(repo ports.PaymentRepository, payments *PaymentService, logger *slog.Logger) *CallbackService {
	return &CallbackService{
		repo:     repo,
		payments: payments,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleSTKCallback applies an STK push confirmation. It never returns an
// error: every failure is logged, audited and answered with a well-formed Ack.
// Deliveries for payments that are already settled or closed are accepted
// without side effects.
func (s *CallbackService) HandleSTKCallback(ctx context.Context, body []byte) Ack {
	cb, err := domain.ParseSTKCallback(body)
	var checkoutID *string
	if cb != nil {
		id := cb.CheckoutRequestID
		checkoutID = &id
	}
	if err != nil {
		s.logger.Warn("rejected malformed stk callback", "error", err)
		s.record(ctx, domain.CallbackSTK, checkoutID, "parse_error", body)
		return ackMalformed
	}

	gtx, err := s.repo.FindGatewayTransactionByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeCallbackMismatch) {
			s.logger.Warn("stk callback for unknown checkout request",
				"checkout_request_id", cb.CheckoutRequestID,
				"tenant", tenant.FromContext(ctx),
			)
			s.record(ctx, domain.CallbackSTK, checkoutID, "mismatch", body)
			return ackUnknown
		}
		s.logger.Error("stk callback lookup failed", "checkout_request_id", cb.CheckoutRequestID, "error", err)
		s.record(ctx, domain.CallbackSTK, checkoutID, "error", body)
		return ackInternal
	}

	outcome, p, err := s.payments.applyGatewayResult(ctx, gtx, cb.Result(), cb.Raw)
	if err != nil {
		s.logger.Error("failed to apply stk callback",
			"checkout_request_id", cb.CheckoutRequestID,
			"payment_id", gtx.PaymentID,
			"error", err,
		)
		s.record(ctx, domain.CallbackSTK, checkoutID, "error", body)
		return ackInternal
	}

	if cb.Amount != nil && !cb.Amount.Equal(p.Amount.Truncate(0)) {
		s.logger.Warn("stk callback amount differs from payment amount",
			"payment_id", p.ID,
			"callback_amount", cb.Amount.String(),
			"payment_amount", p.Amount.StringFixed(2),
		)
	}

	s.logger.Info("stk callback processed",
		"checkout_request_id", cb.CheckoutRequestID,
		"payment_id", p.ID,
		"result_code", cb.ResultCode,
		"outcome", outcome,
	)
	s.record(ctx, domain.CallbackSTK, checkoutID, outcome, body)
	return ackAccepted
}

// HandleC2BValidation accepts every customer-initiated payment. Amount and
// account checks for paybill deposits are left to the merchant's own systems.
func (s *CallbackService) HandleC2BValidation(ctx context.Context, body []byte) Ack {
	n, err := domain.ParseC2BNotification(body)
	if err != nil {
		s.logger.Warn("malformed c2b validation request", "error", err)
		s.record(ctx, domain.CallbackC2BValidation, nil, "parse_error", body)
		return ackAccepted
	}
	s.logger.Info("c2b validation", "trans_id", n.TransID, "amount", n.TransAmount, "bill_ref", n.BillRefNumber)
	s.record(ctx, domain.CallbackC2BValidation, nil, "accepted", body)
	return ackAccepted
}

// HandleC2BConfirmation audits a completed customer-initiated payment.
func (s *CallbackService) HandleC2BConfirmation(ctx context.Context, body []byte) Ack {
	n, err := domain.ParseC2BNotification(body)
	if err != nil {
		s.logger.Warn("malformed c2b confirmation", "error", err)
		s.record(ctx, domain.CallbackC2BConfirmation, nil, "parse_error", body)
		return ackAccepted
	}
	s.logger.Info("c2b confirmation",
		"trans_id", n.TransID,
		"amount", n.TransAmount,
		"bill_ref", n.BillRefNumber,
		"msisdn", n.MSISDN,
	)
	s.record(ctx, domain.CallbackC2BConfirmation, nil, "recorded", body)
	return ackAccepted
}

// record writes the audit row and the outcome metric. A failed audit write is
// logged and never changes the Ack.
func (s *CallbackService) record(ctx context.Context, kind domain.CallbackKind, checkoutID *string, outcome string, body []byte) {
	metrics.CallbacksTotal.WithLabelValues(string(kind), outcome).Inc()

	entry := &domain.CallbackLog{
		ID:                uuid.New(),
		TenantID:          tenant.FromContext(ctx),
		Kind:              kind,
		CheckoutRequestID: checkoutID,
		Outcome:           outcome,
		Payload:           json.RawMessage(body),
		ReceivedAt:        s.now(),
	}
	if err := s.repo.SaveCallbackLog(ctx, entry); err != nil {
		s.logger.Error("failed to save callback log", "kind", kind, "outcome", outcome, "error", err)
	}
}
