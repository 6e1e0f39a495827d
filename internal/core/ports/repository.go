package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepository defines the persistence boundary for payments, their
// gateway transactions, refunds, the derived order fields and the outbox.
//
// Status changes are precondition guarded: each transition method applies
// only when the stored status allows it and reports whether it did.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error)
	FindStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
	SumMethodVolume(ctx context.Context, methodID string, since time.Time) (decimal.Decimal, error)
	// LockMethodVolume serializes daily limit checks for a method of the
	// current tenant until the surrounding transaction ends.
	LockMethodVolume(ctx context.Context, methodID string) error
	RecordPollAttempt(ctx context.Context, id uuid.UUID, at time.Time) error

	MarkProcessing(ctx context.Context, id uuid.UUID, gatewayResponse json.RawMessage, at time.Time) (bool, error)
	CompletePayment(ctx context.Context, id uuid.UUID, receipt string, at time.Time) (bool, error)
	FailPayment(ctx context.Context, id uuid.UUID, reason string, gatewayResponse json.RawMessage, at time.Time) (bool, error)
	CancelPayment(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	VerifyPayment(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error)
	BackfillReceipt(ctx context.Context, id uuid.UUID, receipt string) (bool, error)

	CreateGatewayTransaction(ctx context.Context, tx *domain.GatewayTransaction) error
	FindGatewayTransactionByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.GatewayTransaction, error)
	FindGatewayTransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.GatewayTransaction, error)
	AttachCheckout(ctx context.Context, id uuid.UUID, merchantRequestID, checkoutRequestID string) error
	RecordCallbackResult(ctx context.Context, id uuid.UUID, result domain.CallbackResult) error

	CreateRefund(ctx context.Context, refund *domain.Refund) error
	SumRefunds(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	FindRefunds(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, error)

	FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateOrderPayment(ctx context.Context, id uuid.UUID, settlement *domain.Settlement) error

	SaveCallbackLog(ctx context.Context, log *domain.CallbackLog) error

	// Outbox
	EnqueueEvent(ctx context.Context, event *domain.Event) error
	FetchUnpublishedEvents(ctx context.Context, limit int) ([]*domain.OutboxEntry, error)
	MarkEventPublished(ctx context.Context, eventID string, at time.Time) error
	MarkEventFailed(ctx context.Context, eventID string, reason string) error

	// WithTx executes a function within a database transaction.
	WithTx(ctx context.Context, fn func(PaymentRepository) error) error
}
