package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayTransaction is the mobile-money side of a payment. It is created
// together with the payment and afterwards only has empty fields filled in.
type GatewayTransaction struct {
	ID                uuid.UUID       `json:"id"`
	PaymentID         uuid.UUID       `json:"payment_id"`
	PhoneNumber       string          `json:"phone_number"`
	MerchantRequestID *string         `json:"merchant_request_id,omitempty"`
	CheckoutRequestID *string         `json:"checkout_request_id,omitempty"`
	ReceiptNumber     *string         `json:"receipt_number,omitempty"`
	TransactionDate   *time.Time      `json:"transaction_date,omitempty"`
	ResultCode        *int            `json:"result_code,omitempty"`
	ResultDesc        *string         `json:"result_desc,omitempty"`
	RawCallback       json.RawMessage `json:"raw_callback,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func NewGatewayTransaction(paymentID uuid.UUID, phone string, now time.Time) *GatewayTransaction {
	return &GatewayTransaction{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasCheckout reports whether an STK push was accepted for this transaction.
func (t *GatewayTransaction) HasCheckout() bool {
	return t.CheckoutRequestID != nil && *t.CheckoutRequestID != ""
}

// CallbackResult is what a gateway confirmation contributes to a transaction.
type CallbackResult struct {
	ResultCode      int
	ResultDesc      string
	ReceiptNumber   string
	TransactionDate *time.Time
	PhoneNumber     string
	Raw             json.RawMessage
}

type STKPushRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
	CallbackURL string
}

type STKPushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
	Raw                 json.RawMessage
}

// STKQueryResponse is the outcome of a status poll. Pending is set while the
// customer has not yet answered the prompt.
type STKQueryResponse struct {
	CheckoutRequestID string
	Pending           bool
	ResultCode        int
	ResultDesc        string
	Raw               json.RawMessage
}

type RegisterURLResponse struct {
	OriginatorConversationID string `json:"originator_conversation_id"`
	ResponseCode             string `json:"response_code"`
	ResponseDescription      string `json:"response_description"`
}

type CallbackKind string

const (
	CallbackSTK             CallbackKind = "stk"
	CallbackC2BValidation   CallbackKind = "c2b_validation"
	CallbackC2BConfirmation CallbackKind = "c2b_confirmation"
)

// CallbackLog is the audit record of one inbound gateway delivery.
type CallbackLog struct {
	ID                uuid.UUID
	TenantID          string
	Kind              CallbackKind
	CheckoutRequestID *string
	Outcome           string
	Payload           json.RawMessage
	ReceivedAt        time.Time
}
