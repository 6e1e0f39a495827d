package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeAuthentication    = "AUTHENTICATION_ERROR"
	ErrCodeGatewayRejection  = "GATEWAY_REJECTION"
	ErrCodeCallbackMismatch  = "CALLBACK_MISMATCH"
	ErrCodeReconciliation    = "RECONCILIATION_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodePaymentNotFound   = "PAYMENT_NOT_FOUND"
	ErrCodeOrderNotFound     = "ORDER_NOT_FOUND"
	ErrCodeMethodNotFound    = "METHOD_NOT_FOUND"
	ErrCodeDuplicateRequest  = "DUPLICATE_REQUEST"
	ErrCodeRequestProcessing = "REQUEST_PROCESSING"
)

func NewValidationError(format string, args ...any) *DomainError {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewInvalidAmountError(amount decimal.Decimal) *DomainError {
	return NewValidationError("amount must be greater than zero, got %s", amount.String())
}

func NewTransportError(op string, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeTransport,
		Message: fmt.Sprintf("gateway %s failed", op),
		Err:     err,
	}
}

func NewAuthenticationError(message string, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeAuthentication,
		Message: message,
		Err:     err,
	}
}

// GatewayRejection carries the gateway-supplied response code alongside the
// human readable reason that ends up on the failed payment.
type GatewayRejection struct {
	ResponseCode string
	Description  string
}

func (r *GatewayRejection) Error() string {
	return fmt.Sprintf("code %s: %s", r.ResponseCode, r.Description)
}

func NewGatewayRejectionError(code, description string) *DomainError {
	return &DomainError{
		Code:    ErrCodeGatewayRejection,
		Message: "gateway rejected request",
		Err:     &GatewayRejection{ResponseCode: code, Description: description},
	}
}

func NewCallbackMismatchError(checkoutRequestID string) *DomainError {
	return &DomainError{
		Code:    ErrCodeCallbackMismatch,
		Message: fmt.Sprintf("no gateway transaction for checkout request %s", checkoutRequestID),
	}
}

func NewReconciliationError(orderID string, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeReconciliation,
		Message: fmt.Sprintf("failed to reconcile order %s", orderID),
		Err:     err,
	}
}

func NewParseError(message string, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeParse,
		Message: message,
		Err:     err,
	}
}

func NewInvalidTransitionError(from, to PaymentStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewPaymentNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodePaymentNotFound,
		Message: fmt.Sprintf("payment %s not found", id),
	}
}

func NewOrderNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeOrderNotFound,
		Message: fmt.Sprintf("order %s not found", id),
	}
}

func NewMethodNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("payment method %s not found or inactive", id),
	}
}

func NewDuplicateRequestError(key string) *DomainError {
	return &DomainError{
		Code:    ErrCodeDuplicateRequest,
		Message: fmt.Sprintf("request with key %s was already submitted", key),
	}
}

func NewRequestProcessingError(key string) *DomainError {
	return &DomainError{
		Code:    ErrCodeRequestProcessing,
		Message: fmt.Sprintf("request with key %s is still being processed", key),
	}
}

// IsErrorCode reports whether err is (or wraps) a DomainError with the given code.
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
