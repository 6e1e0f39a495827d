package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	OrderID         *uuid.UUID      `json:"order_id,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty" validate:"omitempty,max=64"`
	ParentPaymentID *uuid.UUID      `json:"parent_payment_id,omitempty"`
	MethodID        string          `json:"method_id" validate:"required,max=32"`
	Amount          decimal.Decimal `json:"amount"`
	PhoneNumber     string          `json:"phone_number,omitempty" validate:"omitempty,max=20"`
	Reference       string          `json:"reference,omitempty" validate:"omitempty,max=64"`
	Description     string          `json:"description,omitempty" validate:"omitempty,max=255"`
}

type CompletePaymentRequest struct {
	TransactionReference string `json:"transaction_reference" validate:"omitempty,max=64"`
}

type VerifyPaymentRequest struct {
	VerifiedBy string `json:"verified_by" validate:"required,max=64"`
}

// PaymentView is a payment together with its M-Pesa leg, when it has one.
type PaymentView struct {
	*domain.Payment
	GatewayTransaction *domain.GatewayTransaction `json:"gateway_transaction,omitempty"`
}

// HandleCreatePayment opens a payment. M-Pesa payments send the STK push
// before responding: an accepted push returns the processing payment, a
// gateway rejection returns the failed payment and an unreachable gateway
// returns 202 with the payment still pending.
func (h *PaymentHandler) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	cmd := service.CreatePaymentCommand{
		OrderID:         req.OrderID,
		ParentPaymentID: req.ParentPaymentID,
		MethodID:        req.MethodID,
		Amount:          req.Amount,
		PhoneNumber:     req.PhoneNumber,
		Reference:       req.Reference,
		Description:     req.Description,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.CustomerID != "" {
		cmd.CustomerID = &req.CustomerID
	}

	payment, err := h.paymentService.CreatePayment(r.Context(), cmd)
	if err != nil && payment == nil {
		respondWithError(w, err)
		return
	}
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeGatewayRejection) {
			respondWithJSON(w, http.StatusCreated, payment)
			return
		}
		h.logger.Warn("payment created but stk push not sent",
			"payment_id", payment.ID,
			"error", err,
		)
		respondWithJSON(w, http.StatusAccepted, payment)
		return
	}

	respondWithJSON(w, http.StatusCreated, payment)
}

func (h *PaymentHandler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.paymentService.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	view := PaymentView{Payment: payment}
	if payment.MethodType == domain.MethodMpesa {
		gtx, err := h.paymentService.GatewayTransaction(r.Context(), id)
		if err != nil {
			respondWithError(w, err)
			return
		}
		view.GatewayTransaction = gtx
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) HandleInitiateSTKPush(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.paymentService.InitiateSTKPush(r.Context(), id)
	if err != nil {
		if payment != nil && domain.IsErrorCode(err, domain.ErrCodeGatewayRejection) {
			respondWithJSON(w, http.StatusOK, payment)
			return
		}
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandlePollStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.paymentService.PollStatus(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandleCompletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	var req CompletePaymentRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	payment, err := h.paymentService.CompleteManually(r.Context(), id, service.CompletePaymentCommand{
		TransactionReference: req.TransactionReference,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	var req VerifyPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	payment, err := h.paymentService.Verify(r.Context(), id, req.VerifiedBy)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandleCancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.paymentService.Cancel(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) HandleListMethods(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.paymentService.ListMethods())
}

func (h *PaymentHandler) HandleRegisterURLs(w http.ResponseWriter, r *http.Request) {
	resp, err := h.paymentService.RegisterC2BURLs(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// decode reads a required JSON body into dst and validates it.
func (h *PaymentHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, err)
		return false
	}
	return h.unmarshal(w, body, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *PaymentHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, err)
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	return h.unmarshal(w, body, dst)
}

func (h *PaymentHandler) unmarshal(w http.ResponseWriter, body []byte, dst interface{}) bool {
	if err := json.Unmarshal(body, dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			respondWithError(w, validationError("invalid value for field "+typeErr.Field))
		case errors.As(err, &syntaxErr), len(body) == 0:
			respondWithError(w, validationError("request body must be valid JSON"))
		default:
			respondWithError(w, validationError(err.Error()))
		}
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, validationError(err.Error()))
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondWithError(w, validationError(name+" must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}
