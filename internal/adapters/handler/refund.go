package handler

import (
	"net/http"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
	"github.com/shopspring/decimal"
)

type RefundRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason" validate:"required,max=255"`
	ProcessedBy string          `json:"processed_by" validate:"required,max=64"`
}

type RefundResponse struct {
	Refund  *domain.Refund        `json:"refund"`
	Summary *domain.RefundSummary `json:"summary"`
}

type RefundListResponse struct {
	Refunds []*domain.Refund      `json:"refunds"`
	Summary *domain.RefundSummary `json:"summary"`
}

// HandleCreateRefund records a refund against a completed or verified
// payment. The response carries the payment's refund position afterwards.
func (h *PaymentHandler) HandleCreateRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}

	refund, summary, err := h.refundService.CreateRefund(r.Context(), service.CreateRefundCommand{
		PaymentID:   id,
		Amount:      req.Amount,
		Reason:      req.Reason,
		ProcessedBy: req.ProcessedBy,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, RefundResponse{Refund: refund, Summary: summary})
}

func (h *PaymentHandler) HandleListRefunds(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	refunds, summary, err := h.refundService.ListRefunds(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	if refunds == nil {
		refunds = []*domain.Refund{}
	}

	respondWithJSON(w, http.StatusOK, RefundListResponse{Refunds: refunds, Summary: summary})
}
