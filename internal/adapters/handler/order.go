package handler

import (
	"net/http"
)

func (h *PaymentHandler) HandleGetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}

	settlement, err := h.reconciler.GetSettlement(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, settlement)
}

// HandleReconcileOrder recomputes the order's payment status from its
// settled payments. Safe to repeat.
func (h *PaymentHandler) HandleReconcileOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "orderID")
	if !ok {
		return
	}

	settlement, err := h.reconciler.ReconcileOrder(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, settlement)
}
