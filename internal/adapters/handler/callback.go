package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/tenant"
	"github.com/go-chi/chi/v5"
)

const maxCallbackBytes = 64 << 10

// CallbackHandler receives Daraja webhooks. The gateway retries anything
// that is not a 200 with an Ack body, so every path answers that way.
type CallbackHandler struct {
	callbacks CallbackService
	logger    *slog.Logger
}

func NewCallbackHandler(callbacks CallbackService, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbacks: callbacks,
		logger:    logger,
	}
}

func (h *CallbackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stk", h.handle(h.callbacks.HandleSTKCallback))
	r.Post("/validation", h.handle(h.callbacks.HandleC2BValidation))
	r.Post("/confirmation", h.handle(h.callbacks.HandleC2BConfirmation))
}

func (h *CallbackHandler) handle(process func(ctx context.Context, body []byte) service.Ack) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenant")
		if !tenant.Valid(tenantID) {
			h.logger.Warn("callback for invalid tenant", "tenant", tenantID, "path", r.URL.Path)
			writeAck(w, service.Ack{ResultCode: 1, ResultDesc: "Rejected: unknown tenant"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			h.logger.Warn("failed to read callback body", "tenant", tenantID, "error", err)
			writeAck(w, service.Ack{ResultCode: 1, ResultDesc: "Rejected: unreadable body"})
			return
		}

		ctx := tenant.WithTenant(r.Context(), tenantID)
		writeAck(w, process(ctx, body))
	}
}

func writeAck(w http.ResponseWriter, ack service.Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}
