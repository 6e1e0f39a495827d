package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PaymentService interface {
	CreatePayment(ctx context.Context, cmd service.CreatePaymentCommand) (*domain.Payment, error)
	Get(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	GatewayTransaction(ctx context.Context, paymentID uuid.UUID) (*domain.GatewayTransaction, error)
	InitiateSTKPush(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	PollStatus(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	CompleteManually(ctx context.Context, paymentID uuid.UUID, cmd service.CompletePaymentCommand) (*domain.Payment, error)
	Verify(ctx context.Context, paymentID uuid.UUID, by string) (*domain.Payment, error)
	Cancel(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListMethods() []domain.PaymentMethod
	RegisterC2BURLs(ctx context.Context) (*domain.RegisterURLResponse, error)
}

type RefundService interface {
	CreateRefund(ctx context.Context, cmd service.CreateRefundCommand) (*domain.Refund, *domain.RefundSummary, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, *domain.RefundSummary, error)
}

type ReconciliationService interface {
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*domain.Settlement, error)
	GetSettlement(ctx context.Context, orderID uuid.UUID) (*domain.Settlement, error)
}

type CallbackService interface {
	HandleSTKCallback(ctx context.Context, body []byte) service.Ack
	HandleC2BValidation(ctx context.Context, body []byte) service.Ack
	HandleC2BConfirmation(ctx context.Context, body []byte) service.Ack
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PaymentHandler struct {
	paymentService PaymentService
	refundService  RefundService
	reconciler     ReconciliationService
	validate       *validator.Validate
	logger         *slog.Logger
}

func NewPaymentHandler(
	paymentService PaymentService,
	refundService RefundService,
	reconciler ReconciliationService,
	logger *slog.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		refundService:  refundService,
		reconciler:     reconciler,
		validate:       validator.New(),
		logger:         logger,
	}
}

func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.HandleCreatePayment)
		r.Route("/{paymentID}", func(r chi.Router) {
			r.Get("/", h.HandleGetPayment)
			r.Post("/stk-push", h.HandleInitiateSTKPush)
			r.Post("/query", h.HandlePollStatus)
			r.Post("/complete", h.HandleCompletePayment)
			r.Post("/verify", h.HandleVerifyPayment)
			r.Post("/cancel", h.HandleCancelPayment)
			r.Post("/refunds", h.HandleCreateRefund)
			r.Get("/refunds", h.HandleListRefunds)
		})
	})
	r.Get("/orders/{orderID}/settlement", h.HandleGetSettlement)
	r.Post("/orders/{orderID}/reconcile", h.HandleReconcileOrder)
	r.Get("/payment-methods", h.HandleListMethods)
	r.Post("/mpesa/register-urls", h.HandleRegisterURLs)
}

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter assembles the public API, the M-Pesa webhooks and the
// operational endpoints. Webhooks sit outside request validation and the
// tenant header check because the gateway must always get an ack.
func NewRouter(
	cfg RouterConfig,
	payments *PaymentHandler,
	callbacks *CallbackHandler,
	db Pinger,
	logger *slog.Logger,
) (http.Handler, error) {
	requestValidator, err := NewRequestValidator()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(CorrelationID)
	r.Use(Logging(logger))
	r.Use(Metrics)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Correlation-ID", "X-Tenant-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(db))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/openapi.yaml", handleOpenAPIDocument)

	r.Route("/callbacks/mpesa/{tenant}", callbacks.RegisterRoutes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Tenant)
		r.Use(Timeout(cfg.RequestTimeout))
		r.Use(requestValidator.Middleware)
		payments.RegisterRoutes(r)
	})

	return r, nil
}

func handleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, &APIError{
				Code:    "UNHEALTHY",
				Message: "database unreachable",
			})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
