package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/cache"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/events"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/handler"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/mpesa"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/postgres"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/config"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting payment engine",
		"env", cfg.Primary.Env,
		"port", cfg.Server.Port,
		"mpesa_environment", cfg.Mpesa.Environment,
		"log_level", cfg.Logger.Level,
	)

	ctx := context.Background()
	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.MigrationURL(), logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	methods, err := cfg.Payments.Registry()
	if err != nil {
		logger.Error("invalid payment method configuration", "error", err)
		os.Exit(1)
	}

	var store ports.Cache = cache.NewMemoryCache()
	if cfg.Redis.Enabled {
		redisClient := cache.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		store = cache.NewRedisCache(redisClient, "mpesa-engine")
		logger.Info("redis cache enabled", "addr", cfg.Redis.Addr)
	}

	var notifier ports.Notifier = events.NewLogNotifier(logger)
	if cfg.NATS.Enabled {
		natsClient, err := events.Connect(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		if _, err := natsClient.EnsureStream(ctx, cfg.NATS.Stream); err != nil {
			logger.Error("failed to ensure stream", "stream", cfg.NATS.Stream, "error", err)
			os.Exit(1)
		}
		notifier = events.NewNATSNotifier(natsClient.JetStream(), logger)
	} else {
		logger.Warn("NATS disabled, customer notifications are only logged")
	}

	repo := postgres.NewPaymentRepository(db)

	gateway := mpesa.NewClient(cfg.Mpesa, store, logger)

	reconciler := service.NewReconciliationService(repo, notifier, logger)
	paymentService := service.NewPaymentService(repo, gateway, methods, reconciler, store, notifier, service.PaymentConfig{
		CallbackBaseURL: cfg.Mpesa.CallbackBaseURL,
		STKTimeout:      cfg.Payments.STKTimeout,
		IdempotencyTTL:  cfg.Payments.IdempotencyTTL,
		ExpiryGrace:     cfg.Payments.ExpiryGrace,
	}, logger)
	refundService := service.NewRefundService(repo, notifier, logger)
	callbackService := service.NewCallbackService(repo, paymentService, logger)

	router, err := handler.NewRouter(
		handler.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins(),
			RequestTimeout: cfg.Server.RequestTimeout,
		},
		handler.NewPaymentHandler(paymentService, refundService, reconciler, logger),
		handler.NewCallbackHandler(callbackService, logger),
		db,
		logger,
	)
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
