// Command poller resolves M-Pesa payments whose callback never arrived and
// relays committed outbox events to NATS. It runs next to the API process and
// shares its database, cache and configuration.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/cache"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/events"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/mpesa"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/adapters/postgres"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/config"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/service"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger().With("component", "poller")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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
	}

	var (
		notifier  ports.Notifier = events.NewLogNotifier(logger)
		publisher ports.EventPublisher
	)
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
		publisher = events.NewPublisher(natsClient.JetStream(), logger)
		notifier = events.NewNATSNotifier(natsClient.JetStream(), logger)
	} else {
		logger.Warn("NATS disabled, outbox events stay unpublished")
	}

	repo := postgres.NewPaymentRepository(db)

	mpesaClient := mpesa.NewClient(cfg.Mpesa, store, logger)
	gateway := mpesa.NewRetryClient(mpesaClient, cfg.Retry)

	reconciler := service.NewReconciliationService(repo, notifier, logger)
	paymentService := service.NewPaymentService(repo, gateway, methods, reconciler, store, notifier, service.PaymentConfig{
		CallbackBaseURL: cfg.Mpesa.CallbackBaseURL,
		STKTimeout:      cfg.Payments.STKTimeout,
		IdempotencyTTL:  cfg.Payments.IdempotencyTTL,
		ExpiryGrace:     cfg.Payments.ExpiryGrace,
	}, logger)

	statusPoller := worker.NewStatusPoller(
		repo,
		paymentService,
		cfg.Worker.Interval,
		cfg.Worker.BatchSize,
		cfg.Worker.StaleAfter,
		logger,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		statusPoller.Start(ctx)
	}()

	if publisher != nil {
		outboxRelay := worker.NewOutboxRelay(
			repo,
			publisher,
			cfg.Worker.Interval,
			cfg.Worker.BatchSize,
			logger,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			outboxRelay.Start(ctx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down workers...")
	wg.Wait()
	logger.Info("poller exited")
}
