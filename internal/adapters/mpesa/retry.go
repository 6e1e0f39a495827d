package mpesa

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/config"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/ports"
)

// RetryClient retries status queries on transient failures. STK pushes and
// URL registration are passed through untouched: a retried push can prompt
// the customer twice.
type RetryClient struct {
	inner      ports.MobileMoneyGateway
	baseDelay  time.Duration
	maxRetries int
}

func NewRetryClient(inner ports.MobileMoneyGateway, cfg config.RetryConfig) ports.MobileMoneyGateway {
	maxRetries := int(cfg.MaxRetries)
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RetryClient{
		inner:      inner,
		baseDelay:  time.Duration(cfg.BaseDelay) * time.Second,
		maxRetries: maxRetries,
	}
}

func (r *RetryClient) InitiateSTKPush(ctx context.Context, req domain.STKPushRequest) (*domain.STKPushResponse, error) {
	return r.inner.InitiateSTKPush(ctx, req)
}

// QueryStatus with retry logic
func (r *RetryClient) QueryStatus(ctx context.Context, checkoutRequestID string) (*domain.STKQueryResponse, error) {
	return retry[domain.STKQueryResponse](
		r,
		ctx,
		func(ctx context.Context) (*domain.STKQueryResponse, error) {
			return r.inner.QueryStatus(ctx, checkoutRequestID)
		},
	)
}

func (r *RetryClient) RegisterCallbackURLs(ctx context.Context, validationURL, confirmationURL string) (*domain.RegisterURLResponse, error) {
	return r.inner.RegisterCallbackURLs(ctx, validationURL, confirmationURL)
}

// Generic retry helper
func retry[T any](r *RetryClient, ctx context.Context, operation func(ctx context.Context) (*T, error)) (*T, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := operation(ctx)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		if attempt < r.maxRetries-1 {
			timer := time.NewTimer(r.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, fmt.Errorf("maximum retries exceeded: %w", lastErr)
}

// isRetryable accepts gateway 5xx/429 responses and network failures.
// Rejections, authentication failures and cancellations are final.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	if apiErr, ok := IsAPIError(err); ok {
		return apiErr.IsRetryable()
	}

	return domain.IsErrorCode(err, domain.ErrCodeTransport)
}

// Backoff calculation with exponential delay and jitter
func (r *RetryClient) backoff(attempt int) time.Duration {
	base := r.baseDelay * time.Duration(1<<attempt)

	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond

	return base + jitter
}
