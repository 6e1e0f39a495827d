package ports

import (
	"context"

	"github.com/DanielPopoola/mpesa-payment-engine/internal/core/domain"
)

// MobileMoneyGateway defines the behavior of the external mobile-money API.
// Implementations never retry; callers own the retry policy.
type MobileMoneyGateway interface {
	InitiateSTKPush(ctx context.Context, req domain.STKPushRequest) (*domain.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*domain.STKQueryResponse, error)
	RegisterCallbackURLs(ctx context.Context, validationURL, confirmationURL string) (*domain.RegisterURLResponse, error)
}
