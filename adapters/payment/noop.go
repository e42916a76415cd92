package payment

import (
	"context"
	"errors"

	"github.com/cj1101/crowseye-metering/ports"
)

// ErrNoProvider indicates no payment provider is configured.
var ErrNoProvider = errors.New("no payment provider configured")

// NoopProvider is used when payments are disabled. Every call fails with
// ErrNoProvider so callers surface a clear configuration error instead of
// a fake URL.
type NoopProvider struct{}

// NewNoopProvider creates a disabled payment provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Name returns the provider name.
func (p *NoopProvider) Name() string {
	return "none"
}

// CreateCheckoutSession always fails.
func (p *NoopProvider) CreateCheckoutSession(ctx context.Context, customerID, successURL, cancelURL string) (string, error) {
	return "", ErrNoProvider
}

// CreatePortalSession always fails.
func (p *NoopProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "", ErrNoProvider
}

// Ensure interface compliance.
var _ ports.PaymentProvider = (*NoopProvider)(nil)
