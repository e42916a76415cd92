// Package payment provides payment provider adapters. Providers only mint
// redirect URLs; the actual charging happens in the remote billing system.
package payment

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"

	"github.com/cj1101/crowseye-metering/ports"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey string
}

// StripeProvider implements ports.PaymentProvider for Stripe.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	stripe.Key = config.SecretKey
	return &StripeProvider{config: config}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateCheckoutSession creates a setup-mode Checkout session where the
// user attaches a payment instrument. Pay-as-you-go accounts are charged
// later from reported usage, so no price is selected here.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, customerID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSetup)),
	}
	params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// CreatePortalSession creates a customer portal session.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := portalsession.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// Ensure interface compliance.
var _ ports.PaymentProvider = (*StripeProvider)(nil)
