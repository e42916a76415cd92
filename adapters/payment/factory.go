package payment

import (
	"fmt"

	"github.com/cj1101/crowseye-metering/ports"
)

// NewProvider creates a payment provider for the configured mode.
func NewProvider(mode, stripeKey string) (ports.PaymentProvider, error) {
	switch mode {
	case "stripe":
		if stripeKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeProvider(StripeConfig{SecretKey: stripeKey}), nil

	case "none", "":
		return NewNoopProvider(), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", mode)
	}
}
