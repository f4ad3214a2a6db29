package payment

import "fmt"

// Supported billing providers.
const (
	ProviderStripe = "stripe"
	ProviderMock   = "mock"
)

// NewGateway builds the gateway for the named provider. A Stripe gateway with
// an empty secret key is returned unconfigured rather than failing.
func NewGateway(provider, secretKey, webhookSecret string) (Gateway, error) {
	switch provider {
	case ProviderStripe, "":
		return NewStripeGateway(secretKey, webhookSecret), nil
	case ProviderMock:
		return NewMockGateway(webhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown billing provider %q", provider)
	}
}
