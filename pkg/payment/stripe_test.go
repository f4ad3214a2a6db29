package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func TestStripeGatewayWithoutKeyIsNotConfigured(t *testing.T) {
	g := NewStripeGateway("  ", testWebhookSecret)
	assert.False(t, g.Configured())

	_, err := g.RetrieveSubscription(context.Background(), "sub_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, ClassConfiguration, ClassOf(err))
}

func TestStripeClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"resource missing", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}, ClassNotFound},
		{"bare 404", &stripe.Error{HTTPStatusCode: http.StatusNotFound}, ClassNotFound},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, ClassTransient},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, ClassTransient},
		{"bad request", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}, ClassRejected},
		{"card declined", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard}, ClassRejected},
		{"timeout", context.DeadlineExceeded, ClassTransient},
		{"connection reset", errors.New("connection reset by peer"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewStripeGateway("sk_test_123", testWebhookSecret)
			err := g.classify("op", tt.err)
			assert.Equal(t, tt.want, ClassOf(err))
			assert.True(t, g.Configured())
		})
	}
}

func TestStripeClassifyAuthFailureLatches(t *testing.T) {
	g := NewStripeGateway("sk_test_123", testWebhookSecret)
	require.True(t, g.Configured())

	err := g.classify("RetrieveSubscription", &stripe.Error{HTTPStatusCode: http.StatusUnauthorized})
	assert.Equal(t, ClassConfiguration, ClassOf(err))
	assert.False(t, g.Configured())

	_, err = g.RetrieveCheckoutSession(context.Background(), "cs_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStripeParseEvent(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_9","object":"subscription","customer":"cus_1","metadata":{"user_id":"u1"}}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	ev, err := g.ParseEvent(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventSubscriptionDeleted, ev.Type)

	ref, err := ev.SubscriptionRef()
	require.NoError(t, err)
	assert.Equal(t, SubscriptionRef{SubscriptionID: "sub_9", CustomerID: "cus_1", UserID: "u1"}, ref)
}

func TestStripeParseEventRejectsBadSignature(t *testing.T) {
	g := NewStripeGateway("", testWebhookSecret)
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_failed","data":{"object":{}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	_, err := g.ParseEvent(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseEvent(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeParseEventWithoutSecret(t *testing.T) {
	g := NewStripeGateway("sk_test_123", "")
	_, err := g.ParseEvent([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
