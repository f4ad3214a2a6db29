package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/memberhub/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestStripeWebhookSignature(t *testing.T) {
	const secret = "whsec_stripe_handler"
	var got []*payment.Event
	h := NewWebhookHandler(
		payment.NewStripeGateway("", secret),
		eventFunc(func(_ context.Context, ev *payment.Event) error {
			got = append(got, ev)
			return nil
		}),
	)

	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_1"}}}`)

	t.Run("valid", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: time.Now(),
			Scheme:    "v1",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(signed.Payload))
		req.Header.Set("Stripe-Signature", signed.Header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, got, 1)
		assert.Equal(t, payment.EventPaymentFailed, got[0].Type)
	})

	t.Run("signed with another secret", func(t *testing.T) {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    "whsec_attacker",
			Timestamp: time.Now(),
			Scheme:    "v1",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(signed.Payload))
		req.Header.Set("Stripe-Signature", signed.Header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, got, 1)
	})

	t.Run("oversized body", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), webhookBodyLimit+1)
		req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(big))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
