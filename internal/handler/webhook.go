package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/memberhub/backend/internal/metrics"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// EventHandler applies a verified billing event.
type EventHandler interface {
	Handle(ctx context.Context, ev *payment.Event) error
}

// WebhookHandler receives billing provider push events.
type WebhookHandler struct {
	gateway payment.Gateway
	events  EventHandler
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(gateway payment.Gateway, events EventHandler) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, events: events}
}

// ServeHTTP handles POST /api/billing/webhook. Nothing in the body is read
// before the signature is verified. A 5xx response makes the provider
// redeliver the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		JSON(w, status, map[string]string{"error": "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		JSON(w, status, map[string]string{"error": "failed to read request body"})
		return
	}

	ev, err := h.gateway.ParseEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case payment.ClassOf(err) == payment.ClassConfiguration:
			status = http.StatusServiceUnavailable
			JSON(w, status, map[string]string{"error": "webhook secret not configured"})
		case errors.Is(err, payment.ErrInvalidSignature):
			status = http.StatusBadRequest
			JSON(w, status, map[string]string{"error": "invalid signature"})
		default:
			status = http.StatusBadRequest
			JSON(w, status, map[string]string{"error": "malformed event"})
		}
		return
	}
	eventType = ev.Type

	if err := h.events.Handle(r.Context(), ev); err != nil {
		log.Error().Err(err).
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Msg("Billing webhook processing failed")
		status = http.StatusInternalServerError
		JSON(w, status, map[string]string{"error": "processing failed"})
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"received": true})
}
