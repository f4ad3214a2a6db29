// Package metrics holds the Prometheus collectors for the membership core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts billing webhook requests by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total billing webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memberhub",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconcileTotal counts reconciliation runs by outcome
	// (unchanged, updated, not_found, transient, not_configured, error).
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "membership",
		Name:      "reconcile_total",
		Help:      "Total reconciliation runs by outcome.",
	}, []string{"outcome"})

	// LedgerInsertsTotal counts ledger writes by payment method and result (inserted, duplicate).
	LedgerInsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "ledger",
		Name:      "inserts_total",
		Help:      "Payment ledger insert attempts by method and result.",
	}, []string{"method", "result"})

	// SweepExpiredTotal counts members expired by the sweeper.
	SweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "membership",
		Name:      "sweep_expired_total",
		Help:      "Total members transitioned to expired by the sweeper.",
	})

	// NotificationsTotal counts dispatched domain events by sink and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Domain event deliveries by sink and result.",
	}, []string{"sink", "result"})

	// HTTPRequestsTotal counts served requests by route pattern and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "route", "code"})

	// RateLimitedTotal counts requests rejected by a rate limiter.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberhub",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429 by limiter name.",
	}, []string{"limiter"})
)
