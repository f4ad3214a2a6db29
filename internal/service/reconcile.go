package service

import (
	"context"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/metrics"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReconcileResult is the membership state after a reconciliation run.
type ReconcileResult struct {
	UserID            string        `json:"userId"`
	Status            domain.Status `json:"status"`
	ExpiresAt         *time.Time    `json:"expiresAt"`
	CancelAtPeriodEnd bool          `json:"cancelAtPeriodEnd"`
	Changed           bool          `json:"changed"`
}

func resultFor(m *domain.MemberProfile, changed bool) *ReconcileResult {
	return &ReconcileResult{
		UserID:            m.ID,
		Status:            m.Status,
		ExpiresAt:         m.ExpiresAt,
		CancelAtPeriodEnd: m.CancelAtPeriodEnd,
		Changed:           changed,
	}
}

// ReconcileService derives a member's canonical status and expiry from the
// billing provider and the trial policy. It is the one implementation shared
// by webhooks, checkout confirmation and admin sync.
type ReconcileService struct {
	members  MemberStore
	settings *SettingsService
	gateway  payment.Gateway
	events   Publisher
	now      func() time.Time
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(members MemberStore, settings *SettingsService, gateway payment.Gateway, events Publisher) *ReconcileService {
	return &ReconcileService{
		members:  members,
		settings: settings,
		gateway:  gateway,
		events:   events,
		now:      time.Now,
	}
}

// Reconcile recomputes the membership of userID. subscriptionID is used when
// the member holds no subscription or holds that same one; a member holding a
// different subscription is reconciled against its own.
func (s *ReconcileService) Reconcile(ctx context.Context, userID, subscriptionID string) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "membership.reconcile",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("subscription.id", subscriptionID),
		),
	)
	defer span.End()

	m, err := s.members.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load member", err)
	}
	if m == nil {
		return nil, domain.ErrNotFound("member not found")
	}

	res, err := s.reconcile(ctx, m, subscriptionID, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("reconcile.changed", res.Changed))
	return res, nil
}

// ReconcileBySubscription reconciles the member holding subscriptionID. When no
// stored profile references it, the subscription's user_id metadata is used.
// It returns nil, nil when no member can be correlated.
func (s *ReconcileService) ReconcileBySubscription(ctx context.Context, subscriptionID string) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "membership.reconcile_by_subscription",
		trace.WithAttributes(attribute.String("subscription.id", subscriptionID)),
	)
	defer span.End()

	m, err := s.members.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load member", err)
	}
	if m != nil {
		return s.reconcile(ctx, m, subscriptionID, nil)
	}

	if !s.gateway.Configured() {
		return nil, nil
	}
	sub, err := s.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		if payment.ClassOf(err) == payment.ClassNotFound {
			return nil, nil
		}
		return nil, providerError(err)
	}
	userID := sub.Metadata[payment.MetadataUserID]
	if userID == "" {
		return nil, nil
	}
	m, err = s.members.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load member", err)
	}
	if m == nil {
		return nil, nil
	}
	return s.reconcile(ctx, m, subscriptionID, sub)
}

// reconcile runs the reconciliation algorithm for m. sub may carry an already
// fetched subscription for subscriptionID.
func (s *ReconcileService) reconcile(ctx context.Context, m *domain.MemberProfile, subscriptionID string, sub *payment.Subscription) (*ReconcileResult, error) {
	now := s.now()
	logger := log.With().Str("user_id", m.ID).Logger()

	// Rejection is an admin decision; billing state never overrides it.
	if m.Status == domain.StatusRejected {
		metrics.ReconcileTotal.WithLabelValues("unchanged").Inc()
		return resultFor(m, false), nil
	}

	// A member holding a different subscription is reconciled against the one
	// it holds; events for a previous subscription never overwrite its state.
	if subscriptionID != "" && m.HasSubscription() && *m.SubscriptionID != subscriptionID {
		logger.Info().
			Str("subscription_id", subscriptionID).
			Str("current_subscription_id", *m.SubscriptionID).
			Msg("Ignoring superseded subscription")
		subscriptionID, sub = "", nil
	}

	subID := subscriptionID
	if subID == "" && m.HasSubscription() {
		subID = *m.SubscriptionID
	}

	target := m.State()
	if subID == "" {
		// Without a subscription only a date-driven trial can reinstate access.
		if m.Status == domain.StatusExpired && m.ExpiresAfter(now) {
			target.Status = domain.StatusApproved
		}
		return s.commit(ctx, m, target, "unchanged")
	}

	if !s.gateway.Configured() {
		metrics.ReconcileTotal.WithLabelValues("not_configured").Inc()
		return resultFor(m, false), nil
	}

	if sub == nil {
		fetched, err := s.gateway.RetrieveSubscription(ctx, subID)
		switch payment.ClassOf(err) {
		case "":
			if err != nil {
				metrics.ReconcileTotal.WithLabelValues("error").Inc()
				return nil, providerError(err)
			}
			sub = fetched
		case payment.ClassNotFound:
			logger.Info().Str("subscription_id", subID).Msg("Subscription deleted upstream, clearing reference")
			target = endedState(m, now)
			res, err := s.commit(ctx, m, target, "not_found")
			if err == nil && m.HasSubscription() {
				s.events.Publish(domain.NewEvent(domain.EventSubscriptionEnded, m.ID, now,
					map[string]string{"subscription_id": subID}))
			}
			return res, err
		case payment.ClassConfiguration:
			metrics.ReconcileTotal.WithLabelValues("not_configured").Inc()
			return resultFor(m, false), nil
		case payment.ClassTransient:
			metrics.ReconcileTotal.WithLabelValues("transient").Inc()
			logger.Warn().Err(err).Str("subscription_id", subID).Msg("Transient billing failure during reconcile")
			return nil, providerError(err)
		default:
			metrics.ReconcileTotal.WithLabelValues("error").Inc()
			return nil, providerError(err)
		}
	}

	expiry, err := s.settings.EffectiveExpiry(ctx, m.Level, m.CreatedAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	expiry = expiry.UTC()

	target.Status = statusForSubscription(sub.Status, expiry, now, m.Status)
	target.ExpiresAt = &expiry
	target.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if !m.HasSubscription() && sub.CustomerID != "" && isLive(sub.Status) {
		target.SubscriptionID = domain.StringPtr(subID)
		target.CustomerID = domain.StringPtr(sub.CustomerID)
	}
	if target.SubscriptionID != nil && target.CustomerID == nil && sub.CustomerID != "" {
		target.CustomerID = domain.StringPtr(sub.CustomerID)
	}

	return s.commit(ctx, m, target, "updated")
}

// commit writes target when it differs from the stored state and publishes
// the resulting transition events.
func (s *ReconcileService) commit(ctx context.Context, m *domain.MemberProfile, target domain.MembershipState, outcome string) (*ReconcileResult, error) {
	if target.Equal(m.State()) {
		metrics.ReconcileTotal.WithLabelValues("unchanged").Inc()
		return resultFor(m, false), nil
	}
	if err := s.members.UpdateState(ctx, m.ID, target); err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return nil, domain.ErrPersistence("failed to update membership", err)
	}
	if outcome == "unchanged" {
		outcome = "updated"
	}
	metrics.ReconcileTotal.WithLabelValues(outcome).Inc()

	updated := applyState(m, target)
	log.Info().
		Str("user_id", m.ID).
		Str("from_status", string(m.Status)).
		Str("to_status", string(updated.Status)).
		Msg("Membership reconciled")
	publishTransition(s.events, m.ID, m.Status, updated.Status, s.now(), nil)
	return resultFor(updated, true), nil
}

// statusForSubscription maps an upstream lifecycle state to a local status.
// Unknown states fail closed to expired.
func statusForSubscription(status payment.SubscriptionStatus, expiry, now time.Time, current domain.Status) domain.Status {
	switch {
	case isLive(status):
		return domain.StatusApproved
	case status == payment.SubscriptionCanceled || status == payment.SubscriptionUnpaid:
		if expiry.After(now) {
			return domain.StatusApproved
		}
		return domain.StatusExpired
	default:
		if current == domain.StatusPending {
			return domain.StatusPending
		}
		return domain.StatusExpired
	}
}

func isLive(status payment.SubscriptionStatus) bool {
	switch status {
	case payment.SubscriptionActive, payment.SubscriptionTrialing, payment.SubscriptionPastDue:
		return true
	}
	return false
}

// endedState is the state after the member's subscription is gone: the
// reference is cleared and access lasts until the stored expiry.
func endedState(m *domain.MemberProfile, now time.Time) domain.MembershipState {
	target := m.State()
	target.SubscriptionID = nil
	target.CancelAtPeriodEnd = false
	switch {
	case m.Status == domain.StatusRejected:
	case m.ExpiresAfter(now):
		target.Status = domain.StatusApproved
	case m.Status == domain.StatusPending && m.ExpiresAt == nil:
	default:
		target.Status = domain.StatusExpired
	}
	return target
}

// providerError converts a gateway failure to an AppError without leaking
// provider details to callers.
func providerError(err error) error {
	switch payment.ClassOf(err) {
	case payment.ClassConfiguration:
		return domain.ErrConfiguration("billing is not configured", err)
	default:
		return domain.ErrProvider("billing provider unavailable", err)
	}
}
