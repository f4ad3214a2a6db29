package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/metrics"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// minTrialLead is the shortest trial the billing provider accepts.
const minTrialLead = 48 * time.Hour

// CheckoutStart is returned when a hosted checkout is opened.
type CheckoutStart struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ConfirmResult is returned by ConfirmCheckout.
type ConfirmResult struct {
	OK             bool `json:"ok"`
	AlreadyApplied bool `json:"alreadyApplied"`
}

// CheckoutService opens hosted checkouts and applies completed ones.
type CheckoutService struct {
	members   MemberStore
	payments  PaymentStore
	settings  *SettingsService
	gateway   payment.Gateway
	reconcile *ReconcileService
	events    Publisher
	baseURL   string
	now       func() time.Time
}

// NewCheckoutService creates a new CheckoutService. baseURL is the public
// origin members return to after checkout.
func NewCheckoutService(members MemberStore, payments PaymentStore, settings *SettingsService, gateway payment.Gateway, reconcile *ReconcileService, events Publisher, baseURL string) *CheckoutService {
	return &CheckoutService{
		members:   members,
		payments:  payments,
		settings:  settings,
		gateway:   gateway,
		reconcile: reconcile,
		events:    events,
		baseURL:   strings.TrimRight(baseURL, "/"),
		now:       time.Now,
	}
}

func (s *CheckoutService) loadMember(ctx context.Context, userID string) (*domain.MemberProfile, error) {
	m, err := s.members.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load member", err)
	}
	if m == nil {
		return nil, domain.ErrNotFound("member not found")
	}
	return m, nil
}

// StartCheckout opens a yearly subscription checkout for the member's level.
func (s *CheckoutService) StartCheckout(ctx context.Context, userID string) (*CheckoutStart, error) {
	if !s.gateway.Configured() {
		return nil, domain.ErrConfiguration("billing is not configured", payment.ErrNotConfigured)
	}
	m, err := s.loadMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusRejected {
		return nil, domain.ErrForbidden("membership application was rejected")
	}
	if m.HasSubscription() {
		return nil, domain.ErrConflict("member already has a subscription")
	}

	fee, err := s.settings.FeeForLevel(ctx, m.Level)
	if err != nil {
		return nil, err
	}
	if fee <= 0 {
		return nil, domain.ErrValidation("membership level has no annual fee")
	}

	customerID, err := s.ensureCustomer(ctx, m)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var trialEnd *time.Time
	cutoff, err := s.settings.TrialCutoff(ctx, m.Level, m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cutoff != nil && cutoff.After(now.Add(minTrialLead)) {
		trialEnd = cutoff
	}

	metadata := map[string]string{
		payment.MetadataUserID: m.ID,
		payment.MetadataLevel:  string(m.Level),
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		CustomerID:      customerID,
		Email:           m.Email,
		ProductName:     productName(m.Level),
		AnnualAmount:    fee,
		Currency:        s.settings.Currency(),
		TrialEnd:        trialEnd,
		SuccessURL:      s.baseURL + "/membership/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:       s.baseURL + "/membership/checkout/cancel",
		ClientReference: m.ID,
		Metadata:        metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", m.ID).Msg("Failed to create checkout session")
		return nil, providerError(err)
	}

	log.Info().Str("user_id", m.ID).Str("session_id", session.ID).Msg("Checkout session created")
	return &CheckoutStart{SessionID: session.ID, URL: session.URL}, nil
}

// ensureCustomer creates or refreshes the provider customer and persists its id.
func (s *CheckoutService) ensureCustomer(ctx context.Context, m *domain.MemberProfile) (string, error) {
	req := payment.CustomerRequest{
		Email:    m.Email,
		Name:     m.Name,
		Metadata: map[string]string{payment.MetadataUserID: m.ID},
	}
	if m.CustomerID != nil {
		req.ID = *m.CustomerID
	}

	customer, err := s.gateway.CreateOrUpdateCustomer(ctx, req)
	if payment.ClassOf(err) == payment.ClassNotFound && req.ID != "" {
		req.ID = ""
		customer, err = s.gateway.CreateOrUpdateCustomer(ctx, req)
	}
	if err != nil {
		return "", providerError(err)
	}

	if m.CustomerID == nil || *m.CustomerID != customer.ID {
		state := m.State()
		state.CustomerID = domain.StringPtr(customer.ID)
		if err := s.members.UpdateState(ctx, m.ID, state); err != nil {
			return "", domain.ErrPersistence("failed to store billing customer", err)
		}
	}
	return customer.ID, nil
}

// ConfirmCheckout applies a completed checkout on behalf of the returning
// member. It is safe to call repeatedly for the same session.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, userID, sessionID string) (*ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrValidation("sessionId is required")
	}
	if !s.gateway.Configured() {
		return nil, domain.ErrConfiguration("billing is not configured", payment.ErrNotConfigured)
	}

	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		if payment.ClassOf(err) == payment.ClassNotFound {
			return nil, domain.ErrNotFound("checkout session not found")
		}
		return nil, providerError(err)
	}
	if session.UserID() != userID {
		return nil, domain.ErrForbidden("checkout session does not belong to this member")
	}
	if !session.PaymentComplete() {
		return nil, domain.ErrValidation("checkout session is not paid")
	}
	if session.SubscriptionID == "" {
		return nil, domain.ErrValidation("checkout session has no subscription")
	}

	m, err := s.loadMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m.SubscriptionID != nil && *m.SubscriptionID == session.SubscriptionID {
		return &ConfirmResult{OK: true, AlreadyApplied: true}, nil
	}

	if err := s.applyCheckout(ctx, m, session); err != nil {
		return nil, err
	}
	return &ConfirmResult{OK: true}, nil
}

// applyCheckout is the single routine behind both the webhook and the
// confirmation path: fetch subscription, derive the trial-adjusted expiry,
// commit profile and ledger row together, then reconcile.
func (s *CheckoutService) applyCheckout(ctx context.Context, m *domain.MemberProfile, session *payment.CheckoutSession) error {
	ctx, span := tracer.Start(ctx, "membership.apply_checkout",
		trace.WithAttributes(
			attribute.String("user.id", m.ID),
			attribute.String("session.id", session.ID),
			attribute.String("subscription.id", session.SubscriptionID),
		),
	)
	defer span.End()

	if m.Status == domain.StatusRejected {
		return domain.ErrForbidden("membership application was rejected")
	}

	sub, err := s.gateway.RetrieveSubscription(ctx, session.SubscriptionID)
	if err != nil {
		span.RecordError(err)
		if payment.ClassOf(err) == payment.ClassNotFound {
			return domain.ErrNotFound("subscription not found")
		}
		return providerError(err)
	}

	expiry, err := s.settings.EffectiveExpiry(ctx, m.Level, m.CreatedAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return err
	}
	expiry = expiry.UTC()
	now := s.now()

	if m.HasSubscription() && *m.SubscriptionID != sub.ID && !isLive(sub.Status) {
		return s.recordSuperseded(ctx, m, session, sub, expiry, now)
	}

	customerID := session.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}
	if customerID == "" && m.CustomerID != nil {
		customerID = *m.CustomerID
	}
	if customerID == "" {
		return domain.ErrValidation("checkout session has no billing customer")
	}

	state := domain.MembershipState{
		Status:            statusForSubscription(sub.Status, expiry, now, m.Status),
		ExpiresAt:         &expiry,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		SubscriptionID:    domain.StringPtr(sub.ID),
		CustomerID:        domain.StringPtr(customerID),
	}

	// The read is a fast path; the storage constraint is the real guard.
	exists, err := s.payments.Exists(ctx, m.ID, sub.ID)
	if err != nil {
		return domain.ErrPersistence("failed to check payment ledger", err)
	}
	var rec *domain.PaymentRecord
	if !exists {
		rec = s.ledgerRecord(ctx, m, session, sub, expiry, now)
	}

	inserted, err := s.members.ApplyPayment(ctx, m.ID, state, rec)
	if err != nil {
		span.RecordError(err)
		return domain.ErrPersistence("failed to apply checkout", err)
	}
	switch {
	case inserted:
		metrics.LedgerInsertsTotal.WithLabelValues(string(domain.MethodSubscription), "inserted").Inc()
	case rec != nil || exists:
		metrics.LedgerInsertsTotal.WithLabelValues(string(domain.MethodSubscription), "duplicate").Inc()
	}

	log.Info().
		Str("user_id", m.ID).
		Str("subscription_id", sub.ID).
		Bool("ledger_inserted", inserted).
		Time("expires_at", expiry).
		Msg("Checkout applied")

	publishTransition(s.events, m.ID, m.Status, state.Status, now, map[string]string{"subscription_id": sub.ID})
	if inserted {
		s.events.Publish(domain.NewEvent(domain.EventPaymentRecorded, m.ID, now, map[string]string{
			"method":          string(domain.MethodSubscription),
			"subscription_id": sub.ID,
			"amount":          fmt.Sprintf("%.2f", rec.Amount),
			"currency":        rec.Currency,
		}))
	}

	if _, err := s.reconcile.reconcile(ctx, applyState(m, state), sub.ID, sub); err != nil {
		return err
	}
	return nil
}

// ledgerRecord builds the subscription payment row. The amount comes from the
// subscription's latest invoice, falling back to the session total.
func (s *CheckoutService) ledgerRecord(ctx context.Context, m *domain.MemberProfile, session *payment.CheckoutSession, sub *payment.Subscription, expiry, now time.Time) *domain.PaymentRecord {
	amount := session.AmountTotal
	currency := session.Currency
	paidAt := now

	if sub.LatestInvoiceID != "" {
		inv, err := s.gateway.RetrieveInvoice(ctx, sub.LatestInvoiceID)
		if err != nil {
			log.Warn().Err(err).Str("invoice_id", sub.LatestInvoiceID).Msg("Falling back to checkout total for ledger amount")
		} else {
			amount = inv.AmountPaid
			if inv.Currency != "" {
				currency = inv.Currency
			}
			if inv.PaidAt != nil {
				paidAt = *inv.PaidAt
			}
		}
	}
	if currency == "" {
		currency = s.settings.Currency()
	}

	return &domain.PaymentRecord{
		ID:                domain.NewID(),
		UserID:            m.ID,
		Method:            domain.MethodSubscription,
		Amount:            amount,
		Currency:          strings.ToLower(currency),
		PaymentDate:       paidAt.UTC(),
		ExpiresAtSnapshot: domain.TimePtr(expiry),
		SubscriptionID:    domain.StringPtr(sub.ID),
		Notes:             "checkout " + session.ID,
		Status:            domain.PaymentCompleted,
		CreatedAt:         now.UTC(),
	}
}

// SetCancelAtPeriodEnd toggles whether the member's subscription ends at the
// close of the current period, then reconciles.
func (s *CheckoutService) SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*ReconcileResult, error) {
	if !s.gateway.Configured() {
		return nil, domain.ErrConfiguration("billing is not configured", payment.ErrNotConfigured)
	}
	m, err := s.loadMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !m.HasSubscription() {
		return nil, domain.ErrValidation("member has no subscription")
	}

	subID := *m.SubscriptionID
	sub, err := s.gateway.UpdateSubscription(ctx, subID, payment.SubscriptionPatch{CancelAtPeriodEnd: &cancel})
	if err != nil && payment.ClassOf(err) != payment.ClassNotFound {
		return nil, providerError(err)
	}
	// A NotFound here is handled by reconcile, which clears the reference.
	return s.reconcile.reconcile(ctx, m, subID, sub)
}

func productName(level domain.Level) string {
	name := string(level)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return name + " membership"
}

// recordSuperseded handles a completed session whose subscription has ended
// while the member holds a newer one: the payment is kept in the ledger and
// the profile is left alone.
func (s *CheckoutService) recordSuperseded(ctx context.Context, m *domain.MemberProfile, session *payment.CheckoutSession, sub *payment.Subscription, expiry, now time.Time) error {
	exists, err := s.payments.Exists(ctx, m.ID, sub.ID)
	if err != nil {
		return domain.ErrPersistence("failed to check payment ledger", err)
	}
	if exists {
		metrics.LedgerInsertsTotal.WithLabelValues(string(domain.MethodSubscription), "duplicate").Inc()
		return nil
	}

	inserted, err := s.members.ApplyPayment(ctx, m.ID, m.State(), s.ledgerRecord(ctx, m, session, sub, expiry, now))
	if err != nil {
		return domain.ErrPersistence("failed to record payment", err)
	}
	result := "duplicate"
	if inserted {
		result = "inserted"
	}
	metrics.LedgerInsertsTotal.WithLabelValues(string(domain.MethodSubscription), result).Inc()

	log.Info().
		Str("user_id", m.ID).
		Str("subscription_id", sub.ID).
		Str("current_subscription_id", *m.SubscriptionID).
		Bool("ledger_inserted", inserted).
		Msg("Checkout for superseded subscription recorded without profile change")
	return nil
}
