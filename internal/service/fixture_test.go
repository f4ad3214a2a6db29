package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/testutil"
	"github.com/memberhub/backend/pkg/payment"
)

var (
	_ MemberStore   = (*testutil.Store)(nil)
	_ PaymentStore  = (*testutil.Store)(nil)
	_ SettingsStore = (*testutil.Store)(nil)
	_ Publisher     = (*testutil.Publisher)(nil)
)

type fixture struct {
	t   *testing.T
	now time.Time

	store    *testutil.Store
	gateway  *payment.MockGateway
	events   *testutil.Publisher
	settings *SettingsService

	reconcile *ReconcileService
	checkout  *CheckoutService
	ingest    *EventService
	manual    *ManualPaymentService
	sweep     *SweepService
	sync      *SyncService
	members   *MemberService
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		now:     now,
		store:   testutil.NewStore(),
		gateway: payment.NewMockGateway("whsec_test"),
		events:  &testutil.Publisher{},
	}
	f.gateway.SetClock(f.clock)
	f.settings = NewSettingsService(f.store, "EUR")

	f.reconcile = NewReconcileService(f.store, f.settings, f.gateway, f.events)
	f.reconcile.now = f.clock
	f.checkout = NewCheckoutService(f.store, f.store, f.settings, f.gateway, f.reconcile, f.events, "https://members.example.org/")
	f.checkout.now = f.clock
	f.ingest = NewEventService(f.store, f.checkout, f.reconcile, f.events)
	f.ingest.now = f.clock
	f.manual = NewManualPaymentService(f.store, f.settings, f.events)
	f.manual.now = f.clock
	f.sweep = NewSweepService(f.store, f.events, []string{domain.RoleAdmin})
	f.sweep.now = f.clock
	f.sync = NewSyncService(f.store, f.reconcile, f.gateway, 3)
	f.members = NewMemberService(f.store, f.store, f.settings, f.gateway, f.reconcile, f.events)
	f.members.now = f.clock
	return f
}

func (f *fixture) clock() time.Time {
	return f.now
}

type memberOpt func(*domain.MemberProfile)

func withStatus(s domain.Status) memberOpt {
	return func(m *domain.MemberProfile) { m.Status = s }
}

func withExpiry(t time.Time) memberOpt {
	return func(m *domain.MemberProfile) { m.ExpiresAt = &t }
}

func withSubscription(subID, customerID string) memberOpt {
	return func(m *domain.MemberProfile) {
		m.SubscriptionID = domain.StringPtr(subID)
		m.CustomerID = domain.StringPtr(customerID)
	}
}

func withLevel(l domain.Level) memberOpt {
	return func(m *domain.MemberProfile) { m.Level = l }
}

func withCreatedAt(t time.Time) memberOpt {
	return func(m *domain.MemberProfile) { m.CreatedAt = t }
}

func withRole(r string) memberOpt {
	return func(m *domain.MemberProfile) { m.Role = r }
}

func (f *fixture) addMember(opts ...memberOpt) *domain.MemberProfile {
	m := &domain.MemberProfile{
		ID:        domain.NewID(),
		Email:     domain.NewID() + "@example.org",
		Name:      "Member",
		Role:      domain.RoleMember,
		Level:     domain.LevelFull,
		Status:    domain.StatusPending,
		CreatedAt: f.now.AddDate(0, -1, 0),
		UpdatedAt: f.now.AddDate(0, -1, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	f.store.Put(m)
	return m
}

func (f *fixture) putSubscription(id, customerID, userID string, status payment.SubscriptionStatus, start, end time.Time) {
	f.gateway.PutSubscription(payment.Subscription{
		ID:                 id,
		CustomerID:         customerID,
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		Metadata:           map[string]string{payment.MetadataUserID: userID},
	})
}

// sessionEvent encodes a checkout.session.completed event the way the provider sends it.
func sessionEvent(t *testing.T, s *payment.CheckoutSession) *payment.Event {
	t.Helper()
	obj := map[string]any{
		"id":                  s.ID,
		"object":              "checkout.session",
		"status":              s.Status,
		"payment_status":      s.PaymentStatus,
		"customer":            s.CustomerID,
		"subscription":        s.SubscriptionID,
		"client_reference_id": s.ClientReference,
		"amount_total":        payment.MinorUnits(s.AmountTotal),
		"currency":            s.Currency,
		"metadata":            s.Metadata,
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &payment.Event{ID: "evt_" + s.ID, Type: payment.EventCheckoutCompleted, Data: raw}
}

func subscriptionEvent(kind, subID, customerID string) *payment.Event {
	raw, _ := json.Marshal(map[string]any{
		"id":       subID,
		"object":   "subscription",
		"customer": customerID,
	})
	return &payment.Event{ID: "evt_" + kind + "_" + subID, Type: kind, Data: raw}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func transientError(op string) error {
	return &payment.Error{Class: payment.ClassTransient, Op: op, Err: payment.ErrTransient}
}
