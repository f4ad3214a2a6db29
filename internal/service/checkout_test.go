package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startAndPay opens a checkout for m and simulates the member paying.
func startAndPay(t *testing.T, f *fixture, m *domain.MemberProfile) *payment.CheckoutSession {
	t.Helper()
	ctx := context.Background()

	start, err := f.checkout.StartCheckout(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(start.URL, "https://checkout.example.com/"))

	_, err = f.gateway.CompleteSession(start.SessionID)
	require.NoError(t, err)

	session, err := f.gateway.RetrieveCheckoutSession(ctx, start.SessionID)
	require.NoError(t, err)
	return session
}

func TestStartCheckoutPersistsCustomer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember(withLevel(domain.LevelAssociate))

	start, err := f.checkout.StartCheckout(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, start.SessionID)

	stored := f.store.Member(m.ID)
	require.NotNil(t, stored.CustomerID)

	session, err := f.gateway.RetrieveCheckoutSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, *stored.CustomerID, session.CustomerID)
	assert.Equal(t, m.ID, session.UserID())
	assert.InDelta(t, 80.0, session.AmountTotal, 0.001)
	assert.Equal(t, "eur", session.Currency)
}

func TestStartCheckoutRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("honorary has no fee", func(t *testing.T) {
		f := newFixture(t, date(2024, 6, 2))
		m := f.addMember(withLevel(domain.LevelHonorary))
		_, err := f.checkout.StartCheckout(ctx, m.ID)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
	})

	t.Run("already subscribed", func(t *testing.T) {
		f := newFixture(t, date(2024, 6, 2))
		m := f.addMember(withSubscription("sub_1", "cus_1"))
		_, err := f.checkout.StartCheckout(ctx, m.ID)
		assert.True(t, domain.IsKind(err, domain.KindConflict))
	})

	t.Run("billing not configured", func(t *testing.T) {
		f := newFixture(t, date(2024, 6, 2))
		f.gateway.SetConfigured(false)
		m := f.addMember()
		_, err := f.checkout.StartCheckout(ctx, m.ID)
		assert.True(t, domain.IsKind(err, domain.KindConfiguration))
	})
}

func TestConfirmCheckoutTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	m := f.addMember()
	session := startAndPay(t, f, m)

	first, err := f.checkout.ConfirmCheckout(ctx, m.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, &ConfirmResult{OK: true}, first)

	second, err := f.checkout.ConfirmCheckout(ctx, m.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, &ConfirmResult{OK: true, AlreadyApplied: true}, second)

	stored := f.store.Member(m.ID)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Equal(t, session.SubscriptionID, *stored.SubscriptionID)
	assert.True(t, stored.ExpiresAt.Equal(now.AddDate(1, 0, 0)))

	payments := f.store.Payments(m.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.MethodSubscription, payments[0].Method)
	assert.InDelta(t, 120.0, payments[0].Amount, 0.001)
	assert.Len(t, f.events.Events(domain.EventMemberApproved), 1)
	assert.Len(t, f.events.Events(domain.EventPaymentRecorded), 1)
}

func TestConfirmCheckoutUsesInvoiceAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember()
	session := startAndPay(t, f, m)

	sub, err := f.gateway.RetrieveSubscription(ctx, session.SubscriptionID)
	require.NoError(t, err)
	sub.LatestInvoiceID = "in_1"
	f.gateway.PutSubscription(*sub)
	f.gateway.PutInvoice(payment.Invoice{ID: "in_1", Status: "paid", AmountPaid: 99.5, Currency: "eur"})

	_, err = f.checkout.ConfirmCheckout(ctx, m.ID, session.ID)
	require.NoError(t, err)

	payments := f.store.Payments(m.ID)
	require.Len(t, payments, 1)
	assert.InDelta(t, 99.5, payments[0].Amount, 0.001)
}

func TestConfirmCheckoutChecksOwnershipAndPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	owner := f.addMember()
	other := f.addMember()

	start, err := f.checkout.StartCheckout(ctx, owner.ID)
	require.NoError(t, err)

	_, err = f.checkout.ConfirmCheckout(ctx, owner.ID, start.SessionID)
	assert.True(t, domain.IsKind(err, domain.KindValidation), "unpaid session must be rejected: %v", err)

	_, err = f.gateway.CompleteSession(start.SessionID)
	require.NoError(t, err)

	_, err = f.checkout.ConfirmCheckout(ctx, other.ID, start.SessionID)
	assert.True(t, domain.IsKind(err, domain.KindAuthorization))

	_, err = f.checkout.ConfirmCheckout(ctx, owner.ID, "cs_missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	_, err = f.checkout.ConfirmCheckout(ctx, owner.ID, " ")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Empty(t, f.store.Payments(owner.ID))
}

func TestCheckoutWebhookAndConfirmationRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember()
	session := startAndPay(t, f, m)
	ev := sessionEvent(t, session)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs[i] = f.ingest.Handle(ctx, ev)
				return
			}
			_, errs[i] = f.checkout.ConfirmCheckout(ctx, m.ID, session.ID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.store.Payments(m.ID), 1)
	assert.Equal(t, domain.StatusApproved, f.store.Member(m.ID).Status)
}

func TestCheckoutDuringTrialPinsExpiry(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	_, err := f.settings.SetTrials(ctx, map[string]domain.TrialConfig{
		"full": {Type: domain.TrialFixedDate, Month: 1, Day: 1},
	})
	require.NoError(t, err)

	m := f.addMember(withCreatedAt(date(2024, 5, 20)))
	session := startAndPay(t, f, m)

	_, err = f.checkout.ConfirmCheckout(ctx, m.ID, session.ID)
	require.NoError(t, err)

	// The subscription period starts before the 2025-01-01 cutoff, so the cutoff wins.
	stored := f.store.Member(m.ID)
	assert.True(t, stored.ExpiresAt.Equal(date(2025, 1, 1)), "expiresAt = %s", stored.ExpiresAt)
}

func TestSetCancelAtPeriodEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember()
	session := startAndPay(t, f, m)
	_, err := f.checkout.ConfirmCheckout(ctx, m.ID, session.ID)
	require.NoError(t, err)

	res, err := f.checkout.SetCancelAtPeriodEnd(ctx, m.ID, true)
	require.NoError(t, err)
	assert.True(t, res.CancelAtPeriodEnd)
	assert.Equal(t, domain.StatusApproved, res.Status)

	res, err = f.checkout.SetCancelAtPeriodEnd(ctx, m.ID, false)
	require.NoError(t, err)
	assert.False(t, res.CancelAtPeriodEnd)

	other := f.addMember()
	_, err = f.checkout.SetCancelAtPeriodEnd(ctx, other.ID, true)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
