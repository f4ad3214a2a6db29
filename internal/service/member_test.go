package service

import (
	"context"
	"testing"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))

	m, err := f.members.Create(ctx, &domain.CreateMemberRequest{Email: "Ada@Example.org", Name: "Ada", Level: "student"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", m.Email)
	assert.Equal(t, domain.LevelStudent, m.Level)
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, domain.RoleMember, m.Role)
	assert.Nil(t, m.ExpiresAt)

	_, err = f.members.Create(ctx, &domain.CreateMemberRequest{Email: "ada@example.org", Name: "Ada again", Level: "full"})
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	_, err = f.members.Create(ctx, &domain.CreateMemberRequest{Email: "bob@example.org", Name: "Bob", Level: "gold"})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestMemberApprove(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)

	t.Run("open ended", func(t *testing.T) {
		m := f.addMember()
		got, err := f.members.Approve(ctx, m.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, got.Status)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("keeps future expiry", func(t *testing.T) {
		expiry := now.AddDate(0, 3, 0)
		m := f.addMember(withStatus(domain.StatusExpired), withExpiry(expiry))
		got, err := f.members.Approve(ctx, m.ID, nil)
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.Equal(expiry))
	})

	t.Run("explicit expiry", func(t *testing.T) {
		m := f.addMember()
		expiry := now.AddDate(2, 0, 0)
		got, err := f.members.Approve(ctx, m.ID, &expiry)
		require.NoError(t, err)
		assert.True(t, f.store.Member(m.ID).ExpiresAt.Equal(expiry))
		assert.Equal(t, domain.StatusApproved, got.Status)
	})

	t.Run("past expiry rejected", func(t *testing.T) {
		m := f.addMember()
		past := now.AddDate(0, 0, -1)
		_, err := f.members.Approve(ctx, m.ID, &past)
		assert.True(t, domain.IsKind(err, domain.KindValidation))
		assert.Equal(t, domain.StatusPending, f.store.Member(m.ID).Status)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := f.members.Approve(ctx, "missing", nil)
		assert.True(t, domain.IsKind(err, domain.KindNotFound))
	})

	assert.Len(t, f.events.Events(domain.EventMemberApproved), 3)
}

func TestMemberRejectCancelsSubscription(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	m := f.addMember(withStatus(domain.StatusApproved), withExpiry(now.AddDate(1, 0, 0)), withSubscription("sub_1", "cus_1"))
	f.putSubscription("sub_1", "cus_1", m.ID, payment.SubscriptionActive, now, now.AddDate(1, 0, 0))

	got, err := f.members.Reject(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.Nil(t, got.SubscriptionID)
	assert.Equal(t, 1, f.gateway.Calls("CancelSubscription"))

	sub, err := f.gateway.RetrieveSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, payment.SubscriptionCanceled, sub.Status)

	// A later reconcile leaves the rejection alone.
	res, err := f.reconcile.Reconcile(ctx, m.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Status)
}

func TestMemberRejectKeepsStateWhenCancelFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember(withStatus(domain.StatusApproved), withSubscription("sub_1", "cus_1"))
	f.gateway.FailNext("CancelSubscription", transientError("CancelSubscription"))

	_, err := f.members.Reject(ctx, m.ID)
	assert.True(t, domain.IsKind(err, domain.KindProvider))
	assert.Equal(t, domain.StatusApproved, f.store.Member(m.ID).Status)
}

func TestChangeLevelSwapsPrice(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	start, end := now.AddDate(0, -1, 0), now.AddDate(0, 11, 0)
	m := f.addMember(withStatus(domain.StatusApproved), withExpiry(end), withSubscription("sub_1", "cus_1"))
	f.putSubscription("sub_1", "cus_1", m.ID, payment.SubscriptionActive, start, end)

	got, err := f.members.ChangeLevel(ctx, m.ID, "student")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelStudent, got.Level)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, "sub_1", *got.SubscriptionID)
	assert.Equal(t, 1, f.gateway.Calls("UpdateSubscription"))
	assert.Zero(t, f.gateway.Calls("CancelSubscription"))

	sub, err := f.gateway.RetrieveSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "student", sub.Metadata[payment.MetadataLevel])

	changed := f.events.Events(domain.EventLevelChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, map[string]string{"from": "full", "to": "student"}, changed[0].Data)
}

func TestChangeLevelCancelsWhenSwapFails(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	start, end := now.AddDate(0, -1, 0), now.AddDate(0, 11, 0)
	m := f.addMember(withStatus(domain.StatusApproved), withExpiry(end), withSubscription("sub_1", "cus_1"))
	f.putSubscription("sub_1", "cus_1", m.ID, payment.SubscriptionActive, start, end)
	f.gateway.FailNext("UpdateSubscription", transientError("UpdateSubscription"))

	got, err := f.members.ChangeLevel(ctx, m.ID, "associate")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelAssociate, got.Level)
	assert.Equal(t, 1, f.gateway.Calls("CancelSubscription"))
	// The cancelled period ends now, so reconciliation expires the member.
	assert.Equal(t, domain.StatusExpired, got.Status)
}

func TestChangeLevelToFreeLevelCancels(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	m := f.addMember(withStatus(domain.StatusApproved), withExpiry(now.AddDate(0, 11, 0)), withSubscription("sub_1", "cus_1"))
	f.putSubscription("sub_1", "cus_1", m.ID, payment.SubscriptionActive, now.AddDate(0, -1, 0), now.AddDate(0, 11, 0))

	_, err := f.members.ChangeLevel(ctx, m.ID, "honorary")
	require.NoError(t, err)
	assert.Zero(t, f.gateway.Calls("UpdateSubscription"))
	assert.Equal(t, 1, f.gateway.Calls("CancelSubscription"))
}

func TestChangeLevelWithoutSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember(withStatus(domain.StatusApproved))

	got, err := f.members.ChangeLevel(ctx, m.ID, "corporate")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelCorporate, got.Level)
	assert.Zero(t, f.gateway.Calls("UpdateSubscription"))

	// Same level is a no-op.
	_, err = f.members.ChangeLevel(ctx, m.ID, "CORPORATE")
	require.NoError(t, err)
	assert.Len(t, f.events.Events(domain.EventLevelChanged), 1)

	_, err = f.members.ChangeLevel(ctx, m.ID, "platinum")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestMemberPayments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, date(2024, 6, 2))
	m := f.addMember()

	_, err := f.manual.Record(ctx, "admin-1", &domain.ManualPaymentRequest{UserID: m.ID, Method: "cash"})
	require.NoError(t, err)

	list, err := f.members.Payments(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.MethodCash, list[0].Method)

	_, err = f.members.Payments(ctx, "missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestChangeLevelIsRetryableWhenBillingFails(t *testing.T) {
	ctx := context.Background()
	now := date(2024, 6, 2)
	f := newFixture(t, now)
	start, end := now.AddDate(0, -1, 0), now.AddDate(0, 11, 0)
	m := f.addMember(withStatus(domain.StatusApproved), withExpiry(end), withSubscription("sub_1", "cus_1"))
	f.putSubscription("sub_1", "cus_1", m.ID, payment.SubscriptionActive, start, end)

	f.gateway.FailNext("UpdateSubscription", transientError("UpdateSubscription"))
	f.gateway.FailNext("CancelSubscription", transientError("CancelSubscription"))

	_, err := f.members.ChangeLevel(ctx, m.ID, "associate")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProvider))

	stored := f.store.Member(m.ID)
	assert.Equal(t, domain.LevelFull, stored.Level, "level must not change when billing failed")
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Empty(t, f.events.Events(domain.EventLevelChanged))

	got, err := f.members.ChangeLevel(ctx, m.ID, "associate")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelAssociate, got.Level)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, 2, f.gateway.Calls("UpdateSubscription"))
	assert.Equal(t, 1, f.gateway.Calls("CancelSubscription"))

	sub, err := f.gateway.RetrieveSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "associate", sub.Metadata[payment.MetadataLevel])
	assert.Len(t, f.events.Events(domain.EventLevelChanged), 1)
}
