package service

import (
	"context"
	"testing"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/testutil"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWiresSharedDependencies(t *testing.T) {
	store := testutil.NewStore()
	gateway := payment.NewMockGateway("whsec_test")
	svc := New(
		Stores{Members: store, Payments: store, Settings: store},
		gateway,
		&testutil.Publisher{},
		Options{Currency: "eur", PublicBaseURL: "https://members.example.org", SyncConcurrency: 2},
	)

	assert.Same(t, svc.Reconcile, svc.Checkout.reconcile)
	assert.Same(t, svc.Reconcile, svc.Members.reconcile)
	assert.Same(t, svc.Settings, svc.Manual.settings)

	fees, err := svc.Settings.PublicFees(context.Background())
	require.NoError(t, err)
	require.Len(t, fees, len(domain.Levels()))
	assert.Equal(t, "eur", fees[0].Currency)

	report, err := svc.Sync.Sync(context.Background(), SyncRequest{All: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)

	res, err := svc.Sweep.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
}
