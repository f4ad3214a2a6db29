package service

import (
	"context"
	"strings"
	"sync"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// SyncRequest selects which members to reconcile. Exactly one field is set.
type SyncRequest struct {
	UserID         string `json:"userId"`
	SubscriptionID string `json:"subscriptionId"`
	All            bool   `json:"all"`
}

// SyncFailure describes one member that could not be reconciled.
type SyncFailure struct {
	UserID string           `json:"userId"`
	Kind   domain.ErrorKind `json:"error"`
}

// SyncReport tallies an admin sync run.
type SyncReport struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Changed   int           `json:"changed"`
	Failures  []SyncFailure `json:"failures,omitempty"`
}

func (r *SyncReport) add(userID string, res *ReconcileResult, err error) {
	r.Total++
	if err != nil {
		r.Failed++
		kind := domain.KindInternal
		if appErr, ok := domain.AsAppError(err); ok {
			kind = appErr.Kind
		}
		r.Failures = append(r.Failures, SyncFailure{UserID: userID, Kind: kind})
		return
	}
	r.Succeeded++
	if res != nil && res.Changed {
		r.Changed++
	}
}

// SyncService lets admins force reconciliation of one or all members.
type SyncService struct {
	members     MemberStore
	reconcile   *ReconcileService
	gateway     payment.Gateway
	concurrency int
}

// NewSyncService creates a new SyncService reconciling at most concurrency
// members at once.
func NewSyncService(members MemberStore, reconcile *ReconcileService, gateway payment.Gateway, concurrency int) *SyncService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SyncService{members: members, reconcile: reconcile, gateway: gateway, concurrency: concurrency}
}

// Sync reconciles the selected members. Individual failures are tallied in the
// report rather than aborting the run.
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*SyncReport, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)

	selected := 0
	for _, set := range []bool{req.UserID != "", req.SubscriptionID != "", req.All} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		return nil, domain.ErrValidation("exactly one of userId, subscriptionId or all is required")
	}
	// A single member without a subscription reconciles without the provider.
	if req.UserID == "" && !s.gateway.Configured() {
		return nil, domain.ErrConfiguration("billing is not configured", payment.ErrNotConfigured)
	}

	report := &SyncReport{}
	switch {
	case req.UserID != "":
		res, err := s.reconcile.Reconcile(ctx, req.UserID, "")
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, err
		}
		report.add(req.UserID, res, err)

	case req.SubscriptionID != "":
		res, err := s.reconcile.ReconcileBySubscription(ctx, req.SubscriptionID)
		if err == nil && res == nil {
			return nil, domain.ErrNotFound("no member holds this subscription")
		}
		userID := ""
		if res != nil {
			userID = res.UserID
		}
		report.add(userID, res, err)

	default:
		if err := s.syncAll(ctx, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (s *SyncService) syncAll(ctx context.Context, report *SyncReport) error {
	ctx, span := tracer.Start(ctx, "membership.sync_all")
	defer span.End()

	members, err := s.members.ListWithSubscription(ctx)
	if err != nil {
		return domain.ErrPersistence("failed to list subscribed members", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, m := range members {
		m := m
		g.Go(func() error {
			res, err := s.reconcile.Reconcile(ctx, m.ID, "")
			if err != nil {
				log.Warn().Err(err).Str("user_id", m.ID).Msg("Sync failed for member")
			}
			mu.Lock()
			report.add(m.ID, res, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sync.total", report.Total),
		attribute.Int("sync.failed", report.Failed),
	)
	log.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("changed", report.Changed).
		Msg("Billing sync finished")
	return nil
}
