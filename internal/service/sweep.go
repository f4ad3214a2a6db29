package service

import (
	"context"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/metrics"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// SweepResult reports one sweeper run.
type SweepResult struct {
	Checked int `json:"checked"`
	Expired int `json:"expired"`
}

// SweepService expires approved members whose expiry has passed.
type SweepService struct {
	members     MemberStore
	events      Publisher
	exemptRoles []string
	now         func() time.Time
}

// NewSweepService creates a new SweepService. Members with an exempt role are
// never expired.
func NewSweepService(members MemberStore, events Publisher, exemptRoles []string) *SweepService {
	return &SweepService{members: members, events: events, exemptRoles: exemptRoles, now: time.Now}
}

// Sweep runs one batch transition. Subscription references and the ledger are
// left untouched.
func (s *SweepService) Sweep(ctx context.Context) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "membership.sweep")
	defer span.End()

	now := s.now()
	checked, expired, err := s.members.ExpireLapsed(ctx, now, s.exemptRoles)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrPersistence("failed to expire lapsed members", err)
	}

	for _, id := range expired {
		s.events.Publish(domain.NewEvent(domain.EventMemberExpired, id, now, map[string]string{"reason": "sweep"}))
	}
	metrics.SweepExpiredTotal.Add(float64(len(expired)))
	span.SetAttributes(attribute.Int("sweep.checked", checked), attribute.Int("sweep.expired", len(expired)))

	log.Info().Int("checked", checked).Int("expired", len(expired)).Msg("Expiry sweep finished")
	return &SweepResult{Checked: checked, Expired: len(expired)}, nil
}
