package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
)

// MemberService implements the admin lifecycle actions on member profiles.
type MemberService struct {
	members   MemberStore
	payments  PaymentStore
	settings  *SettingsService
	gateway   payment.Gateway
	reconcile *ReconcileService
	events    Publisher
	now       func() time.Time
}

// NewMemberService creates a new MemberService.
func NewMemberService(members MemberStore, payments PaymentStore, settings *SettingsService, gateway payment.Gateway, reconcile *ReconcileService, events Publisher) *MemberService {
	return &MemberService{
		members:   members,
		payments:  payments,
		settings:  settings,
		gateway:   gateway,
		reconcile: reconcile,
		events:    events,
		now:       time.Now,
	}
}

// Create registers a new pending member.
func (s *MemberService) Create(ctx context.Context, req *domain.CreateMemberRequest) (*domain.MemberProfile, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	level, ok := domain.ParseLevel(req.Level)
	if !ok {
		return nil, domain.ErrValidation("unknown membership level")
	}
	role := req.Role
	if role == "" {
		role = domain.RoleMember
	}

	now := s.now().UTC()
	m := &domain.MemberProfile{
		ID:        domain.NewID(),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Name:      strings.TrimSpace(req.Name),
		Role:      role,
		Level:     level,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.members.Create(ctx, m); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.ErrConflict("email already registered")
		}
		return nil, domain.ErrPersistence("failed to create member", err)
	}
	return m, nil
}

// Get returns a member profile.
func (s *MemberService) Get(ctx context.Context, id string) (*domain.MemberProfile, error) {
	m, err := s.members.FindByID(ctx, id)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load member", err)
	}
	if m == nil {
		return nil, domain.ErrNotFound("member not found")
	}
	return m, nil
}

// Payments returns a member's ledger, newest first.
func (s *MemberService) Payments(ctx context.Context, id string) ([]*domain.PaymentRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	list, err := s.payments.ListByUser(ctx, id)
	if err != nil {
		return nil, domain.ErrPersistence("failed to list payments", err)
	}
	return list, nil
}

// Approve grants membership. A nil expiresAt keeps a still-future expiry, or
// grants open-ended access otherwise.
func (s *MemberService) Approve(ctx context.Context, id string, expiresAt *time.Time) (*domain.MemberProfile, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()

	state := m.State()
	state.Status = domain.StatusApproved
	switch {
	case expiresAt != nil:
		if !expiresAt.After(now) {
			return nil, domain.ErrValidation("expiresAt must be in the future")
		}
		state.ExpiresAt = domain.TimePtr(expiresAt.UTC())
	case !m.ExpiresAfter(now):
		state.ExpiresAt = nil
	}

	if err := s.members.UpdateState(ctx, m.ID, state); err != nil {
		return nil, domain.ErrPersistence("failed to approve member", err)
	}
	log.Info().Str("user_id", m.ID).Msg("Member approved")
	publishTransition(s.events, m.ID, m.Status, state.Status, now, map[string]string{"reason": "admin"})
	return applyState(m, state), nil
}

// Reject marks the member rejected. A live subscription is cancelled first so
// a rejected member is never billed again.
func (s *MemberService) Reject(ctx context.Context, id string) (*domain.MemberProfile, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusRejected {
		return m, nil
	}

	state := m.State()
	state.Status = domain.StatusRejected
	if m.HasSubscription() {
		if err := s.cancelNow(ctx, *m.SubscriptionID); err != nil {
			return nil, err
		}
		state.SubscriptionID = nil
		state.CancelAtPeriodEnd = false
	}

	if err := s.members.UpdateState(ctx, m.ID, state); err != nil {
		return nil, domain.ErrPersistence("failed to reject member", err)
	}
	log.Info().Str("user_id", m.ID).Msg("Member rejected")
	return applyState(m, state), nil
}

// ChangeLevel moves the member to a new level. With a live subscription the
// price is swapped in place; if the swap fails the subscription is cancelled
// immediately. The level is stored only after the billing side succeeded, so a
// failed call can be retried as a whole.
// TODO: replace cancel-on-failure with retry and an admin alert once the
// notification workers can page someone.
func (s *MemberService) ChangeLevel(ctx context.Context, id, rawLevel string) (*domain.MemberProfile, error) {
	level, ok := domain.ParseLevel(rawLevel)
	if !ok {
		return nil, domain.ErrValidation("unknown membership level")
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Level == level {
		return m, nil
	}

	previous := m.Level
	billed := m.HasSubscription() && s.gateway.Configured()
	if billed {
		if err := s.moveSubscription(ctx, m, level); err != nil {
			return nil, err
		}
	}

	if err := s.members.UpdateLevel(ctx, m.ID, level); err != nil {
		return nil, domain.ErrPersistence("failed to change level", err)
	}
	m.Level = level
	s.events.Publish(domain.NewEvent(domain.EventLevelChanged, m.ID, s.now(), map[string]string{
		"from": string(previous),
		"to":   string(level),
	}))

	if billed {
		if _, err := s.reconcile.reconcile(ctx, m, *m.SubscriptionID, nil); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// moveSubscription puts the member's subscription on the fee of level, or
// cancels it when the level is free or the swap fails.
func (s *MemberService) moveSubscription(ctx context.Context, m *domain.MemberProfile, level domain.Level) error {
	subID := *m.SubscriptionID
	logger := log.With().Str("user_id", m.ID).Str("subscription_id", subID).Logger()

	fee, err := s.settings.FeeForLevel(ctx, level)
	if err != nil {
		return err
	}

	if fee > 0 {
		_, swapErr := s.gateway.UpdateSubscription(ctx, subID, payment.SubscriptionPatch{
			AnnualAmount: &fee,
			Currency:     s.settings.Currency(),
			Metadata:     map[string]string{payment.MetadataLevel: string(level)},
		})
		if swapErr == nil {
			logger.Info().Float64("fee", fee).Msg("Subscription price swapped")
			return nil
		}
		logger.Warn().Err(swapErr).Msg("Price swap failed, cancelling subscription")
	} else {
		logger.Info().Msg("New level has no fee, cancelling subscription")
	}

	return s.cancelNow(ctx, subID)
}

func (s *MemberService) cancelNow(ctx context.Context, subID string) error {
	if !s.gateway.Configured() {
		return domain.ErrConfiguration("billing is not configured", payment.ErrNotConfigured)
	}
	_, err := s.gateway.CancelSubscription(ctx, subID, payment.CancelOptions{Immediate: true})
	if err != nil && payment.ClassOf(err) != payment.ClassNotFound {
		return providerError(err)
	}
	return nil
}
