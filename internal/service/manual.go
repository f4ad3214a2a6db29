package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ManualPaymentService records out-of-band payments entered by admins.
// It never talks to the billing provider.
type ManualPaymentService struct {
	members  MemberStore
	settings *SettingsService
	events   Publisher
	now      func() time.Time
}

// NewManualPaymentService creates a new ManualPaymentService.
func NewManualPaymentService(members MemberStore, settings *SettingsService, events Publisher) *ManualPaymentService {
	return &ManualPaymentService{members: members, settings: settings, events: events, now: time.Now}
}

// Record approves the member until the given (or default one-year) expiry and
// appends a completed ledger row attributed to adminID.
func (s *ManualPaymentService) Record(ctx context.Context, adminID string, req *domain.ManualPaymentRequest) (*domain.ManualPaymentResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	method := domain.PaymentMethod(strings.ToLower(req.Method))
	switch method {
	case domain.MethodCash, domain.MethodWire, domain.MethodOther:
	default:
		return nil, domain.ErrValidation("method must be one of cash, wire, other")
	}

	m, err := s.members.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to load member", err)
	}
	if m == nil {
		return nil, domain.ErrNotFound("member not found")
	}

	now := s.now()
	expiresAt := now.AddDate(1, 0, 0).UTC()
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, domain.ErrValidation("expiresAt must be in the future")
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	var amount float64
	if req.Amount != nil {
		if *req.Amount < 0 {
			return nil, domain.ErrValidation("amount must not be negative")
		}
		amount = *req.Amount
	} else {
		amount, err = s.settings.FeeForLevel(ctx, m.Level)
		if err != nil {
			return nil, err
		}
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.settings.Currency()
	}

	clearSub := true
	if req.ClearExternalSubscription != nil {
		clearSub = *req.ClearExternalSubscription
	}

	state := m.State()
	state.Status = domain.StatusApproved
	state.ExpiresAt = &expiresAt
	if clearSub {
		state.SubscriptionID = nil
		state.CustomerID = nil
		state.CancelAtPeriodEnd = false
	}

	rec := &domain.PaymentRecord{
		ID:                domain.NewID(),
		UserID:            m.ID,
		Method:            method,
		Amount:            amount,
		Currency:          currency,
		PaymentDate:       now.UTC(),
		ExpiresAtSnapshot: domain.TimePtr(expiresAt),
		RecordedBy:        domain.StringPtr(adminID),
		Notes:             strings.TrimSpace(req.Notes),
		Status:            domain.PaymentCompleted,
		CreatedAt:         now.UTC(),
	}

	if _, err := s.members.ApplyPayment(ctx, m.ID, state, rec); err != nil {
		return nil, domain.ErrPersistence("failed to record payment", err)
	}
	metrics.LedgerInsertsTotal.WithLabelValues(string(method), "inserted").Inc()

	log.Info().
		Str("user_id", m.ID).
		Str("recorded_by", adminID).
		Str("method", string(method)).
		Bool("cleared_subscription", clearSub && m.HasSubscription()).
		Msg("Manual payment recorded")

	publishTransition(s.events, m.ID, m.Status, domain.StatusApproved, now, map[string]string{"method": string(method)})
	s.events.Publish(domain.NewEvent(domain.EventPaymentRecorded, m.ID, now, map[string]string{
		"method":   string(method),
		"amount":   fmt.Sprintf("%.2f", amount),
		"currency": currency,
	}))

	return &domain.ManualPaymentResult{Member: applyState(m, state), Payment: rec}, nil
}
