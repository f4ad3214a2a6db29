package service

import (
	"context"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("memberhub/service")

// MemberStore persists member profiles. Implemented by repository.MemberRepository.
type MemberStore interface {
	Create(ctx context.Context, m *domain.MemberProfile) error
	FindByID(ctx context.Context, id string) (*domain.MemberProfile, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.MemberProfile, error)
	ListWithSubscription(ctx context.Context) ([]*domain.MemberProfile, error)
	UpdateState(ctx context.Context, id string, s domain.MembershipState) error
	UpdateLevel(ctx context.Context, id string, level domain.Level) error
	ApplyPayment(ctx context.Context, id string, s domain.MembershipState, rec *domain.PaymentRecord) (bool, error)
	ExpireLapsed(ctx context.Context, now time.Time, exemptRoles []string) (int, []string, error)
}

// PaymentStore reads the payment ledger.
type PaymentStore interface {
	Exists(ctx context.Context, userID, subscriptionID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.PaymentRecord, error)
}

// SettingsStore holds admin-editable settings documents.
type SettingsStore interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Publisher receives domain events. Publish must not block and its outcome
// never affects the caller.
type Publisher interface {
	Publish(ev domain.Event)
}

// applyState returns a copy of m with s applied.
func applyState(m *domain.MemberProfile, s domain.MembershipState) *domain.MemberProfile {
	cp := *m
	cp.Status = s.Status
	cp.ExpiresAt = s.ExpiresAt
	cp.CancelAtPeriodEnd = s.CancelAtPeriodEnd
	cp.SubscriptionID = s.SubscriptionID
	cp.CustomerID = s.CustomerID
	return &cp
}

// publishTransition emits the approval and expiry edge events between prev and next.
func publishTransition(p Publisher, userID string, prev, next domain.Status, at time.Time, data map[string]string) {
	if prev != domain.StatusApproved && next == domain.StatusApproved {
		p.Publish(domain.NewEvent(domain.EventMemberApproved, userID, at, data))
	}
	if prev != domain.StatusExpired && next == domain.StatusExpired {
		p.Publish(domain.NewEvent(domain.EventMemberExpired, userID, at, data))
	}
}
