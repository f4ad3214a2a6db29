// Package testutil provides in-memory stand-ins for the Postgres repositories.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/memberhub/backend/internal/domain"
)

// Store is an in-memory member, payment and settings store with the same
// uniqueness guarantees as the Postgres schema.
type Store struct {
	mu       sync.Mutex
	members  map[string]*domain.MemberProfile
	payments []*domain.PaymentRecord
	settings map[string][]byte
	writes   int
	failNext error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		members:  make(map[string]*domain.MemberProfile),
		settings: make(map[string][]byte),
	}
}

// Writes returns how many member state writes have been committed.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailNextWrite makes the next state write fail with err.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Put stores m as-is, bypassing validation.
func (s *Store) Put(m *domain.MemberProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.members[m.ID] = &cp
}

// Member returns a copy of the stored member, or nil.
func (s *Store) Member(id string) *domain.MemberProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Payments returns every ledger row for userID in insertion order.
func (s *Store) Payments(userID string) []*domain.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PaymentRecord
	for _, p := range s.payments {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) Create(ctx context.Context, m *domain.MemberProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if existing.Email == m.Email {
			return fmt.Errorf("member %s: %w", m.Email, domain.ErrDuplicate)
		}
	}
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.MemberProfile, error) {
	return s.Member(id), nil
}

func (s *Store) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.MemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.SubscriptionID != nil && *m.SubscriptionID == subscriptionID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListWithSubscription(ctx context.Context) ([]*domain.MemberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MemberProfile
	for _, m := range s.members {
		if m.SubscriptionID != nil {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// writeState applies st to the member. Caller must hold s.mu.
func (s *Store) writeState(id string, st domain.MembershipState) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	m, ok := s.members[id]
	if !ok {
		return fmt.Errorf("member %s not found", id)
	}
	if st.SubscriptionID != nil && st.CustomerID == nil {
		return fmt.Errorf("member %s: subscription without customer", id)
	}
	m.Status = st.Status
	m.ExpiresAt = st.ExpiresAt
	m.CancelAtPeriodEnd = st.CancelAtPeriodEnd
	m.SubscriptionID = st.SubscriptionID
	m.CustomerID = st.CustomerID
	m.UpdatedAt = time.Now().UTC()
	s.writes++
	return nil
}

func (s *Store) UpdateState(ctx context.Context, id string, st domain.MembershipState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeState(id, st)
}

func (s *Store) UpdateLevel(ctx context.Context, id string, level domain.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return fmt.Errorf("member %s not found", id)
	}
	m.Level = level
	return nil
}

func (s *Store) ApplyPayment(ctx context.Context, id string, st domain.MembershipState, rec *domain.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec != nil && rec.UserID != id {
		return false, fmt.Errorf("payment user %s does not match member %s", rec.UserID, id)
	}
	if err := s.writeState(id, st); err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if rec.SubscriptionID != nil {
		for _, p := range s.payments {
			if p.UserID == rec.UserID && p.SubscriptionID != nil && *p.SubscriptionID == *rec.SubscriptionID {
				return false, nil
			}
		}
	}
	cp := *rec
	s.payments = append(s.payments, &cp)
	return true, nil
}

func (s *Store) ExpireLapsed(ctx context.Context, now time.Time, exemptRoles []string) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exempt := make(map[string]bool, len(exemptRoles))
	for _, r := range exemptRoles {
		exempt[r] = true
	}

	var ids []string
	for _, m := range s.members {
		if m.Status == domain.StatusApproved && !exempt[m.Role] && m.ExpiresAt != nil && m.ExpiresAt.Before(now) {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.members[id].Status = domain.StatusExpired
	}
	return len(ids), ids, nil
}

func (s *Store) Exists(ctx context.Context, userID, subscriptionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.UserID == userID && p.SubscriptionID != nil && *p.SubscriptionID == subscriptionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*domain.PaymentRecord, error) {
	out := s.Payments(userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaymentDate.After(out[j].PaymentDate) })
	if out == nil {
		out = []*domain.PaymentRecord{}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.settings[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = raw
	return nil
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish implements service.Publisher.
func (p *Publisher) Publish(ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

// Events returns the recorded events of type t, or all when t is empty.
func (p *Publisher) Events(t domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if t == "" || ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
