package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is a membership level.
type Level string

const (
	LevelFull      Level = "full"
	LevelStudent   Level = "student"
	LevelAssociate Level = "associate"
	LevelCorporate Level = "corporate"
	LevelHonorary  Level = "honorary"
)

// Levels lists every membership level in display order.
func Levels() []Level {
	return []Level{LevelFull, LevelStudent, LevelAssociate, LevelCorporate, LevelHonorary}
}

// ParseLevel normalizes s and reports whether it names a known level.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Levels() {
		if l == known {
			return l, true
		}
	}
	return "", false
}

// Status is the approval status of a member.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusExpired  Status = "expired"
	StatusRejected Status = "rejected"
)

// Roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// MemberProfile is the persisted membership record of a community member.
type MemberProfile struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	Role              string     `json:"role"`
	Level             Level      `json:"membershipLevel"`
	Status            Status     `json:"status"`
	ExpiresAt         *time.Time `json:"membershipExpiresAt"`
	SubscriptionID    *string    `json:"externalSubscriptionId"`
	CustomerID        *string    `json:"externalCustomerId"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// HasSubscription reports whether the profile references an external subscription.
func (m *MemberProfile) HasSubscription() bool {
	return m.SubscriptionID != nil && *m.SubscriptionID != ""
}

// ExpiresAfter reports whether the membership expiry is set and later than t.
func (m *MemberProfile) ExpiresAfter(t time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.After(t)
}

// State returns the billing-derived part of the profile.
func (m *MemberProfile) State() MembershipState {
	return MembershipState{
		Status:            m.Status,
		ExpiresAt:         m.ExpiresAt,
		CancelAtPeriodEnd: m.CancelAtPeriodEnd,
		SubscriptionID:    m.SubscriptionID,
		CustomerID:        m.CustomerID,
	}
}

// MembershipState is the tuple written together by every membership writer.
// It is never applied partially.
type MembershipState struct {
	Status            Status
	ExpiresAt         *time.Time
	CancelAtPeriodEnd bool
	SubscriptionID    *string
	CustomerID        *string
}

// Equal compares two states. Timestamps compare at second precision since
// that is what the billing provider and storage round-trip.
func (s MembershipState) Equal(o MembershipState) bool {
	return s.Status == o.Status &&
		s.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		sameTime(s.ExpiresAt, o.ExpiresAt) &&
		sameString(s.SubscriptionID, o.SubscriptionID) &&
		sameString(s.CustomerID, o.CustomerID)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Unix() == b.Unix()
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// CreateMemberRequest is the validated input for creating a member.
type CreateMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Level string `json:"membershipLevel" validate:"required,oneof=full student associate corporate honorary"`
	Role  string `json:"role" validate:"omitempty,oneof=member admin"`
}

// ApproveMemberRequest is the admin input for approving a member.
type ApproveMemberRequest struct {
	ExpiresAt *time.Time `json:"expiresAt"`
}

// ChangeLevelRequest is the admin input for changing a member's level.
type ChangeLevelRequest struct {
	Level string `json:"membershipLevel" validate:"required,oneof=full student associate corporate honorary"`
}

// JWTClaims represents the JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// NewID generates a new UUID for a member or payment.
func NewID() string {
	return uuid.New().String()
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
