package domain

import "time"

// EventType names a domain event emitted by the membership core.
type EventType string

const (
	EventMemberApproved    EventType = "member.approved"
	EventMemberExpired     EventType = "member.expired"
	EventPaymentRecorded   EventType = "payment.recorded"
	EventSubscriptionEnded EventType = "subscription.ended"
	EventLevelChanged      EventType = "member.level_changed"
)

// Event is a fire-and-forget notification about a state transition. Consumers
// (email, roster sync) must not be able to affect the transition itself.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	UserID     string            `json:"userId"`
	OccurredAt time.Time         `json:"occurredAt"`
	Data       map[string]string `json:"data,omitempty"`
}

// NewEvent builds an event stamped with a fresh id.
func NewEvent(t EventType, userID string, at time.Time, data map[string]string) Event {
	return Event{
		ID:         NewID(),
		Type:       t,
		UserID:     userID,
		OccurredAt: at,
		Data:       data,
	}
}
