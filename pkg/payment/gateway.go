// Package payment abstracts the external subscription billing provider.
package payment

import (
	"context"
	"encoding/json"
	"time"
)

// Gateway defines the billing provider operations the membership core relies on.
// Implementations never retry; callers own retry and backoff.
type Gateway interface {
	// Configured reports whether billing is usable. When false every other
	// method fails with ErrNotConfigured.
	Configured() bool

	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string, opts CancelOptions) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) (*Subscription, error)

	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)

	RetrieveInvoice(ctx context.Context, id string) (*Invoice, error)
	CreateOrUpdateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error)

	// ParseEvent verifies the signature over payload and decodes the event.
	// Nothing in payload is trusted before verification succeeds.
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// SubscriptionStatus is the provider-side lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionPaused            SubscriptionStatus = "paused"
)

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetadataUserID = "user_id"
	MetadataLevel  = "membership_level"
)

// Subscription is the provider-neutral view of a recurring-billing object.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	LatestInvoiceID    string
	Metadata           map[string]string
}

// CancelOptions controls how a subscription is cancelled.
type CancelOptions struct {
	// Immediate ends the subscription now; otherwise it ends at period end.
	Immediate bool
}

// SubscriptionPatch describes an in-place subscription change. Nil fields are
// left untouched.
type SubscriptionPatch struct {
	// AnnualAmount swaps the subscription to a yearly price of this amount
	// (major currency units) without proration.
	AnnualAmount      *float64
	Currency          string
	CancelAtPeriodEnd *bool
	Metadata          map[string]string
}

// CheckoutRequest starts a hosted subscription checkout.
type CheckoutRequest struct {
	CustomerID   string
	Email        string
	ProductName  string
	AnnualAmount float64
	Currency     string
	// TrialEnd defers the first charge to this instant when set.
	TrialEnd   *time.Time
	SuccessURL string
	CancelURL  string
	// ClientReference correlates the session with the local member.
	ClientReference string
	Metadata        map[string]string
}

// Checkout session states.
const (
	SessionComplete = "complete"
	SessionOpen     = "open"
	SessionExpired  = "expired"

	SessionPaid              = "paid"
	SessionUnpaid            = "unpaid"
	SessionNoPaymentRequired = "no_payment_required"
)

// CheckoutSession is the provider-neutral view of a hosted checkout.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	SubscriptionID  string
	CustomerID      string
	ClientReference string
	AmountTotal     float64
	Currency        string
	Metadata        map[string]string
}

// UserID returns the local member correlated with the session.
func (s *CheckoutSession) UserID() string {
	if s.ClientReference != "" {
		return s.ClientReference
	}
	return s.Metadata[MetadataUserID]
}

// PaymentComplete reports whether the member finished paying (or owes
// nothing yet because of a trial).
func (s *CheckoutSession) PaymentComplete() bool {
	return s.Status == SessionComplete &&
		(s.PaymentStatus == SessionPaid || s.PaymentStatus == SessionNoPaymentRequired)
}

// Invoice is the provider-neutral view of an invoice.
type Invoice struct {
	ID         string
	Status     string
	AmountPaid float64
	Currency   string
	PaidAt     *time.Time
}

// CustomerRequest creates a customer, or updates it when ID is set.
type CustomerRequest struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]string
}

// Customer is the provider-neutral view of a billing customer.
type Customer struct {
	ID    string
	Email string
}

// Event kinds dispatched by the membership core.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a verified provider push event.
type Event struct {
	ID   string
	Type string
	// Data is the raw JSON of the event's object.
	Data json.RawMessage
}

// MinorUnits converts a major-unit amount to the provider's integer minor units.
func MinorUnits(amount float64) int64 {
	if amount < 0 {
		return 0
	}
	return int64(amount*100 + 0.5)
}

// MajorUnits converts provider minor units to a major-unit amount.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}
