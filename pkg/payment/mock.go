package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is an in-memory Gateway for tests and local development.
// Failures can be injected per operation with FailNext.
type MockGateway struct {
	mu            sync.Mutex
	configured    bool
	webhookSecret string
	now           func() time.Time

	subscriptions map[string]*Subscription
	sessions      map[string]*CheckoutSession
	invoices      map[string]*Invoice
	customers     map[string]*Customer
	failures      map[string][]error
	calls         map[string]int
}

// NewMockGateway returns a configured mock whose events are signed with webhookSecret.
func NewMockGateway(webhookSecret string) *MockGateway {
	return &MockGateway{
		configured:    true,
		webhookSecret: webhookSecret,
		now:           time.Now,
		subscriptions: make(map[string]*Subscription),
		sessions:      make(map[string]*CheckoutSession),
		invoices:      make(map[string]*Invoice),
		customers:     make(map[string]*Customer),
		failures:      make(map[string][]error),
		calls:         make(map[string]int),
	}
}

// SetConfigured toggles the configuration state.
func (g *MockGateway) SetConfigured(ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.configured = ok
}

// SetClock overrides the clock used for new periods.
func (g *MockGateway) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// PutSubscription stores or replaces a subscription.
func (g *MockGateway) PutSubscription(sub Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[sub.ID] = &sub
}

// DeleteSubscription removes a subscription so later lookups report NotFound.
func (g *MockGateway) DeleteSubscription(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subscriptions, id)
}

// PutSession stores or replaces a checkout session.
func (g *MockGateway) PutSession(s CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.ID] = &s
}

// PutInvoice stores or replaces an invoice.
func (g *MockGateway) PutInvoice(inv Invoice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[inv.ID] = &inv
}

// FailNext queues err for the next call of op (e.g. "RetrieveSubscription").
func (g *MockGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], err)
}

// Calls returns how many times op was invoked.
func (g *MockGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Configured implements Gateway.
func (g *MockGateway) Configured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configured
}

// begin records a call and returns any injected or configuration failure.
// Caller must hold g.mu.
func (g *MockGateway) begin(op string) error {
	g.calls[op]++
	if !g.configured {
		return newError(ClassConfiguration, op, ErrNotConfigured)
	}
	if queued := g.failures[op]; len(queued) > 0 {
		err := queued[0]
		g.failures[op] = queued[1:]
		return err
	}
	return nil
}

func (g *MockGateway) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("RetrieveSubscription"); err != nil {
		return nil, err
	}
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, newError(ClassNotFound, "RetrieveSubscription", fmt.Errorf("no such subscription: %s", id))
	}
	cp := *sub
	return &cp, nil
}

func (g *MockGateway) CancelSubscription(ctx context.Context, id string, opts CancelOptions) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CancelSubscription"); err != nil {
		return nil, err
	}
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, newError(ClassNotFound, "CancelSubscription", fmt.Errorf("no such subscription: %s", id))
	}
	if opts.Immediate {
		sub.Status = SubscriptionCanceled
		sub.CurrentPeriodEnd = g.now()
	} else {
		sub.CancelAtPeriodEnd = true
	}
	cp := *sub
	return &cp, nil
}

func (g *MockGateway) UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("UpdateSubscription"); err != nil {
		return nil, err
	}
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, newError(ClassNotFound, "UpdateSubscription", fmt.Errorf("no such subscription: %s", id))
	}
	if patch.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *patch.CancelAtPeriodEnd
	}
	if len(patch.Metadata) > 0 && sub.Metadata == nil {
		sub.Metadata = make(map[string]string)
	}
	for k, v := range patch.Metadata {
		sub.Metadata[k] = v
	}
	cp := *sub
	return &cp, nil
}

// CreateCheckoutSession opens a session; CompleteSession simulates the member
// finishing it.
func (g *MockGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	id := "cs_" + uuid.NewString()
	s := &CheckoutSession{
		ID:              id,
		URL:             "https://checkout.example.com/pay/" + id,
		Status:          SessionOpen,
		PaymentStatus:   SessionUnpaid,
		CustomerID:      req.CustomerID,
		ClientReference: req.ClientReference,
		AmountTotal:     req.AnnualAmount,
		Currency:        req.Currency,
		Metadata:        copyMetadata(req.Metadata),
	}
	g.sessions[id] = s
	cp := *s
	return &cp, nil
}

// CompleteSession marks a session paid and creates its yearly subscription.
func (g *MockGateway) CompleteSession(id string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such session: %s", id)
	}
	start := g.now()
	sub := &Subscription{
		ID:                 "sub_" + uuid.NewString(),
		CustomerID:         s.CustomerID,
		Status:             SubscriptionActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(1, 0, 0),
		Metadata:           copyMetadata(s.Metadata),
	}
	g.subscriptions[sub.ID] = sub
	s.Status = SessionComplete
	s.PaymentStatus = SessionPaid
	s.SubscriptionID = sub.ID
	cp := *sub
	return &cp, nil
}

func (g *MockGateway) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("RetrieveCheckoutSession"); err != nil {
		return nil, err
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, newError(ClassNotFound, "RetrieveCheckoutSession", fmt.Errorf("no such session: %s", id))
	}
	cp := *s
	return &cp, nil
}

func (g *MockGateway) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("RetrieveInvoice"); err != nil {
		return nil, err
	}
	inv, ok := g.invoices[id]
	if !ok {
		return nil, newError(ClassNotFound, "RetrieveInvoice", fmt.Errorf("no such invoice: %s", id))
	}
	cp := *inv
	return &cp, nil
}

func (g *MockGateway) CreateOrUpdateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("CreateOrUpdateCustomer"); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = "cus_" + uuid.NewString()
	} else if _, ok := g.customers[id]; !ok {
		return nil, newError(ClassNotFound, "CreateOrUpdateCustomer", fmt.Errorf("no such customer: %s", id))
	}
	c := &Customer{ID: id, Email: req.Email}
	g.customers[id] = c
	cp := *c
	return &cp, nil
}

// ParseEvent verifies a "sha256=<hex>" HMAC of payload before decoding it.
func (g *MockGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, newError(ClassConfiguration, "ParseEvent", ErrNotConfigured)
	}
	if !verifySignature(signature, payload, g.webhookSecret) {
		return nil, ErrInvalidSignature
	}
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &Event{ID: raw.ID, Type: raw.Type, Data: raw.Data.Object}, nil
}

// Sign returns the signature header value ParseEvent accepts for payload.
func (g *MockGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(signature string, payload []byte, secret string) bool {
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(parts[1]), []byte(expectedSignature))
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Gateway = (*MockGateway)(nil)
