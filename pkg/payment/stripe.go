package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string

	// misconfigured latches after an authentication failure so every later
	// call short-circuits until the process is restarted with new credentials.
	misconfigured atomic.Bool
}

// NewStripeGateway creates a Stripe-backed gateway. An empty secretKey yields
// a gateway that reports Configured() == false.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	g := &StripeGateway{webhookSecret: strings.TrimSpace(webhookSecret)}
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return g
	}

	// Callers own retries, so the SDK's built-in network retries are off.
	cfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	g.api = client.New(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})
	return g
}

// Configured implements Gateway.
func (g *StripeGateway) Configured() bool {
	return g.api != nil && !g.misconfigured.Load()
}

func (g *StripeGateway) ready(op string) error {
	if !g.Configured() {
		return newError(ClassConfiguration, op, ErrNotConfigured)
	}
	return nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	const op = "RetrieveSubscription"
	if err := g.ready(op); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, g.classify(op, err)
	}
	return toSubscription(sub), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string, opts CancelOptions) (*Subscription, error) {
	const op = "CancelSubscription"
	if err := g.ready(op); err != nil {
		return nil, err
	}
	if !opts.Immediate {
		atPeriodEnd := true
		return g.UpdateSubscription(ctx, id, SubscriptionPatch{CancelAtPeriodEnd: &atPeriodEnd})
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Cancel(id, params)
	if err != nil {
		return nil, g.classify(op, err)
	}
	return toSubscription(sub), nil
}

// UpdateSubscription applies patch. A price swap replaces the single item's
// price with an inline yearly price on the same product, without proration.
func (g *StripeGateway) UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) (*Subscription, error) {
	const op = "UpdateSubscription"
	if err := g.ready(op); err != nil {
		return nil, err
	}

	if patch.AnnualAmount != nil {
		getParams := &stripe.SubscriptionParams{}
		getParams.Context = ctx
		current, err := g.api.Subscriptions.Get(id, getParams)
		if err != nil {
			return nil, g.classify(op, err)
		}
		if current.Items == nil || len(current.Items.Data) == 0 {
			return nil, newError(ClassRejected, op, fmt.Errorf("subscription %s has no items", id))
		}
		item := current.Items.Data[0]
		if item.Price == nil || item.Price.Product == nil {
			return nil, newError(ClassRejected, op, fmt.Errorf("subscription item %s has no product", item.ID))
		}

		itemParams := &stripe.SubscriptionItemParams{
			ProrationBehavior: stripe.String("none"),
			PriceData: &stripe.SubscriptionItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(patch.Currency)),
				Product:    stripe.String(item.Price.Product.ID),
				UnitAmount: stripe.Int64(MinorUnits(*patch.AnnualAmount)),
				Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
					Interval: stripe.String("year"),
				},
			},
		}
		itemParams.Context = ctx
		if _, err := g.api.SubscriptionItems.Update(item.ID, itemParams); err != nil {
			return nil, g.classify(op, err)
		}
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if patch.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*patch.CancelAtPeriodEnd)
	}
	for k, v := range patch.Metadata {
		params.AddMetadata(k, v)
	}
	sub, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, g.classify(op, err)
	}
	return toSubscription(sub), nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	const op = "CreateCheckoutSession"
	if err := g.ready(op); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ClientReference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(MinorUnits(req.AnnualAmount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String("year"),
					},
				},
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if req.TrialEnd != nil {
		params.SubscriptionData.TrialEnd = stripe.Int64(req.TrialEnd.Unix())
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.classify(op, err)
	}
	if strings.TrimSpace(s.URL) == "" {
		return nil, newError(ClassRejected, op, errors.New("stripe returned empty checkout URL"))
	}
	return toCheckoutSession(s), nil
}

func (g *StripeGateway) RetrieveCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	const op = "RetrieveCheckoutSession"
	if err := g.ready(op); err != nil {
		return nil, err
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, g.classify(op, err)
	}
	return toCheckoutSession(s), nil
}

func (g *StripeGateway) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	const op = "RetrieveInvoice"
	if err := g.ready(op); err != nil {
		return nil, err
	}
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	inv, err := g.api.Invoices.Get(id, params)
	if err != nil {
		return nil, g.classify(op, err)
	}
	out := &Invoice{
		ID:         inv.ID,
		Status:     string(inv.Status),
		AmountPaid: MajorUnits(inv.AmountPaid),
		Currency:   string(inv.Currency),
	}
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt := time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		out.PaidAt = &paidAt
	}
	return out, nil
}

func (g *StripeGateway) CreateOrUpdateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	const op = "CreateOrUpdateCustomer"
	if err := g.ready(op); err != nil {
		return nil, err
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	var (
		c   *stripe.Customer
		err error
	)
	if req.ID != "" {
		c, err = g.api.Customers.Update(req.ID, params)
	} else {
		c, err = g.api.Customers.New(params)
	}
	if err != nil {
		return nil, g.classify(op, err)
	}
	return &Customer{ID: c.ID, Email: c.Email}, nil
}

// ParseEvent verifies the Stripe-Signature header before decoding anything.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, newError(ClassConfiguration, "ParseEvent", ErrNotConfigured)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		out.Data = ev.Data.Raw
	}
	return out, nil
}

// classify maps a Stripe SDK error onto a gateway error class.
func (g *StripeGateway) classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound:
			return newError(ClassNotFound, op, err)
		case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
			g.misconfigured.Store(true)
			return newError(ClassConfiguration, op, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.Type == stripe.ErrorTypeAPI:
			return newError(ClassTransient, op, err)
		default:
			return newError(ClassRejected, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ClassTransient, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else never reached a Stripe response; retrying is safe.
	return newError(ClassTransient, op, err)
}

func toSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            SubscriptionStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.LatestInvoice != nil {
		out.LatestInvoiceID = s.LatestInvoice.ID
	}
	// Billing periods live on subscription items since API version 2025-03-31.
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	} else {
		out.CurrentPeriodStart = time.Unix(s.StartDate, 0).UTC()
		out.CurrentPeriodEnd = out.CurrentPeriodStart
	}
	return out
}

func toCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:              s.ID,
		URL:             s.URL,
		Status:          string(s.Status),
		PaymentStatus:   string(s.PaymentStatus),
		ClientReference: s.ClientReferenceID,
		AmountTotal:     MajorUnits(s.AmountTotal),
		Currency:        string(s.Currency),
		Metadata:        s.Metadata,
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out
}

var _ Gateway = (*StripeGateway)(nil)
