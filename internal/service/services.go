package service

import (
	"github.com/memberhub/backend/pkg/payment"
)

// Stores bundles the persistence dependencies of the services.
type Stores struct {
	Members  MemberStore
	Payments PaymentStore
	Settings SettingsStore
}

// Options carries the deployment settings the services need.
type Options struct {
	Currency        string
	PublicBaseURL   string
	ExemptRoles     []string
	SyncConcurrency int
}

// Services is the wired set of membership services shared by the HTTP server
// and the operator CLI.
type Services struct {
	Settings  *SettingsService
	Reconcile *ReconcileService
	Checkout  *CheckoutService
	Events    *EventService
	Manual    *ManualPaymentService
	Sweep     *SweepService
	Sync      *SyncService
	Members   *MemberService
}

// New wires every service against the given stores, gateway and publisher.
func New(stores Stores, gateway payment.Gateway, events Publisher, opts Options) *Services {
	settings := NewSettingsService(stores.Settings, opts.Currency)
	reconcile := NewReconcileService(stores.Members, settings, gateway, events)
	checkout := NewCheckoutService(stores.Members, stores.Payments, settings, gateway, reconcile, events, opts.PublicBaseURL)

	return &Services{
		Settings:  settings,
		Reconcile: reconcile,
		Checkout:  checkout,
		Events:    NewEventService(stores.Members, checkout, reconcile, events),
		Manual:    NewManualPaymentService(stores.Members, settings, events),
		Sweep:     NewSweepService(stores.Members, events, opts.ExemptRoles),
		Sync:      NewSyncService(stores.Members, reconcile, gateway, opts.SyncConcurrency),
		Members:   NewMemberService(stores.Members, stores.Payments, settings, gateway, reconcile, events),
	}
}
