package service

import (
	"context"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/pkg/payment"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventService dispatches verified billing events. Every branch re-derives
// state from the provider so redelivery is harmless.
type EventService struct {
	members   MemberStore
	checkout  *CheckoutService
	reconcile *ReconcileService
	events    Publisher
	now       func() time.Time
}

// NewEventService creates a new EventService.
func NewEventService(members MemberStore, checkout *CheckoutService, reconcile *ReconcileService, events Publisher) *EventService {
	return &EventService{
		members:   members,
		checkout:  checkout,
		reconcile: reconcile,
		events:    events,
		now:       time.Now,
	}
}

// Handle processes one event. A returned error means the event should be
// redelivered; events that can never succeed are acknowledged and logged.
func (s *EventService) Handle(ctx context.Context, ev *payment.Event) error {
	ctx, span := tracer.Start(ctx, "billing.handle_event",
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.String("event.type", ev.Type),
		),
	)
	defer span.End()

	logger := log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	var err error
	switch ev.Type {
	case payment.EventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, ev)
	case payment.EventSubscriptionUpdated:
		err = s.handleSubscriptionUpdated(ctx, ev)
	case payment.EventSubscriptionDeleted, payment.EventPaymentFailed:
		err = s.handleSubscriptionEnded(ctx, ev)
	default:
		logger.Debug().Msg("Ignoring unhandled billing event")
		return nil
	}

	if err != nil {
		if appErr, ok := domain.AsAppError(err); ok {
			switch appErr.Kind {
			case domain.KindNotFound, domain.KindAuthorization, domain.KindValidation:
				// Redelivery cannot change the outcome.
				logger.Warn().Err(err).Msg("Acknowledging billing event that cannot be applied")
				return nil
			}
		}
		span.RecordError(err)
		logger.Error().Err(err).Msg("Failed to process billing event")
		return err
	}
	return nil
}

func (s *EventService) handleCheckoutCompleted(ctx context.Context, ev *payment.Event) error {
	session, err := ev.SessionObject()
	if err != nil {
		return domain.ErrValidation("malformed checkout session")
	}
	if !session.PaymentComplete() {
		// Delayed payment methods finish later and arrive as subscription updates.
		log.Info().Str("session_id", session.ID).Str("payment_status", session.PaymentStatus).
			Msg("Checkout completed without payment, waiting for subscription update")
		return nil
	}
	userID := session.UserID()
	if userID == "" || session.SubscriptionID == "" {
		return domain.ErrValidation("checkout session missing member or subscription reference")
	}

	m, err := s.checkout.loadMember(ctx, userID)
	if err != nil {
		return err
	}
	return s.checkout.applyCheckout(ctx, m, session)
}

func (s *EventService) handleSubscriptionUpdated(ctx context.Context, ev *payment.Event) error {
	ref, err := ev.SubscriptionRef()
	if err != nil || ref.SubscriptionID == "" {
		return domain.ErrValidation("malformed subscription event")
	}
	res, err := s.reconcile.ReconcileBySubscription(ctx, ref.SubscriptionID)
	if err != nil {
		return err
	}
	if res == nil {
		log.Info().Str("subscription_id", ref.SubscriptionID).Msg("No member for subscription, acknowledging")
	}
	return nil
}

// handleSubscriptionEnded covers deletion and failed payment: the reference is
// cleared and access continues until the stored expiry.
func (s *EventService) handleSubscriptionEnded(ctx context.Context, ev *payment.Event) error {
	ref, err := ev.SubscriptionRef()
	if err != nil {
		return domain.ErrValidation("malformed subscription event")
	}
	if ref.SubscriptionID == "" {
		log.Debug().Str("event_id", ev.ID).Msg("Event carries no subscription, acknowledging")
		return nil
	}

	m, err := s.members.FindBySubscriptionID(ctx, ref.SubscriptionID)
	if err != nil {
		return domain.ErrPersistence("failed to load member", err)
	}
	if m == nil {
		log.Info().Str("subscription_id", ref.SubscriptionID).Msg("No member for subscription, acknowledging")
		return nil
	}

	now := s.now()
	target := endedState(m, now)
	if target.Equal(m.State()) {
		return nil
	}
	if err := s.members.UpdateState(ctx, m.ID, target); err != nil {
		return domain.ErrPersistence("failed to update membership", err)
	}

	log.Info().
		Str("user_id", m.ID).
		Str("subscription_id", ref.SubscriptionID).
		Str("status", string(target.Status)).
		Msg("Subscription ended")

	data := map[string]string{"subscription_id": ref.SubscriptionID, "reason": ev.Type}
	s.events.Publish(domain.NewEvent(domain.EventSubscriptionEnded, m.ID, now, data))
	publishTransition(s.events, m.ID, m.Status, target.Status, now, data)
	return nil
}
