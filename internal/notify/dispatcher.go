// Package notify delivers domain events to side-effect consumers (email,
// roster sync) outside the request path.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueueSize = 256
	maxAttempts      = 3
	drainTimeout     = 5 * time.Second
)

// Sink receives events. Deliver may be retried, so sinks should tolerate
// duplicates.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev domain.Event) error
}

// Dispatcher queues events and fans them out to sinks on a background worker.
// A failing sink never affects other sinks or the publisher.
type Dispatcher struct {
	queue     chan domain.Event
	sinks     []Sink
	baseDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a queue of the given size.
func NewDispatcher(size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		queue:     make(chan domain.Event, size),
		sinks:     sinks,
		baseDelay: 200 * time.Millisecond,
	}
}

// Publish enqueues ev without blocking. When the queue is full the event is
// dropped and logged.
func (d *Dispatcher) Publish(ev domain.Event) {
	select {
	case d.queue <- ev:
	default:
		metrics.NotificationsTotal.WithLabelValues("queue", "dropped").Inc()
		log.Warn().
			Str("event_id", ev.ID).
			Str("event_type", string(ev.Type)).
			Str("user_id", ev.UserID).
			Msg("Notification queue full, dropping event")
	}
}

// Start runs the worker until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Stop halts the worker after delivering what is already queued.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case ev := <-d.queue:
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev domain.Event) {
	for _, sink := range d.sinks {
		d.deliver(ctx, sink, ev)
	}
}

// deliver tries one sink up to maxAttempts times with exponential delay.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, ev domain.Event) {
	logger := log.With().
		Str("sink", sink.Name()).
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Logger()

	delay := d.baseDelay
	for attempt := 1; ; attempt++ {
		err := safeDeliver(ctx, sink, ev)
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues(sink.Name(), "delivered").Inc()
			return
		}
		if attempt == maxAttempts {
			metrics.NotificationsTotal.WithLabelValues(sink.Name(), "failed").Inc()
			logger.Warn().Err(err).Int("attempts", attempt).Msg("Notification delivery failed")
			return
		}
		logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Retrying notification")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		delay *= 2
	}
}

func safeDeliver(ctx context.Context, sink Sink, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Deliver(ctx, ev)
}
