package notify

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name     string
	failures int
	panics   bool

	mu       sync.Mutex
	attempts int
	got      []domain.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.panics {
		panic("boom")
	}
	if s.attempts <= s.failures {
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *recordingSink) snapshot() (int, []domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, append([]domain.Event(nil), s.got...)
}

func newTestDispatcher(size int, sinks ...Sink) *Dispatcher {
	d := NewDispatcher(size, sinks...)
	d.baseDelay = time.Millisecond
	return d
}

func testEvent(userID string) domain.Event {
	return domain.NewEvent(domain.EventMemberApproved, userID, time.Now(), map[string]string{"reason": "test"})
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := newTestDispatcher(8, a, b)
	d.Start(context.Background())

	d.Publish(testEvent("u1"))
	d.Publish(testEvent("u2"))
	d.Stop()

	_, gotA := a.snapshot()
	_, gotB := b.snapshot()
	require.Len(t, gotA, 2)
	require.Len(t, gotB, 2)
	assert.Equal(t, "u1", gotA[0].UserID)
	assert.Equal(t, "u2", gotB[1].UserID)
}

func TestDispatcherRetriesTransientSinkFailures(t *testing.T) {
	flaky := &recordingSink{name: "flaky", failures: 2}
	d := newTestDispatcher(8, flaky)
	d.Start(context.Background())

	d.Publish(testEvent("u1"))
	d.Stop()

	attempts, got := flaky.snapshot()
	assert.Equal(t, 3, attempts)
	assert.Len(t, got, 1)
}

func TestDispatcherIsolatesBrokenSinks(t *testing.T) {
	down := &recordingSink{name: "down", failures: 100}
	panicky := &recordingSink{name: "panicky", panics: true}
	ok := &recordingSink{name: "ok"}
	d := newTestDispatcher(8, down, panicky, ok)
	d.Start(context.Background())

	d.Publish(testEvent("u1"))
	d.Stop()

	attempts, _ := down.snapshot()
	assert.Equal(t, maxAttempts, attempts)
	attempts, _ = panicky.snapshot()
	assert.Equal(t, maxAttempts, attempts)
	_, got := ok.snapshot()
	assert.Len(t, got, 1)
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d := newTestDispatcher(1, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(testEvent("u"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	// Only the queued event survives; the rest were dropped.
	d.Start(context.Background())
	d.Stop()
	_, got := sink.snapshot()
	assert.Len(t, got, 1)
}

func TestDispatcherStopsWithContext(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d := newTestDispatcher(8, sink)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRedisStreamSink(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	stream := "memberhub:test:" + domain.NewID()

	sink, err := NewRedisStreamSink(ctx, url, stream)
	require.NoError(t, err)
	defer sink.Close()
	defer sink.client.Del(ctx, stream)

	ev := testEvent("u1")
	require.NoError(t, sink.Deliver(ctx, ev))

	entries, err := sink.client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].Values["event_id"])
	assert.Equal(t, string(domain.EventMemberApproved), entries[0].Values["type"])
}

func TestRedisStreamSinkRejectsBadURL(t *testing.T) {
	_, err := NewRedisStreamSink(context.Background(), "not-a-url", "s")
	assert.Error(t, err)
}
