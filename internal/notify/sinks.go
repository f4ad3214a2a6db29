package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memberhub/backend/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// LogSink writes every event to the application log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, ev domain.Event) error {
	e := log.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("user_id", ev.UserID).
		Time("occurred_at", ev.OccurredAt)
	for k, v := range ev.Data {
		e = e.Str(k, v)
	}
	e.Msg("Domain event")
	return nil
}

// streamMaxLen caps the stream; consumers are expected to keep up.
const streamMaxLen = 100000

// RedisStreamSink appends events to a Redis stream read by the email and
// roster-sync workers.
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

// NewRedisStreamSink connects to redisURL and verifies the connection.
func NewRedisStreamSink(ctx context.Context, redisURL, stream string) (*RedisStreamSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStreamSink{client: client, stream: stream}, nil
}

func (s *RedisStreamSink) Name() string { return "redis" }

// Deliver adds ev as one stream entry. The full event is carried as JSON in
// the payload field.
func (s *RedisStreamSink) Deliver(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": ev.ID,
			"type":     string(ev.Type),
			"user_id":  ev.UserID,
			"payload":  string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
