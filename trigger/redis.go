package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marchway/mailsync/id"
)

// defaultChannel is the Redis pub/sub channel notifications go out on.
const defaultChannel = "mailsync:triggers"

// Redis is a Trigger that publishes notifications over Redis pub/sub
// so workers in other processes wake up immediately. Pub/sub delivery
// is fire-and-forget, which matches the best-effort contract.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// RedisOption configures the Redis trigger.
type RedisOption func(*Redis)

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) RedisOption {
	return func(r *Redis) { r.channel = name }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// NewRedis creates a Redis-backed trigger. The caller owns the client
// lifecycle.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		channel: defaultChannel,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Notify implements Trigger.
func (r *Redis) Notify(ctx context.Context, jobID id.JobID, reason string) error {
	payload, err := json.Marshal(Notification{
		JobID:  jobID,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("trigger/redis: marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("trigger/redis: publish: %w", err)
	}
	return nil
}

// Listen subscribes to the trigger channel and invokes handler for
// each notification until ctx is cancelled. Malformed messages are
// logged and skipped.
func (r *Redis) Listen(ctx context.Context, handler func(Notification)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.logger.Warn("discarding malformed trigger notification",
					slog.String("channel", r.channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			handler(n)
		}
	}
}
