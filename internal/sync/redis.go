package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const channelPrefix = "jobchat:user:"

// subscribeTimeout bounds the wait for Redis to confirm a subscription.
const subscribeTimeout = 3 * time.Second

// RedisBus fans events out across processes over Redis pub/sub, one
// channel per user.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to the Redis server at url and pings it.
func NewRedisBus(ctx context.Context, url string, logger *slog.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisBusWithClient(c, logger), nil
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(c *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: c, logger: logger}
}

// Channel returns the Redis channel carrying userID's events.
func Channel(userID string) string {
	return channelPrefix + userID
}

// Publish sends e as JSON on the recipient's channel.
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(e.UserID), data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", e.Kind, err)
	}
	return nil
}

// Subscribe opens a Redis subscription for userID and decodes its messages.
// It returns once Redis has confirmed the subscription, so events published
// afterwards are delivered.
func (b *RedisBus) Subscribe(userID string) (<-chan Event, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := b.client.Subscribe(ctx, Channel(userID))
	if _, err := ps.ReceiveTimeout(ctx, subscribeTimeout); err != nil {
		// Polling still covers the view; the channel reconnects on its own.
		b.logger.Warn("redis subscription not confirmed", "user_id", userID, "error", err)
	}
	out := make(chan Event, subscriberBuffer)

	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				e, err := DecodeEvent([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("discarding malformed event",
						"channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				default:
					b.logger.Warn("dropping event for slow subscriber",
						"user_id", userID, "kind", e.Kind)
				}
			}
		}
	}()

	return out, cancel
}

// Close closes the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// DecodeEvent parses a JSON-encoded Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if e.Kind == "" || e.UserID == "" {
		return Event{}, fmt.Errorf("decoding event: missing kind or user")
	}
	return e, nil
}
