package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// subscriberBuffer is the per-subscription queue between Redis and the
// consumer.
const subscriberBuffer = 128

// SignalBus announces recomputed series over Redis Pub/Sub so every server
// replica can push them to its own WebSocket clients.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload on channel. Having no subscribers is not an error.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return fmt.Errorf("redis: publish: empty channel")
	}
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on every matching channel when it holds
// glob characters such as domain.SeriesPattern. Payloads arrive on the
// returned channel until ctx ends, after which it is closed.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ps := sb.open(ctx, channel)
	// Wait for the server's confirmation so nothing published after we
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go forward(ctx, ps, out)
	return out, nil
}

func (sb *SignalBus) open(ctx context.Context, channel string) *redis.PubSub {
	if hasPattern(channel) {
		return sb.rdb.PSubscribe(ctx, channel)
	}
	return sb.rdb.Subscribe(ctx, channel)
}

func forward(ctx context.Context, ps *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer ps.Close()

	in := ps.Channel(redis.WithChannelSize(subscriberBuffer))
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
