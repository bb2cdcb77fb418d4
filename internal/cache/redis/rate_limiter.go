package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter counts API requests per client in a sorted-set sliding window.
// The trim, count and insert run as one script so concurrent replicas agree.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

func rateLimitKey(client string) string {
	return "ratelimit:" + client
}

// Allow records one request for client and reports whether it fits in the
// last window. A non-positive limit or window rejects everything.
func (rl *RateLimiter) Allow(ctx context.Context, client string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, nil
	}
	// The script expires keys in whole milliseconds.
	window = max(window, time.Millisecond)

	res, err := rl.script.Run(ctx, rl.rdb, []string{rateLimitKey(client)},
		rl.now().UnixMicro(), window.Microseconds(), limit).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", client, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: script returned %d values", client, len(res))
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
