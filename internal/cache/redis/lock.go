package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

//go:embed scripts/release_lock.lua
var releaseLockLua string

// releaseTimeout bounds the unlock round trip. It runs on a fresh context
// because the computation that held the lock may have been cancelled.
const releaseTimeout = 5 * time.Second

// LockManager hands out per-position computation locks. Each lock is a
// string key holding a random token; it expires on its own after the TTL if
// the holder dies.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLockLua),
	}
}

func lockKey(name string) string {
	return "lock:" + name
}

// Acquire takes the lock called name for at most ttl. It returns
// domain.ErrLockHeld when someone else has it. The returned unlock is
// idempotent and only removes the lock if it still belongs to this caller.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: acquire lock %s: ttl must be positive", name)
	}

	key, token := lockKey(name), uuid.NewString()
	err := lm.rdb.SetArgs(ctx, key, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, domain.ErrLockHeld
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(ctx, lm.rdb, []string{key}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
