package redis

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestHistoricPriceKey(t *testing.T) {
	token := common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	got := historicPriceKey(10, token, time.Unix(1700000000, 999))
	assert.Equal(t, "hprice:10:0x0b2c639c533813f4aa9d7837caf62653d097ff85:1700000000", got)
}

func TestDecodePrice(t *testing.T) {
	v, ok := decodePrice("2034170000000000000000")
	assert.True(t, ok)
	assert.Equal(t, "2034170000000000000000", v.String())

	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		_, ok := decodePrice(bad)
		assert.False(t, ok, bad)
	}
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("series:*"))
	assert.True(t, hasPattern("series:1?"))
	assert.False(t, hasPattern("series:10-0xabc-1"))
}

func TestKeyPrefixes(t *testing.T) {
	assert.Equal(t, "lock:series:1", lockKey("series:1"))
	assert.Equal(t, "ratelimit:10.0.0.1", rateLimitKey("10.0.0.1"))
}

func TestAllowRejectsEmptyBudgetWithoutRedis(t *testing.T) {
	rl := &RateLimiter{now: time.Now}
	for _, tc := range []struct {
		limit  int
		window time.Duration
	}{{0, time.Minute}, {-1, time.Minute}, {10, 0}} {
		ok, err := rl.Allow(context.Background(), "10.0.0.1", tc.limit, tc.window)
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestAcquireRejectsNonPositiveTTL(t *testing.T) {
	lm := &LockManager{}
	_, err := lm.Acquire(context.Background(), "series:1", 0)
	assert.Error(t, err)
}

func TestPublishRejectsEmptyChannel(t *testing.T) {
	sb := &SignalBus{}
	assert.Error(t, sb.Publish(context.Background(), "", []byte("{}")))
}
