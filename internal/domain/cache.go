package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HistoricPriceCache stores USD prices (18-decimal fixed point) per token and
// timestamp. Historical prices never change, so entries are safe to keep.
type HistoricPriceCache interface {
	GetPrices(ctx context.Context, chainID int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error)
	SetPrices(ctx context.Context, chainID int64, prices map[common.Address]*big.Int, ts time.Time) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// SeriesPattern matches every channel produced by SeriesChannel.
const SeriesPattern = "series:*"

// SeriesChannel is the pub/sub channel recomputed graphs for key are
// announced on.
func SeriesChannel(key PositionKey) string {
	return "series:" + key.String()
}
