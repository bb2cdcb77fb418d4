package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// HistoricPriceCache implements domain.HistoricPriceCache with one string key
// per (chain, token, timestamp): "hprice:{chain}:{token}:{unix}". Values are
// base-10 18-decimal fixed-point integers.
type HistoricPriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewHistoricPriceCache creates a HistoricPriceCache backed by the given
// Client. A zero ttl keeps entries forever.
func NewHistoricPriceCache(c *Client, ttl time.Duration) *HistoricPriceCache {
	return &HistoricPriceCache{rdb: c.Underlying(), ttl: ttl}
}

func historicPriceKey(chainID int64, token common.Address, ts time.Time) string {
	return "hprice:" + strconv.FormatInt(chainID, 10) + ":" + strings.ToLower(token.Hex()) + ":" + strconv.FormatInt(ts.Unix(), 10)
}

// GetPrices fetches cached prices with a single pipeline round trip. Missing
// or unparseable entries are omitted from the result.
func (pc *HistoricPriceCache) GetPrices(ctx context.Context, chainID int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error) {
	result := make(map[common.Address]*big.Int, len(tokens))
	if len(tokens) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[common.Address]*redis.StringCmd, len(tokens))
	for _, t := range tokens {
		cmds[t] = pipe.Get(ctx, historicPriceKey(chainID, t, ts))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get historic prices pipeline: %w", err)
	}

	for token, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		v, ok := decodePrice(raw)
		if !ok {
			continue
		}
		result[token] = v
	}
	return result, nil
}

// SetPrices stores prices in one pipeline.
func (pc *HistoricPriceCache) SetPrices(ctx context.Context, chainID int64, prices map[common.Address]*big.Int, ts time.Time) error {
	if len(prices) == 0 {
		return nil
	}
	pipe := pc.rdb.Pipeline()
	for token, price := range prices {
		if price == nil {
			continue
		}
		pipe.Set(ctx, historicPriceKey(chainID, token, ts), price.String(), pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set historic prices pipeline: %w", err)
	}
	return nil
}

func decodePrice(raw string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// Compile-time interface check.
var _ domain.HistoricPriceCache = (*HistoricPriceCache)(nil)
