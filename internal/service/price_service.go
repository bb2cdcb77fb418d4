package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/projection"
)

// PriceService answers historical price lookups from the Redis cache first
// and falls back to the upstream price API for misses. Upstream answers are
// written back so a position's history is only ever priced once.
type PriceService struct {
	cache         domain.HistoricPriceCache
	upstream      projection.HistoricPriceSource
	group         singleflight.Group
	flightTimeout time.Duration
	logger        *slog.Logger
}

// defaultFlightTimeout bounds a shared upstream lookup once it no longer
// follows any caller's cancellation.
const defaultFlightTimeout = 30 * time.Second

// NewPriceService creates a PriceService. cache may be nil.
func NewPriceService(
	cache domain.HistoricPriceCache,
	upstream projection.HistoricPriceSource,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		cache:         cache,
		upstream:      upstream,
		flightTimeout: defaultFlightTimeout,
		logger:        logger,
	}
}

// WithFlightTimeout overrides how long a shared upstream lookup may run.
func (s *PriceService) WithFlightTimeout(d time.Duration) *PriceService {
	if d > 0 {
		s.flightTimeout = d
	}
	return s
}

// HistoricPrices implements projection.HistoricPriceSource. Concurrent
// identical lookups share one upstream call.
func (s *PriceService) HistoricPrices(ctx context.Context, chainID int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}

	if s.cache != nil {
		cached, err := s.cache.GetPrices(ctx, chainID, tokens, ts)
		if err != nil {
			s.logger.WarnContext(ctx, "price_service: cache read failed",
				slog.Int64("chain_id", chainID),
				slog.String("error", err.Error()),
			)
		}
		for t, p := range cached {
			out[t] = p
		}
	}

	var misses []common.Address
	for _, t := range tokens {
		if _, ok := out[t]; !ok {
			misses = append(misses, t)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	// The flight ignores caller cancellation. Each caller waits on its own ctx.
	ch := s.group.DoChan(flightKey(chainID, misses, ts), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout)
		defer cancel()

		fetched, err := s.upstream.HistoricPrices(fctx, chainID, misses, ts)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && len(fetched) > 0 {
			if err := s.cache.SetPrices(fctx, chainID, fetched, ts); err != nil {
				s.logger.WarnContext(fctx, "price_service: cache write failed",
					slog.Int64("chain_id", chainID),
					slog.String("error", err.Error()),
				)
			}
		}
		return fetched, nil
	})

	var v any
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("price_service: historic prices at %d: %w", ts.Unix(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("price_service: historic prices at %d: %w", ts.Unix(), res.Err)
		}
		v = res.Val
	}

	for t, p := range v.(map[common.Address]*big.Int) {
		out[t] = new(big.Int).Set(p)
	}
	return out, nil
}

func flightKey(chainID int64, tokens []common.Address, ts time.Time) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = strings.ToLower(t.Hex())
	}
	sort.Strings(parts)
	return fmt.Sprintf("%d:%d:%s", chainID, ts.Unix(), strings.Join(parts, ","))
}

// Compile-time interface check.
var _ projection.HistoricPriceSource = (*PriceService)(nil)
