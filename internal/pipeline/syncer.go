package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// Refresher recomputes and publishes the graphs of one position.
type Refresher interface {
	Refresh(ctx context.Context, key domain.PositionKey) (domain.Graphs, error)
}

// StaleLister reports positions whose stored copy is older than a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.PositionKey, error)
}

// SyncerConfig controls the refresh loop.
type SyncerConfig struct {
	Interval    time.Duration
	Tracked     []domain.PositionKey
	Concurrency int
	StaleAfter  time.Duration
	BatchSize   int
}

// Syncer keeps stored positions and their graphs fresh. On every tick it
// refreshes the tracked positions plus a batch of stale ones.
type Syncer struct {
	refresher Refresher
	stale     StaleLister
	cfg       SyncerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewSyncer creates a Syncer. stale may be nil, in which case only the
// tracked positions are refreshed.
func NewSyncer(refresher Refresher, stale StaleLister, cfg SyncerConfig, logger *slog.Logger) *Syncer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Syncer{
		refresher: refresher,
		stale:     stale,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one pass immediately and then one per interval until ctx is
// cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("syncer starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("tracked", len(s.cfg.Tracked)),
		slog.Int("concurrency", s.cfg.Concurrency),
	)

	s.runLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Syncer) runLogged(ctx context.Context) {
	start := time.Now()
	ok, failed, err := s.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("sync pass failed", slog.String("error", err.Error()))
		return
	}
	if ok+failed > 0 {
		s.logger.Info("sync pass complete",
			slog.Int("refreshed", ok),
			slog.Int("failed", failed),
			slog.Duration("took", time.Since(start)),
		)
	}
}

// RunOnce refreshes every due position once. A single position failing does
// not stop the others; it is logged and counted in failed. err is only set
// when the set of due positions could not be determined.
func (s *Syncer) RunOnce(ctx context.Context) (refreshed, failed int, err error) {
	keys, err := s.due(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(keys) == 0 {
		return 0, 0, nil
	}

	results := make([]error, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			if _, err := s.refresher.Refresh(gctx, key); err != nil {
				results[i] = err
				s.logger.WarnContext(gctx, "sync: refresh failed",
					slog.String("position", key.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			failed++
		} else {
			refreshed++
		}
	}
	return refreshed, failed, ctx.Err()
}

// due merges the tracked keys with the store's stale keys, preserving order
// and dropping duplicates.
func (s *Syncer) due(ctx context.Context) ([]domain.PositionKey, error) {
	seen := make(map[domain.PositionKey]bool, len(s.cfg.Tracked))
	var keys []domain.PositionKey
	add := func(k domain.PositionKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range s.cfg.Tracked {
		add(k)
	}

	if s.stale != nil && s.cfg.StaleAfter > 0 {
		stale, err := s.stale.ListStale(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
		if err != nil {
			if len(keys) == 0 {
				return nil, fmt.Errorf("sync: list stale: %w", err)
			}
			s.logger.WarnContext(ctx, "sync: list stale failed, refreshing tracked only",
				slog.String("error", err.Error()),
			)
		}
		for _, k := range stale {
			add(k)
		}
	}
	return keys, nil
}
