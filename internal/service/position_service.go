package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/projection"
	"github.com/alanyoungcy/dcagraph/internal/view"
)

// PositionSource reads positions from the chain indexer.
type PositionSource interface {
	FetchPosition(ctx context.Context, key domain.PositionKey) (domain.Position, error)
	FetchOwnerPositions(ctx context.Context, chainID int64, owner string) ([]domain.PositionKey, error)
}

// ProfitLossProjector computes the DCA vs lump-sum series.
type ProfitLossProjector interface {
	ProfitLoss(ctx context.Context, pos domain.Position) (domain.ProfitLossSeries, error)
}

// PositionService loads positions, computes their graphs and keeps the
// persistent copy in sync with the indexer.
type PositionService struct {
	store     domain.PositionStore
	source    PositionSource
	projector ProfitLossProjector
	locks     domain.LockManager
	lockTTL   time.Duration
	bus       domain.SignalBus
	archiver  domain.SnapshotArchiver
	logger    *slog.Logger
	now       func() time.Time

	// recent holds the last graphs computed here per position.
	recent sync.Map // domain.PositionKey -> domain.Graphs
}

// NewPositionService creates a PositionService with all required
// dependencies. archiver may be nil when snapshots are disabled.
func NewPositionService(
	store domain.PositionStore,
	source PositionSource,
	projector ProfitLossProjector,
	locks domain.LockManager,
	lockTTL time.Duration,
	bus domain.SignalBus,
	archiver domain.SnapshotArchiver,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		store:     store,
		source:    source,
		projector: projector,
		locks:     locks,
		lockTTL:   lockTTL,
		bus:       bus,
		archiver:  archiver,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Position returns the stored position, pulling it from the indexer on a
// store miss.
func (s *PositionService) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	pos, err := s.store.Get(ctx, key)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", key, err)
	}
	return s.pull(ctx, key)
}

// pull fetches key from the indexer and persists it. A failed save is
// logged; the fetched position is still returned.
func (s *PositionService) pull(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	pos, err := s.source.FetchPosition(ctx, key)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: fetch %s: %w", key, err)
	}
	if err := s.store.Save(ctx, pos); err != nil {
		s.logger.WarnContext(ctx, "position_service: save failed",
			slog.String("position", key.String()),
			slog.String("error", err.Error()),
		)
	}
	return pos, nil
}

// Graphs computes the profit/loss, average price and summary of key. When
// another caller is already computing the same position, the last graphs
// computed by this service are returned; without one both series come back
// with status loading and no error.
func (s *PositionService) Graphs(ctx context.Context, key domain.PositionKey) (domain.Graphs, error) {
	unlock, held := s.lock(ctx, key)
	if held {
		if g, ok := s.recent.Load(key); ok {
			return g.(domain.Graphs), nil
		}
		return loadingGraphs(key), nil
	}
	defer unlock()

	pos, err := s.Position(ctx, key)
	if err != nil {
		return domain.Graphs{}, err
	}
	return s.compute(ctx, pos)
}

// AveragePrice returns the running average swap price of key together with
// the token it is quoted in. It needs no price lookups, so it neither takes
// the series lock nor runs the profit/loss projection.
func (s *PositionService) AveragePrice(ctx context.Context, key domain.PositionKey) (domain.AveragePriceSeries, domain.Token, error) {
	pos, err := s.Position(ctx, key)
	if err != nil {
		return domain.AveragePriceSeries{}, domain.Token{}, err
	}
	return projection.AveragePrice(pos), pos.To, nil
}

// Refresh pulls key from the indexer, recomputes its graphs, announces them
// on the series channel and archives a snapshot when an archiver is set.
func (s *PositionService) Refresh(ctx context.Context, key domain.PositionKey) (domain.Graphs, error) {
	unlock, held := s.lock(ctx, key)
	if held {
		return loadingGraphs(key), nil
	}
	defer unlock()

	pos, err := s.pull(ctx, key)
	if err != nil {
		return domain.Graphs{}, err
	}
	g, err := s.compute(ctx, pos)
	if err != nil {
		return domain.Graphs{}, err
	}

	s.publish(ctx, g)

	if s.archiver != nil {
		path, err := s.archiver.Archive(ctx, g)
		if err != nil {
			s.logger.WarnContext(ctx, "position_service: archive failed",
				slog.String("position", key.String()),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.DebugContext(ctx, "position_service: archived snapshot",
				slog.String("position", key.String()),
				slog.String("path", path),
			)
		}
	}
	return g, nil
}

// OwnerPositions lists the positions of owner on a chain. The indexer is
// authoritative; the store answers when the indexer is unreachable.
func (s *PositionService) OwnerPositions(ctx context.Context, chainID int64, owner string) ([]domain.PositionKey, error) {
	keys, err := s.source.FetchOwnerPositions(ctx, chainID, owner)
	if err == nil {
		return keys, nil
	}
	if errors.Is(err, domain.ErrChainNotSupported) {
		return nil, fmt.Errorf("position_service: owner positions: %w", err)
	}

	s.logger.WarnContext(ctx, "position_service: indexer unavailable, using store",
		slog.Int64("chain_id", chainID),
		slog.String("owner", owner),
		slog.String("error", err.Error()),
	)
	keys, storeErr := s.store.ListByOwner(ctx, chainID, owner)
	if storeErr != nil {
		return nil, fmt.Errorf("position_service: owner positions: %w", errors.Join(err, storeErr))
	}
	return keys, nil
}

// Snapshots lists the archived graph snapshots of key.
func (s *PositionService) Snapshots(ctx context.Context, key domain.PositionKey) ([]domain.BlobInfo, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("position_service: snapshots disabled: %w", domain.ErrNotFound)
	}
	return s.archiver.List(ctx, key)
}

// Snapshot opens one archived snapshot of key.
func (s *PositionService) Snapshot(ctx context.Context, key domain.PositionKey, name string) (io.ReadCloser, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("position_service: snapshots disabled: %w", domain.ErrNotFound)
	}
	return s.archiver.Open(ctx, key, name)
}

// lock takes the series lock for key. held reports that another caller owns
// it. Lock backend failures are logged and the computation proceeds
// unguarded.
func (s *PositionService) lock(ctx context.Context, key domain.PositionKey) (unlock func(), held bool) {
	if s.locks == nil {
		return func() {}, false
	}
	unlock, err := s.locks.Acquire(ctx, seriesLockKey(key), s.lockTTL)
	switch {
	case err == nil:
		return unlock, false
	case errors.Is(err, domain.ErrLockHeld):
		return nil, true
	default:
		s.logger.WarnContext(ctx, "position_service: series lock unavailable",
			slog.String("position", key.String()),
			slog.String("error", err.Error()),
		)
		return func() {}, false
	}
}

func (s *PositionService) compute(ctx context.Context, pos domain.Position) (domain.Graphs, error) {
	pl, err := s.projector.ProfitLoss(ctx, pos)
	if err != nil {
		return domain.Graphs{}, fmt.Errorf("position_service: graphs %s: %w", pos.Key, err)
	}
	if pl.SkippedEvents > 0 {
		s.logger.InfoContext(ctx, "position_service: events skipped for missing prices",
			slog.String("position", pos.Key.String()),
			slog.Int("skipped", pl.SkippedEvents),
		)
	}
	g := domain.Graphs{
		Key:          pos.Key,
		From:         pos.From,
		To:           pos.To,
		ProfitLoss:   pl,
		AveragePrice: projection.AveragePrice(pos),
		Summary:      projection.Summarize(pos),
		ComputedAt:   s.now(),
	}
	s.recent.Store(pos.Key, g)
	return g, nil
}

// seriesUpdate is the payload published on the series channel.
type seriesUpdate struct {
	Event  string      `json:"event"`
	Graphs view.Graphs `json:"graphs"`
}

func (s *PositionService) publish(ctx context.Context, g domain.Graphs) {
	if s.bus == nil {
		return
	}
	evt, err := json.Marshal(seriesUpdate{Event: "series_updated", Graphs: view.NewGraphs(g)})
	if err != nil {
		s.logger.ErrorContext(ctx, "position_service: marshal series update",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.SeriesChannel(g.Key), evt); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("position", g.Key.String()),
			slog.String("error", err.Error()),
		)
	}
}

func seriesLockKey(key domain.PositionKey) string {
	return "series:" + key.String()
}

func loadingGraphs(key domain.PositionKey) domain.Graphs {
	return domain.Graphs{
		Key:          key,
		ProfitLoss:   domain.ProfitLossSeries{Status: domain.SeriesLoading},
		AveragePrice: domain.AveragePriceSeries{Status: domain.SeriesLoading},
	}
}
