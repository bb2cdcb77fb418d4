package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/dcagraph/internal/blob/s3"
	"github.com/alanyoungcy/dcagraph/internal/cache/redis"
	"github.com/alanyoungcy/dcagraph/internal/config"
	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/platform/prices"
	"github.com/alanyoungcy/dcagraph/internal/platform/subgraph"
	"github.com/alanyoungcy/dcagraph/internal/projection"
	"github.com/alanyoungcy/dcagraph/internal/service"
	"github.com/alanyoungcy/dcagraph/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	PositionStore domain.PositionStore
	StaleLister   *postgres.PositionStore

	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless sync.archive is on.
	Archiver domain.SnapshotArchiver

	Subgraph  *subgraph.Client
	Prices    *service.PriceService
	Positions *service.PositionService

	// Probes are the backend checks served on /api/health, keyed by name.
	Probes map[string]func(context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]func(context.Context) error)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Probes["postgres"] = pgClient.Pool().Ping

	store := postgres.NewPositionStore(pgClient.Pool())
	deps.PositionStore = store
	deps.StaleLister = store

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Probes["redis"] = redisClient.Ping

	priceCache := redis.NewHistoricPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 snapshot archive (optional) ---
	if cfg.Sync.Archive {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Probes["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewSnapshotArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
	}

	// --- Upstream clients ---
	deps.Subgraph = subgraph.NewClient(subgraph.Config{
		URLs:       cfg.Subgraph.ChainURLs(),
		APIKey:     cfg.Subgraph.APIKey,
		PageSize:   cfg.Subgraph.PageSize,
		Timeout:    cfg.Subgraph.Timeout.Duration,
		MaxRetries: cfg.Subgraph.MaxRetries,
	}, logger)
	priceAPI := prices.NewClient(cfg.Prices.BaseURL, cfg.Prices.Timeout.Duration, cfg.Prices.MaxRetries, logger)

	// --- Services ---
	deps.Prices = service.NewPriceService(priceCache, priceAPI, logger.With(slog.String("component", "prices"))).
		WithFlightTimeout(cfg.Prices.Timeout.Duration * time.Duration(cfg.Prices.MaxRetries+1))
	projector := projection.NewProjector(deps.Prices, logger)
	deps.Positions = service.NewPositionService(
		deps.PositionStore,
		deps.Subgraph,
		projector,
		deps.LockManager,
		cfg.Redis.LockTTL.Duration,
		deps.SignalBus,
		deps.Archiver,
		logger.With(slog.String("component", "positions")),
	)

	return deps, cleanup, nil
}
