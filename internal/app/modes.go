package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/pipeline"
	"github.com/alanyoungcy/dcagraph/internal/server"
	"github.com/alanyoungcy/dcagraph/internal/server/handler"
	"github.com/alanyoungcy/dcagraph/internal/server/ws"
)

// ServerMode serves the HTTP API and WebSocket stream only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return wait(g)
}

// SyncMode runs the background refresher only.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSyncer(ctx, g, deps); err != nil {
		return err
	}
	return wait(g)
}

// FullMode runs the API and the refresher side by side. Either half can be
// switched off with server.enabled / sync.enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Bool("sync", a.cfg.Sync.Enabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Sync.Enabled {
		if err := a.startSyncer(ctx, g, deps); err != nil {
			return err
		}
	}
	return wait(g)
}

// wait treats cancellation as a clean shutdown.
func wait(g *errgroup.Group) error {
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startSyncer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	tracked, err := parseTracked(a.cfg.Sync.Tracked)
	if err != nil {
		return fmt.Errorf("app: sync: %w", err)
	}

	syncer := pipeline.NewSyncer(deps.Positions, deps.StaleLister, pipeline.SyncerConfig{
		Interval:    a.cfg.Sync.Interval.Duration,
		Tracked:     tracked,
		Concurrency: a.cfg.Sync.Concurrency,
		StaleAfter:  a.cfg.Sync.StaleAfter.Duration,
		BatchSize:   a.cfg.Sync.BatchSize,
	}, a.logger.With(slog.String("component", "syncer")))

	g.Go(func() error {
		return syncer.Run(ctx)
	})
	return nil
}

func parseTracked(raw []string) ([]domain.PositionKey, error) {
	keys := make([]domain.PositionKey, 0, len(raw))
	for _, r := range raw {
		k, err := domain.ParsePositionKey(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := handler.NewHealthHandler(a.cfg.Mode, a.logger.With(slog.String("component", "health")))
	for name, probe := range deps.Probes {
		health.WithProbe(name, probe)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:    health,
		Positions: handler.NewPositionHandler(deps.Positions, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}
