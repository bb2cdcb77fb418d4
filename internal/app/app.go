// Package app builds the dcagraph backends and runs the goroutines of the
// configured mode: the HTTP API, the background refresher, or both.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/alanyoungcy/dcagraph/internal/config"
)

type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

// modes maps config.Mode values to their runners.
var modes = map[string]modeFunc{
	"server": (*App).ServerMode,
	"sync":   (*App).SyncMode,
	"full":   (*App).FullMode,
}

// App owns the configuration and the teardown of everything Run wires.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App. Nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		cleanup: func() {},
	}
}

// Run wires the backends and blocks in the selected mode until ctx ends or
// a component fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	a.logger.InfoContext(ctx, "dcagraph started",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Any("probes", probeNames(deps)),
	)
	return run(a, ctx, deps)
}

// Close releases the wired backends. Only the first call does anything.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("dcagraph stopping")
		a.cleanup()
	})
}

func probeNames(deps *Dependencies) []string {
	names := make([]string, 0, len(deps.Probes))
	for name := range deps.Probes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
