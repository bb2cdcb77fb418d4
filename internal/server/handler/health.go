package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each dependency check.
const probeTimeout = 2 * time.Second

// Probe checks one backing dependency.
type Probe func(ctx context.Context) error

// HealthHandler reports liveness plus the state of the registered backends.
type HealthHandler struct {
	mode    string
	started time.Time
	probes  map[string]Probe
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting the given run mode.
func NewHealthHandler(mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		started: time.Now(),
		probes:  make(map[string]Probe),
		logger:  logger,
	}
}

// WithProbe registers a named dependency check. Register probes before
// serving.
func (h *HealthHandler) WithProbe(name string, p Probe) *HealthHandler {
	if p != nil {
		h.probes[name] = p
	}
	return h
}

// HealthCheck runs every probe concurrently. Any failure turns the answer
// into 503 "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := h.runProbes(r.Context())

	status, code := "ok", http.StatusOK
	for _, state := range checks {
		if state != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"mode":      h.mode,
		"checks":    checks,
		"uptime":    time.Since(h.started).Truncate(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) runProbes(ctx context.Context) map[string]string {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	checks := make(map[string]string, len(names))
	var g errgroup.Group
	for _, name := range names {
		probe := h.probes[name]
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			state := "ok"
			if err := probe(pctx); err != nil {
				h.logger.Warn("health probe failed", slog.String("probe", name), slog.String("error", err.Error()))
				state = err.Error()
			}
			mu.Lock()
			checks[name] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return checks
}
