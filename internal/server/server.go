package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/server/handler"
	"github.com/alanyoungcy/dcagraph/internal/server/middleware"
	"github.com/alanyoungcy/dcagraph/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
}

// Server is the HTTP + WebSocket API serving position graphs.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	routes(mux, handlers, wsHub)

	h := middleware.Chain(mux,
		middleware.CORS(cfg.CORSOrigins),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow),
		middleware.Auth(cfg.APIKey, "/api/health"),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

func routes(mux *http.ServeMux, handlers Handlers, wsHub *ws.Hub) {
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	p := handlers.Positions
	mux.HandleFunc("GET /api/positions/{key}", p.GetPosition)
	mux.HandleFunc("GET /api/positions/{key}/profit-loss", p.GetProfitLoss)
	mux.HandleFunc("GET /api/positions/{key}/average-price", p.GetAveragePrice)
	mux.HandleFunc("POST /api/positions/{key}/refresh", p.Refresh)
	mux.HandleFunc("GET /api/positions/{key}/snapshots", p.ListSnapshots)
	mux.HandleFunc("GET /api/positions/{key}/snapshots/{name}", p.GetSnapshot)
	mux.HandleFunc("GET /api/owners/{chainId}/{address}/positions", p.ListOwnerPositions)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
