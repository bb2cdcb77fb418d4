package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/server/handler"
)

type notFoundPositions struct{}

func (notFoundPositions) Position(context.Context, domain.PositionKey) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (notFoundPositions) Graphs(context.Context, domain.PositionKey) (domain.Graphs, error) {
	return domain.Graphs{}, domain.ErrNotFound
}
func (notFoundPositions) AveragePrice(context.Context, domain.PositionKey) (domain.AveragePriceSeries, domain.Token, error) {
	return domain.AveragePriceSeries{}, domain.Token{}, domain.ErrNotFound
}
func (notFoundPositions) Refresh(context.Context, domain.PositionKey) (domain.Graphs, error) {
	return domain.Graphs{}, domain.ErrNotFound
}
func (notFoundPositions) OwnerPositions(context.Context, int64, string) ([]domain.PositionKey, error) {
	return nil, nil
}
func (notFoundPositions) Snapshots(context.Context, domain.PositionKey) ([]domain.BlobInfo, error) {
	return nil, domain.ErrNotFound
}
func (notFoundPositions) Snapshot(context.Context, domain.PositionKey, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func newTestServer(apiKey string) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:    handler.NewHealthHandler("server", logger),
		Positions: handler.NewPositionHandler(notFoundPositions{}, logger),
	}, nil, nil, logger)
}

func TestRoutesAndMiddleware(t *testing.T) {
	h := newTestServer("").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions/10-0xa5adc5484f9997fbf7d405b9aa62a7d88883c345-1/profit-loss", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthGuardsAPI(t *testing.T) {
	h := newTestServer("secret").Handler()

	const target = "/api/positions/10-0xa5adc5484f9997fbf7d405b9aa62a7d88883c345-1"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
