package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/projection"
	"github.com/alanyoungcy/dcagraph/internal/view"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Position(ctx context.Context, key domain.PositionKey) (domain.Position, error)
	Graphs(ctx context.Context, key domain.PositionKey) (domain.Graphs, error)
	AveragePrice(ctx context.Context, key domain.PositionKey) (domain.AveragePriceSeries, domain.Token, error)
	Refresh(ctx context.Context, key domain.PositionKey) (domain.Graphs, error)
	OwnerPositions(ctx context.Context, chainID int64, owner string) ([]domain.PositionKey, error)
	Snapshots(ctx context.Context, key domain.PositionKey) ([]domain.BlobInfo, error)
	Snapshot(ctx context.Context, key domain.PositionKey, name string) (io.ReadCloser, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

func (h *PositionHandler) key(w http.ResponseWriter, r *http.Request) (domain.PositionKey, bool) {
	key, err := domain.ParsePositionKey(pathParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position key")
		return domain.PositionKey{}, false
	}
	return key, true
}

// GetPosition returns a position with its event history and summary.
// GET /api/positions/{key}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	pos, err := h.positions.Position(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, view.NewPosition(pos, projection.Summarize(pos)))
}

// GetProfitLoss returns the DCA vs lump-sum series. While another request is
// computing the same position the response is 202 with status loading.
// GET /api/positions/{key}/profit-loss
func (h *PositionHandler) GetProfitLoss(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	g, err := h.positions.Graphs(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute profit/loss")
		return
	}
	writeJSON(w, statusFor(g.ProfitLoss.Status), view.NewProfitLoss(g.ProfitLoss, g.To))
}

// GetAveragePrice returns the running average swap price.
// GET /api/positions/{key}/average-price
func (h *PositionHandler) GetAveragePrice(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	series, to, err := h.positions.AveragePrice(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute average price")
		return
	}
	writeJSON(w, statusFor(series.Status), view.NewAveragePrice(series, to))
}

// Refresh forces a pull from the indexer and recomputes every graph.
// POST /api/positions/{key}/refresh
func (h *PositionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	g, err := h.positions.Refresh(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to refresh position")
		return
	}
	writeJSON(w, statusFor(g.ProfitLoss.Status), view.NewGraphs(g))
}

type snapshotInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type listSnapshotsResponse struct {
	Snapshots []snapshotInfo `json:"snapshots"`
}

// ListSnapshots lists the archived graph snapshots of a position.
// GET /api/positions/{key}/snapshots
func (h *PositionHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	infos, err := h.positions.Snapshots(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list snapshots")
		return
	}
	resp := listSnapshotsResponse{Snapshots: make([]snapshotInfo, 0, len(infos))}
	for _, info := range infos {
		resp.Snapshots = append(resp.Snapshots, snapshotInfo{
			Name:         path.Base(info.Path),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSnapshot streams one archived snapshot.
// GET /api/positions/{key}/snapshots/{name}
func (h *PositionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	rc, err := h.positions.Snapshot(r.Context(), key, pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to open snapshot")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: snapshot copy interrupted",
			slog.String("position", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

type ownerPositionsResponse struct {
	ChainID   int64    `json:"chainId"`
	Owner     string   `json:"owner"`
	Positions []string `json:"positions"`
}

// ListOwnerPositions returns the keys of every position held by an owner.
// GET /api/owners/{chainId}/{address}/positions
func (h *PositionHandler) ListOwnerPositions(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(pathParam(r, "chainId"), 10, 64)
	if err != nil || chainID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid chain id")
		return
	}
	owner := pathParam(r, "address")
	if !common.IsHexAddress(owner) {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	keys, err := h.positions.OwnerPositions(r.Context(), chainID, owner)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list owner positions")
		return
	}
	resp := ownerPositionsResponse{
		ChainID:   chainID,
		Owner:     common.HexToAddress(owner).Hex(),
		Positions: make([]string, 0, len(keys)),
	}
	for _, k := range keys {
		resp.Positions = append(resp.Positions, k.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(s domain.SeriesStatus) int {
	if s == domain.SeriesLoading {
		return http.StatusAccepted
	}
	return http.StatusOK
}
