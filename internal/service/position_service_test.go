package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

var posKey = domain.PositionKey{ChainID: 10, Hub: common.HexToAddress("0xA5AdC5484f9997fBF7D405b9AA62A7d88883C345"), PositionID: 9}

type harness struct {
	store    *fakeStore
	source   *fakeSource
	proj     *fakeProjector
	locks    *fakeLocks
	bus      *fakeBus
	archiver *fakeArchiver
	svc      *PositionService
}

func newHarness(withArchive bool) *harness {
	h := &harness{
		store:  newFakeStore(),
		source: &fakeSource{pos: domain.Position{Status: domain.PositionStatusActive}},
		proj:   &fakeProjector{series: domain.ProfitLossSeries{Status: domain.SeriesPopulated}},
		locks:  &fakeLocks{},
		bus:    &fakeBus{},
	}
	var archiver domain.SnapshotArchiver
	if withArchive {
		h.archiver = &fakeArchiver{}
		archiver = h.archiver
	}
	h.svc = NewPositionService(h.store, h.source, h.proj, h.locks, time.Minute, h.bus, archiver, discardLogger())
	h.svc.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return h
}

func TestPositionPullsOnStoreMiss(t *testing.T) {
	h := newHarness(false)

	pos, err := h.svc.Position(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, posKey, pos.Key)
	assert.Equal(t, 1, h.source.fetches)
	assert.Equal(t, 1, h.store.saves)

	_, err = h.svc.Position(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, 1, h.source.fetches, "second read comes from the store")
}

func TestPositionStoreErrorIsReturned(t *testing.T) {
	h := newHarness(false)
	h.store.getErr = errors.New("db down")

	_, err := h.svc.Position(context.Background(), posKey)
	require.Error(t, err)
	assert.Zero(t, h.source.fetches)
}

func TestPositionSaveFailureStillReturnsPosition(t *testing.T) {
	h := newHarness(false)
	h.store.saveErr = errors.New("disk full")

	pos, err := h.svc.Position(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, posKey, pos.Key)
}

func TestPositionNotFound(t *testing.T) {
	h := newHarness(false)
	h.source.err = domain.ErrNotFound

	_, err := h.svc.Position(context.Background(), posKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGraphsComputesUnderLock(t *testing.T) {
	h := newHarness(false)

	g, err := h.svc.Graphs(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesPopulated, g.ProfitLoss.Status)
	assert.Equal(t, domain.SeriesNoData, g.AveragePrice.Status)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), g.ComputedAt)
	assert.Equal(t, 1, h.locks.released)
	assert.Empty(t, h.locks.held)
}

func TestGraphsReportsLoadingWhenLocked(t *testing.T) {
	h := newHarness(false)
	h.locks.held = map[string]bool{seriesLockKey(posKey): true}

	g, err := h.svc.Graphs(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesLoading, g.ProfitLoss.Status)
	assert.Equal(t, domain.SeriesLoading, g.AveragePrice.Status)
	assert.Zero(t, h.proj.calls)
}

func TestGraphsServesLastResultWhileLocked(t *testing.T) {
	h := newHarness(false)

	first, err := h.svc.Graphs(context.Background(), posKey)
	require.NoError(t, err)

	h.locks.held = map[string]bool{seriesLockKey(posKey): true}
	g, err := h.svc.Graphs(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesPopulated, g.ProfitLoss.Status)
	assert.Equal(t, first.ComputedAt, g.ComputedAt)
	assert.Equal(t, 1, h.proj.calls)
}

func TestAveragePriceSkipsProjectionAndLock(t *testing.T) {
	h := newHarness(false)

	series, _, err := h.svc.AveragePrice(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesNoData, series.Status)
	assert.Zero(t, h.proj.calls)
	assert.Zero(t, h.locks.released)
}

func TestGraphsProceedsWhenLockBackendFails(t *testing.T) {
	h := newHarness(false)
	h.locks.err = errors.New("redis down")

	g, err := h.svc.Graphs(context.Background(), posKey)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesPopulated, g.ProfitLoss.Status)
}

func TestGraphsProjectorError(t *testing.T) {
	h := newHarness(false)
	h.proj.err = errors.New("prices down")

	_, err := h.svc.Graphs(context.Background(), posKey)
	require.Error(t, err)
	assert.Equal(t, 1, h.locks.released)
}

func TestRefreshPublishesAndArchives(t *testing.T) {
	h := newHarness(true)
	require.NoError(t, h.store.Save(context.Background(), domain.Position{Key: posKey}))

	_, err := h.svc.Refresh(context.Background(), posKey)
	require.NoError(t, err)

	assert.Equal(t, 1, h.source.fetches, "refresh always pulls")
	require.Len(t, h.bus.msgs, 1)
	assert.Equal(t, domain.SeriesChannel(posKey), h.bus.msgs[0].channel)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(h.bus.msgs[0].payload, &msg))
	assert.Equal(t, "series_updated", msg["event"])
	assert.Equal(t, posKey.String(), msg["graphs"].(map[string]any)["key"])

	require.Len(t, h.archiver.archived, 1)
}

func TestRefreshArchiveFailureIsNotFatal(t *testing.T) {
	h := newHarness(true)
	h.archiver.err = errors.New("s3 down")

	_, err := h.svc.Refresh(context.Background(), posKey)
	require.NoError(t, err)
	assert.Len(t, h.bus.msgs, 1)
}

func TestOwnerPositionsFallsBackToStore(t *testing.T) {
	h := newHarness(false)
	h.source.ownErr = errors.New("indexer down")
	h.store.owners = []domain.PositionKey{posKey}

	keys, err := h.svc.OwnerPositions(context.Background(), 10, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []domain.PositionKey{posKey}, keys)

	h.source.ownErr = domain.ErrChainNotSupported
	_, err = h.svc.OwnerPositions(context.Background(), 99, "0xabc")
	assert.ErrorIs(t, err, domain.ErrChainNotSupported)
}

func TestSnapshotsDisabled(t *testing.T) {
	h := newHarness(false)
	_, err := h.svc.Snapshots(context.Background(), posKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h = newHarness(true)
	infos, err := h.svc.Snapshots(context.Background(), posKey)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
