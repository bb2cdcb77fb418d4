package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePriceCache struct {
	mu      sync.Mutex
	data    map[string]*big.Int
	getErr  error
	setCall int
}

func priceCacheKey(chainID int64, t common.Address, ts time.Time) string {
	return flightKey(chainID, []common.Address{t}, ts)
}

func (f *fakePriceCache) GetPrices(_ context.Context, chainID int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := map[common.Address]*big.Int{}
	for _, t := range tokens {
		if p, ok := f.data[priceCacheKey(chainID, t, ts)]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (f *fakePriceCache) SetPrices(_ context.Context, chainID int64, prices map[common.Address]*big.Int, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCall++
	if f.data == nil {
		f.data = map[string]*big.Int{}
	}
	for t, p := range prices {
		f.data[priceCacheKey(chainID, t, ts)] = p
	}
	return nil
}

type fakeUpstream struct {
	mu     sync.Mutex
	prices map[common.Address]*big.Int
	err    error
	asked  [][]common.Address

	// When set, each call signals started and then blocks until release is
	// closed or its ctx ends.
	started chan struct{}
	release chan struct{}
}

func (f *fakeUpstream) HistoricPrices(ctx context.Context, _ int64, tokens []common.Address, _ time.Time) (map[common.Address]*big.Int, error) {
	if f.release != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, tokens)
	if f.err != nil {
		return nil, f.err
	}
	out := map[common.Address]*big.Int{}
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	byKey   map[domain.PositionKey]domain.Position
	getErr  error
	saveErr error
	saves   int
	owners  []domain.PositionKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: map[domain.PositionKey]domain.Position{}}
}

func (f *fakeStore) Save(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.byKey[pos.Key] = pos
	return nil
}

func (f *fakeStore) Get(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Position{}, f.getErr
	}
	p, ok := f.byKey[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListByOwner(context.Context, int64, string) ([]domain.PositionKey, error) {
	return f.owners, nil
}

func (f *fakeStore) ListStale(context.Context, time.Time, int) ([]domain.PositionKey, error) {
	return nil, nil
}

type fakeSource struct {
	mu      sync.Mutex
	pos     domain.Position
	err     error
	fetches int
	owners  []domain.PositionKey
	ownErr  error
}

func (f *fakeSource) FetchPosition(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return domain.Position{}, f.err
	}
	p := f.pos
	p.Key = key
	return p, nil
}

func (f *fakeSource) FetchOwnerPositions(context.Context, int64, string) ([]domain.PositionKey, error) {
	return f.owners, f.ownErr
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.held == nil {
		f.held = map[string]bool{}
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
		f.released++
	}, nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{channel, payload})
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type fakeArchiver struct {
	archived []domain.Graphs
	err      error
}

func (f *fakeArchiver) Archive(_ context.Context, g domain.Graphs) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.archived = append(f.archived, g)
	return "snapshots/x.json", nil
}

func (f *fakeArchiver) List(context.Context, domain.PositionKey) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "snapshots/x.json"}}, nil
}

func (f *fakeArchiver) Open(context.Context, domain.PositionKey, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte(`{}`))), nil
}

type fakeProjector struct {
	series domain.ProfitLossSeries
	err    error
	calls  int
}

func (f *fakeProjector) ProfitLoss(context.Context, domain.Position) (domain.ProfitLossSeries, error) {
	f.calls++
	return f.series, f.err
}
