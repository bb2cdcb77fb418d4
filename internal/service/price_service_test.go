package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokA = common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	tokB = common.HexToAddress("0x4200000000000000000000000000000000000006")
	at   = time.Unix(1700000000, 0)
)

func TestPriceServiceServesCacheHits(t *testing.T) {
	cache := &fakePriceCache{}
	require.NoError(t, cache.SetPrices(context.Background(), 10, map[common.Address]*big.Int{tokA: big.NewInt(1), tokB: big.NewInt(2)}, at))
	up := &fakeUpstream{}

	got, err := NewPriceService(cache, up, discardLogger()).HistoricPrices(context.Background(), 10, []common.Address{tokA, tokB}, at)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, up.asked)
}

func TestPriceServiceFetchesMissesAndWritesBack(t *testing.T) {
	cache := &fakePriceCache{}
	require.NoError(t, cache.SetPrices(context.Background(), 10, map[common.Address]*big.Int{tokA: big.NewInt(1)}, at))
	up := &fakeUpstream{prices: map[common.Address]*big.Int{tokB: big.NewInt(2000)}}

	svc := NewPriceService(cache, up, discardLogger())
	got, err := svc.HistoricPrices(context.Background(), 10, []common.Address{tokA, tokB}, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got[tokB].Int64())
	require.Len(t, up.asked, 1)
	assert.Equal(t, []common.Address{tokB}, up.asked[0])

	// second call is served entirely from the cache
	_, err = svc.HistoricPrices(context.Background(), 10, []common.Address{tokA, tokB}, at)
	require.NoError(t, err)
	assert.Len(t, up.asked, 1)
}

func TestPriceServiceCacheErrorFallsThrough(t *testing.T) {
	cache := &fakePriceCache{getErr: errors.New("redis down")}
	up := &fakeUpstream{prices: map[common.Address]*big.Int{tokA: big.NewInt(5)}}

	got, err := NewPriceService(cache, up, discardLogger()).HistoricPrices(context.Background(), 10, []common.Address{tokA}, at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got[tokA].Int64())
}

func TestPriceServiceUpstreamError(t *testing.T) {
	boom := errors.New("api down")
	_, err := NewPriceService(nil, &fakeUpstream{err: boom}, discardLogger()).HistoricPrices(context.Background(), 10, []common.Address{tokA}, at)
	assert.ErrorIs(t, err, boom)
}

func TestPriceServiceMissingPriceStaysMissing(t *testing.T) {
	cache := &fakePriceCache{}
	got, err := NewPriceService(cache, &fakeUpstream{}, discardLogger()).HistoricPrices(context.Background(), 10, []common.Address{tokA}, at)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, cache.setCall)
}

func TestFlightKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t,
		flightKey(10, []common.Address{tokA, tokB}, at),
		flightKey(10, []common.Address{tokB, tokA}, at))
	assert.NotEqual(t,
		flightKey(10, []common.Address{tokA}, at),
		flightKey(137, []common.Address{tokA}, at))
}

func TestPriceServiceSharedLookupSurvivesCancelledCaller(t *testing.T) {
	up := &fakeUpstream{
		prices:  map[common.Address]*big.Int{tokA: big.NewInt(7)},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc := NewPriceService(nil, up, discardLogger())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.HistoricPrices(ctxA, 10, []common.Address{tokA}, at)
		errA <- err
	}()
	<-up.started

	type result struct {
		prices map[common.Address]*big.Int
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := svc.HistoricPrices(context.Background(), 10, []common.Address{tokA}, at)
		resB <- result{p, err}
	}()
	// give the second caller time to join the in-flight lookup
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(up.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, int64(7), b.prices[tokA].Int64())
	assert.Len(t, up.asked, 1)
}
