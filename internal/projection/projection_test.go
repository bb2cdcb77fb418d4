package projection

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

var (
	usdc = common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	weth = common.HexToAddress("0x4200000000000000000000000000000000000006")
	t0   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// fakePrices answers by unix timestamp and records the lookup order.
type fakePrices struct {
	byTS  map[int64]map[common.Address]*big.Int
	err   error
	calls []int64
}

func (f *fakePrices) HistoricPrices(_ context.Context, _ int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error) {
	f.calls = append(f.calls, ts.Unix())
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[common.Address]*big.Int)
	for _, tok := range tokens {
		if p, ok := f.byTS[ts.Unix()][tok]; ok {
			out[tok] = p
		}
	}
	return out, nil
}

func (f *fakePrices) set(ts time.Time, from, to *big.Int) {
	if f.byTS == nil {
		f.byTS = make(map[int64]map[common.Address]*big.Int)
	}
	f.byTS[ts.Unix()] = map[common.Address]*big.Int{usdc: from, weth: to}
}

func testPosition(events ...domain.PositionEvent) domain.Position {
	return domain.Position{
		Key:     domain.PositionKey{ChainID: 10, Hub: common.HexToAddress("0xA5AdC5484f9997fBF7D405b9AA62A7d88883C345"), PositionID: 1},
		From:    domain.Token{Address: usdc, Decimals: 6, Symbol: "USDC"},
		To:      domain.Token{Address: weth, Decimals: 6, Symbol: "TKN"},
		TokenA:  usdc,
		TokenB:  weth,
		History: events,
	}
}

func created(ts time.Time, rate, swaps int64) domain.PositionEvent {
	return domain.PositionEvent{Action: domain.ActionCreated, Timestamp: ts, Rate: bi(rate), RemainingSwaps: bi(swaps)}
}

func modified(ts time.Time, oldRate, oldSwaps, rate, swaps int64) domain.PositionEvent {
	return domain.PositionEvent{
		Action: domain.ActionModified, Timestamp: ts,
		OldRate: bi(oldRate), OldRemainingSwaps: bi(oldSwaps),
		Rate: bi(rate), RemainingSwaps: bi(swaps),
	}
}

func swapped(ts time.Time, rate, swappedAmt, remaining int64) domain.PositionEvent {
	return domain.PositionEvent{
		Action: domain.ActionSwapped, Timestamp: ts,
		Rate: bi(rate), Swapped: bi(swappedAmt), RemainingSwaps: bi(remaining),
	}
}

func TestProfitLossMatchingRatesGivesZeroPercentage(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1)) // 2 to per from

	pos := testPosition(
		created(t0, 100, 10),
		swapped(t0.Add(time.Hour), 100, 200, 9),
	)

	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)

	assert.Equal(t, domain.SeriesPopulated, series.Status)
	require.Len(t, series.Points, 2)

	base := series.Points[0]
	assert.Equal(t, t0, base.Date)
	assert.Equal(t, 0, base.SwappedIfDCA.Sign())
	assert.Equal(t, 0, base.SwappedIfLumpSum.Sign())
	assert.True(t, base.Percentage.IsZero())

	pt := series.Points[1]
	assert.Equal(t, int64(200), pt.SwappedIfLumpSum.Int64())
	assert.Equal(t, int64(200), pt.SwappedIfDCA.Int64())
	assert.True(t, pt.Percentage.IsZero(), pt.Percentage.String())
	assert.Equal(t, "Mar 1 13:00", pt.Name)
}

func TestProfitLossTwoTranches(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1))
	prices.set(t0.Add(time.Hour), usd(4), usd(1))

	pos := testPosition(
		created(t0, 100, 10),
		modified(t0.Add(time.Hour), 100, 10, 150, 10),
		swapped(t0.Add(2*time.Hour), 150, 440, 9),
	)

	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, series.Points, 2, "modify emits no point")

	pt := series.Points[1]
	// 500 @ 4e6 -> 200, 1000 @ 2e6 -> 200
	assert.Equal(t, int64(400), pt.SwappedIfLumpSum.Int64())
	assert.Equal(t, "10", pt.Percentage.String())
	assert.Equal(t, []int64{t0.Unix(), t0.Add(time.Hour).Unix()}, prices.calls)
}

func TestProfitLossDecreasingModifyReducesLedger(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1))

	pos := testPosition(
		created(t0, 100, 10),
		modified(t0.Add(time.Hour), 100, 10, 60, 10),
		swapped(t0.Add(2*time.Hour), 60, 108, 9),
	)

	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, series.Points, 2)
	// 60 * 600 * 2e6 / 600 / 1e6
	assert.Equal(t, int64(120), series.Points[1].SwappedIfLumpSum.Int64())
	assert.Equal(t, "-10", series.Points[1].Percentage.String())
	assert.Len(t, prices.calls, 1, "decrease needs no price lookup")
}

func TestProfitLossAccumulatesAcrossSwaps(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1))

	pos := testPosition(
		created(t0, 100, 10),
		swapped(t0.Add(1*time.Hour), 100, 190, 9),
		swapped(t0.Add(2*time.Hour), 100, 230, 8),
		domain.PositionEvent{Action: domain.ActionWithdrawn, Timestamp: t0.Add(150 * time.Minute), Withdrawn: bi(420)},
		swapped(t0.Add(3*time.Hour), 100, 200, 7),
	)

	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, series.Points, 4)

	assert.Equal(t, int64(620), series.Points[3].SwappedIfDCA.Int64())
	assert.Equal(t, int64(600), series.Points[3].SwappedIfLumpSum.Int64())
	for i := 1; i < len(series.Points); i++ {
		assert.False(t, series.Points[i].Date.Before(series.Points[i-1].Date))
		assert.True(t, series.Points[i].SwappedIfDCA.Cmp(series.Points[i-1].SwappedIfDCA) >= 0)
	}
}

func TestProfitLossSortsUnorderedHistory(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1))

	pos := testPosition(
		swapped(t0.Add(2*time.Hour), 100, 200, 8),
		created(t0, 100, 10),
		swapped(t0.Add(1*time.Hour), 100, 200, 9),
	)

	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	require.Len(t, series.Points, 3)
	assert.Equal(t, t0, series.Points[0].Date)
	assert.Equal(t, t0.Add(time.Hour), series.Points[1].Date)
	assert.Equal(t, t0.Add(2*time.Hour), series.Points[2].Date)
}

func TestProfitLossReplayIsIdempotent(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(3), usd(2))
	prices.set(t0.Add(time.Hour), usd(5), usd(2))

	pos := testPosition(
		created(t0, 1_000_000, 5),
		modified(t0.Add(time.Hour), 1_000_000, 5, 1_500_000, 5),
		swapped(t0.Add(2*time.Hour), 1_500_000, 2_900_000, 4),
		swapped(t0.Add(3*time.Hour), 1_500_000, 3_100_000, 3),
	)

	p := NewProjector(prices, nil)
	first, err := p.ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	second, err := p.ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProfitLossMissingPriceSkipsEvent(t *testing.T) {
	prices := &fakePrices{}

	pos := testPosition(created(t0, 100, 10))
	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesNoPrice, series.Status)
	assert.Empty(t, series.Points)
	assert.Equal(t, 1, series.SkippedEvents)
}

func TestProfitLossMissingPriceLeavesGap(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1))
	// increase at t0+1h has no price

	pos := testPosition(
		created(t0, 100, 10),
		modified(t0.Add(time.Hour), 100, 10, 200, 10),
		swapped(t0.Add(2*time.Hour), 200, 200, 9),
	)
	series, err := NewProjector(prices, nil).ProfitLoss(context.Background(), pos)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesPopulated, series.Status)
	assert.Equal(t, 1, series.SkippedEvents)
	require.Len(t, series.Points, 2)
	// only the original 1000 tranche backs the swap: 200 * 1000 * 2e6 / 1000 / 1e6
	assert.Equal(t, int64(400), series.Points[1].SwappedIfLumpSum.Int64())
}

func TestProfitLossEmptyHistory(t *testing.T) {
	series, err := NewProjector(&fakePrices{}, nil).ProfitLoss(context.Background(), testPosition())
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesNoData, series.Status)
	assert.Empty(t, series.Points)
}

func TestProfitLossPriceSourceError(t *testing.T) {
	boom := errors.New("upstream down")
	prices := &fakePrices{err: boom}

	_, err := NewProjector(prices, nil).ProfitLoss(context.Background(), testPosition(created(t0, 1, 1)))
	assert.ErrorIs(t, err, boom)
}

func TestProfitLossHonoursCancellation(t *testing.T) {
	prices := &fakePrices{}
	prices.set(t0, usd(2), usd(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProjector(prices, nil).ProfitLoss(ctx, testPosition(created(t0, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, prices.calls)
}

func TestPercentage(t *testing.T) {
	assert.True(t, Percentage(bi(10), bi(0), 6).IsZero())
	assert.Equal(t, "25", Percentage(bi(125), bi(100), 6).String())
	assert.Equal(t, "-50", Percentage(bi(50), bi(100), 6).String())
	assert.Equal(t, "33.33", Percentage(bi(4), bi(3), 18).String())
}
