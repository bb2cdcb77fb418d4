// Package projection turns a position's action history into the series the
// dashboard charts: DCA vs lump-sum profit/loss, the average buy price, and a
// running summary of the position's funds.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
	"github.com/alanyoungcy/dcagraph/internal/ledger"
)

// labelLayout formats point labels for chart tooltips.
const labelLayout = "Jan 2 15:04"

// HistoricPriceSource looks up USD prices (18-decimal fixed point) for tokens
// at a point in time. Tokens without a known price are left out of the map.
type HistoricPriceSource interface {
	HistoricPrices(ctx context.Context, chainID int64, tokens []common.Address, ts time.Time) (map[common.Address]*big.Int, error)
}

// Projector computes profit/loss series. It holds no per-position state, so
// one Projector can serve concurrent callers.
type Projector struct {
	prices HistoricPriceSource
	logger *slog.Logger
}

// NewProjector creates a Projector backed by the given price source.
func NewProjector(prices HistoricPriceSource, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		prices: prices,
		logger: logger.With(slog.String("component", "projector")),
	}
}

// plState is the fold carried from one event to the next.
type plState struct {
	ledger   *ledger.Ledger
	dca      *big.Int
	lumpSum  *big.Int
	points   []domain.ProfitLossPoint
	skipped  int
	fromMag  *big.Int
	toMag    *big.Int
	toDec    uint8
	position domain.Position
}

// ProfitLoss walks the position history in timestamp order and emits one
// point per CREATED and SWAPPED event. Price lookups happen one at a time in
// event order. An event whose prices are missing is skipped and counted in
// SkippedEvents. A failing price source aborts the whole computation.
func (p *Projector) ProfitLoss(ctx context.Context, pos domain.Position) (domain.ProfitLossSeries, error) {
	if len(pos.History) == 0 {
		return domain.ProfitLossSeries{Status: domain.SeriesNoData}, nil
	}

	st := &plState{
		ledger:   ledger.New(),
		dca:      new(big.Int),
		lumpSum:  new(big.Int),
		fromMag:  pos.From.Magnitude(),
		toMag:    pos.To.Magnitude(),
		toDec:    pos.To.Decimals,
		position: pos,
	}

	for _, ev := range domain.SortEvents(pos.History) {
		if err := ctx.Err(); err != nil {
			return domain.ProfitLossSeries{}, fmt.Errorf("projection: profit/loss %s: %w", pos.Key, err)
		}

		var err error
		switch ev.Action {
		case domain.ActionCreated:
			err = p.onCreated(ctx, st, ev)
		case domain.ActionModified:
			err = p.onModified(ctx, st, ev)
		case domain.ActionSwapped:
			err = p.onSwapped(st, ev)
		}
		if err != nil {
			return domain.ProfitLossSeries{}, fmt.Errorf("projection: profit/loss %s: %w", pos.Key, err)
		}
	}

	series := domain.ProfitLossSeries{
		Status:        domain.SeriesPopulated,
		Points:        st.points,
		SkippedEvents: st.skipped,
	}
	if len(st.points) == 0 {
		series.Status = domain.SeriesNoPrice
	}
	return series, nil
}

func (p *Projector) onCreated(ctx context.Context, st *plState, ev domain.PositionEvent) error {
	rate, ok, err := p.ratePerUnit(ctx, st, ev)
	if err != nil || !ok {
		return err
	}

	deposited := fixedpoint.Mul(fixedpoint.OrZero(ev.RemainingSwaps), fixedpoint.OrZero(ev.Rate))
	if err := st.ledger.Open(deposited, rate); err != nil {
		return err
	}

	st.points = append(st.points, domain.ProfitLossPoint{
		Date:             ev.Timestamp,
		Name:             ev.Timestamp.UTC().Format(labelLayout),
		SwappedIfDCA:     new(big.Int),
		SwappedIfLumpSum: new(big.Int),
		Percentage:       decimal.Zero,
	})
	return nil
}

func (p *Projector) onModified(ctx context.Context, st *plState, ev domain.PositionEvent) error {
	oldFunds := fixedpoint.Mul(fixedpoint.OrZero(ev.OldRate), fixedpoint.OrZero(ev.OldRemainingSwaps))
	newFunds := fixedpoint.Mul(fixedpoint.OrZero(ev.Rate), fixedpoint.OrZero(ev.RemainingSwaps))

	switch newFunds.Cmp(oldFunds) {
	case 1:
		rate, ok, err := p.ratePerUnit(ctx, st, ev)
		if err != nil || !ok {
			return err
		}
		return st.ledger.Open(new(big.Int).Sub(newFunds, oldFunds), rate)
	case -1:
		discarded, err := st.ledger.Reduce(new(big.Int).Sub(oldFunds, newFunds))
		if err != nil {
			return err
		}
		if discarded.Sign() > 0 {
			p.logger.Warn("projection: modify removed more than the ledger holds",
				slog.String("position", st.position.Key.String()),
				slog.String("tx", ev.TxHash.Hex()),
				slog.String("discarded", discarded.String()),
			)
		}
	}
	return nil
}

func (p *Projector) onSwapped(st *plState, ev domain.PositionEvent) error {
	res, err := st.ledger.ConsumeForSwap(fixedpoint.OrZero(ev.Rate), st.fromMag)
	if err != nil {
		return err
	}
	st.lumpSum.Add(st.lumpSum, res.LumpSum)
	st.dca.Add(st.dca, fixedpoint.OrZero(ev.Swapped))

	st.points = append(st.points, domain.ProfitLossPoint{
		Date:             ev.Timestamp,
		Name:             ev.Timestamp.UTC().Format(labelLayout),
		SwappedIfDCA:     fixedpoint.Clone(st.dca),
		SwappedIfLumpSum: fixedpoint.Clone(st.lumpSum),
		Percentage:       Percentage(st.dca, st.lumpSum, st.toDec),
	})
	return nil
}

// ratePerUnit prices one whole from token in to units at the event time. ok
// is false when either price is unavailable, in which case the event is
// counted as skipped.
func (p *Projector) ratePerUnit(ctx context.Context, st *plState, ev domain.PositionEvent) (*big.Int, bool, error) {
	from, to := st.position.From.Address, st.position.To.Address
	prices, err := p.prices.HistoricPrices(ctx, st.position.Key.ChainID, []common.Address{from, to}, ev.Timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("historic prices at %d: %w", ev.Timestamp.Unix(), err)
	}

	fromPrice, toPrice := prices[from], prices[to]
	if fromPrice == nil || toPrice == nil || toPrice.Sign() == 0 {
		st.skipped++
		p.logger.Debug("projection: skipping event without price data",
			slog.String("position", st.position.Key.String()),
			slog.String("action", string(ev.Action)),
			slog.Int64("timestamp", ev.Timestamp.Unix()),
		)
		return nil, false, nil
	}

	rate := new(big.Int).Mul(fromPrice, st.toMag)
	rate.Quo(rate, toPrice)
	return rate, true, nil
}

// Percentage returns how much better (positive) or worse (negative) DCA did
// than the lump sum, in percent rounded to two places. The ratio keeps
// toDecimals of precision before it is turned into a percentage. A zero
// lump sum yields zero.
func Percentage(dca, lumpSum *big.Int, toDecimals uint8) decimal.Decimal {
	if lumpSum == nil || lumpSum.Sign() == 0 {
		return decimal.Zero
	}
	toMag := fixedpoint.Magnitude(toDecimals)
	ratio := fixedpoint.Mul(fixedpoint.OrZero(dca), toMag)
	ratio.Quo(ratio, lumpSum)

	delta := ratio.Sub(ratio, toMag)
	delta.Mul(delta, big.NewInt(100))
	return fixedpoint.ToDecimal(delta, toDecimals).Round(2)
}
