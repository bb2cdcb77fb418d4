package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// SeriesStatus tells the display layer which state to render.
type SeriesStatus string

const (
	SeriesLoading   SeriesStatus = "loading"
	SeriesNoData    SeriesStatus = "no_data"
	SeriesNoPrice   SeriesStatus = "no_price"
	SeriesPopulated SeriesStatus = "populated"
)

// ProfitLossPoint is one row of the DCA-vs-lump-sum series. Amounts are in
// "to" token units.
type ProfitLossPoint struct {
	Date             time.Time
	Name             string
	SwappedIfDCA     *big.Int
	SwappedIfLumpSum *big.Int
	Percentage       decimal.Decimal
}

// ProfitLossSeries is the projector output for one position.
type ProfitLossSeries struct {
	Status        SeriesStatus
	Points        []ProfitLossPoint
	SkippedEvents int // events dropped for lack of price data
}

// AveragePricePoint is one row of the average-buy-price series.
type AveragePricePoint struct {
	Date    time.Time
	Name    string
	Average *big.Int
}

// AveragePriceSeries is the accumulator output for one position.
type AveragePriceSeries struct {
	Status SeriesStatus
	Points []AveragePricePoint
}

// PositionSummary is a fold of a position's history into running totals.
type PositionSummary struct {
	TotalDeposited     *big.Int // from units
	TotalDecreased     *big.Int // from units removed by MODIFIED
	TotalSwapped       *big.Int // to units
	TotalWithdrawn     *big.Int // to units
	WithdrawnRemaining *big.Int // from units returned on terminate/withdraw
	RemainingLiquidity *big.Int // from units
	RemainingSwaps     *big.Int
	Rate               *big.Int
	ExecutedSwaps      int
	Terminated         bool
}

// Graphs bundles everything served for one position.
type Graphs struct {
	Key          PositionKey
	From         Token
	To           Token
	ProfitLoss   ProfitLossSeries
	AveragePrice AveragePriceSeries
	Summary      PositionSummary
	ComputedAt   time.Time
}
