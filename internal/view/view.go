// Package view renders domain values as JSON documents. Fixed-point amounts
// carry both the raw integer and the decimal string scaled by the token's
// decimals, so clients never parse 256-bit numbers as floats.
package view

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

// Amount is a token amount.
type Amount struct {
	Raw   string `json:"raw"`
	Value string `json:"value"`
}

// NewAmount renders v with the given decimals. nil renders as zero.
func NewAmount(v *big.Int, decimals uint8) Amount {
	v = fixedpoint.OrZero(v)
	return Amount{Raw: v.String(), Value: fixedpoint.Format(v, decimals)}
}

// Token is a token reference.
type Token struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
}

func newToken(t domain.Token) Token {
	return Token{Address: strings.ToLower(t.Address.Hex()), Decimals: t.Decimals, Symbol: t.Symbol}
}

// ProfitLossPoint is one chart row.
type ProfitLossPoint struct {
	Date             time.Time       `json:"date"`
	Name             string          `json:"name"`
	SwappedIfDCA     Amount          `json:"swappedIfDCA"`
	SwappedIfLumpSum Amount          `json:"swappedIfLumpSum"`
	Percentage       decimal.Decimal `json:"percentage"`
}

// ProfitLoss is the DCA vs lump-sum series.
type ProfitLoss struct {
	Status        domain.SeriesStatus `json:"status"`
	Points        []ProfitLossPoint   `json:"points"`
	SkippedEvents int                 `json:"skippedEvents"`
}

// NewProfitLoss renders s with to-token decimals.
func NewProfitLoss(s domain.ProfitLossSeries, to domain.Token) ProfitLoss {
	out := ProfitLoss{
		Status:        s.Status,
		Points:        make([]ProfitLossPoint, 0, len(s.Points)),
		SkippedEvents: s.SkippedEvents,
	}
	for _, p := range s.Points {
		out.Points = append(out.Points, ProfitLossPoint{
			Date:             p.Date,
			Name:             p.Name,
			SwappedIfDCA:     NewAmount(p.SwappedIfDCA, to.Decimals),
			SwappedIfLumpSum: NewAmount(p.SwappedIfLumpSum, to.Decimals),
			Percentage:       p.Percentage,
		})
	}
	return out
}

// AveragePricePoint is one row of the average buy price series.
type AveragePricePoint struct {
	Date    time.Time `json:"date"`
	Name    string    `json:"name"`
	Average Amount    `json:"average"`
}

// AveragePrice is the average buy price series, priced in the to token.
type AveragePrice struct {
	Status domain.SeriesStatus `json:"status"`
	Points []AveragePricePoint `json:"points"`
}

// NewAveragePrice renders s with to-token decimals.
func NewAveragePrice(s domain.AveragePriceSeries, to domain.Token) AveragePrice {
	out := AveragePrice{Status: s.Status, Points: make([]AveragePricePoint, 0, len(s.Points))}
	for _, p := range s.Points {
		out.Points = append(out.Points, AveragePricePoint{
			Date:    p.Date,
			Name:    p.Name,
			Average: NewAmount(p.Average, to.Decimals),
		})
	}
	return out
}

// Summary is the running totals block.
type Summary struct {
	TotalDeposited     Amount `json:"totalDeposited"`
	TotalDecreased     Amount `json:"totalDecreased"`
	TotalSwapped       Amount `json:"totalSwapped"`
	TotalWithdrawn     Amount `json:"totalWithdrawn"`
	WithdrawnRemaining Amount `json:"withdrawnRemaining"`
	RemainingLiquidity Amount `json:"remainingLiquidity"`
	Rate               Amount `json:"rate"`
	RemainingSwaps     string `json:"remainingSwaps"`
	ExecutedSwaps      int    `json:"executedSwaps"`
	Terminated         bool   `json:"terminated"`
}

// NewSummary renders s. From-side totals use from decimals, to-side totals
// use to decimals.
func NewSummary(s domain.PositionSummary, from, to domain.Token) Summary {
	return Summary{
		TotalDeposited:     NewAmount(s.TotalDeposited, from.Decimals),
		TotalDecreased:     NewAmount(s.TotalDecreased, from.Decimals),
		TotalSwapped:       NewAmount(s.TotalSwapped, to.Decimals),
		TotalWithdrawn:     NewAmount(s.TotalWithdrawn, to.Decimals),
		WithdrawnRemaining: NewAmount(s.WithdrawnRemaining, from.Decimals),
		RemainingLiquidity: NewAmount(s.RemainingLiquidity, from.Decimals),
		Rate:               NewAmount(s.Rate, from.Decimals),
		RemainingSwaps:     fixedpoint.OrZero(s.RemainingSwaps).String(),
		ExecutedSwaps:      s.ExecutedSwaps,
		Terminated:         s.Terminated,
	}
}

// Graphs bundles the three series for a position.
type Graphs struct {
	Key          string       `json:"key"`
	From         Token        `json:"from"`
	To           Token        `json:"to"`
	ProfitLoss   ProfitLoss   `json:"profitLoss"`
	AveragePrice AveragePrice `json:"averagePrice"`
	Summary      Summary      `json:"summary"`
	ComputedAt   time.Time    `json:"computedAt"`
}

// NewGraphs renders g.
func NewGraphs(g domain.Graphs) Graphs {
	return Graphs{
		Key:          g.Key.String(),
		From:         newToken(g.From),
		To:           newToken(g.To),
		ProfitLoss:   NewProfitLoss(g.ProfitLoss, g.To),
		AveragePrice: NewAveragePrice(g.AveragePrice, g.To),
		Summary:      NewSummary(g.Summary, g.From, g.To),
		ComputedAt:   g.ComputedAt,
	}
}

// Event is one history entry. Amount fields are raw integers; absent fields
// are omitted.
type Event struct {
	Action             domain.ActionKind `json:"action"`
	TxHash             string            `json:"txHash"`
	Timestamp          time.Time         `json:"timestamp"`
	Rate               string            `json:"rate,omitempty"`
	OldRate            string            `json:"oldRate,omitempty"`
	RemainingSwaps     string            `json:"remainingSwaps,omitempty"`
	OldRemainingSwaps  string            `json:"oldRemainingSwaps,omitempty"`
	Swapped            string            `json:"swapped,omitempty"`
	RatioAToB          string            `json:"ratioAToB,omitempty"`
	RatioBToA          string            `json:"ratioBToA,omitempty"`
	Withdrawn          string            `json:"withdrawn,omitempty"`
	WithdrawnRemaining string            `json:"withdrawnRemaining,omitempty"`
}

func raw(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// Position is a position with its summary and history.
type Position struct {
	Key       string                `json:"key"`
	Owner     string                `json:"owner"`
	From      Token                 `json:"from"`
	To        Token                 `json:"to"`
	Status    domain.PositionStatus `json:"status"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
	Summary   Summary               `json:"summary"`
	History   []Event               `json:"history"`
}

// NewPosition renders p with its summary.
func NewPosition(p domain.Position, s domain.PositionSummary) Position {
	out := Position{
		Key:       p.Key.String(),
		Owner:     strings.ToLower(p.Owner.Hex()),
		From:      newToken(p.From),
		To:        newToken(p.To),
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Summary:   NewSummary(s, p.From, p.To),
		History:   make([]Event, 0, len(p.History)),
	}
	for _, ev := range domain.SortEvents(p.History) {
		out.History = append(out.History, Event{
			Action:             ev.Action,
			TxHash:             ev.TxHash.Hex(),
			Timestamp:          ev.Timestamp,
			Rate:               raw(ev.Rate),
			OldRate:            raw(ev.OldRate),
			RemainingSwaps:     raw(ev.RemainingSwaps),
			OldRemainingSwaps:  raw(ev.OldRemainingSwaps),
			Swapped:            raw(ev.Swapped),
			RatioAToB:          raw(ev.RatioAToB),
			RatioBToA:          raw(ev.RatioBToA),
			Withdrawn:          raw(ev.Withdrawn),
			WithdrawnRemaining: raw(ev.WithdrawnRemaining),
		})
	}
	return out
}
