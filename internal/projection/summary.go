package projection

import (
	"math/big"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

// Summarize folds the history into the totals shown next to the graphs.
func Summarize(pos domain.Position) domain.PositionSummary {
	s := domain.PositionSummary{
		TotalDeposited:     new(big.Int),
		TotalDecreased:     new(big.Int),
		TotalSwapped:       new(big.Int),
		TotalWithdrawn:     new(big.Int),
		WithdrawnRemaining: new(big.Int),
		RemainingLiquidity: new(big.Int),
		RemainingSwaps:     new(big.Int),
		Rate:               new(big.Int),
	}

	for _, ev := range domain.SortEvents(pos.History) {
		switch ev.Action {
		case domain.ActionCreated:
			s.TotalDeposited.Add(s.TotalDeposited, fixedpoint.Mul(fixedpoint.OrZero(ev.Rate), fixedpoint.OrZero(ev.RemainingSwaps)))
			s.Rate, s.RemainingSwaps = fixedpoint.Clone(ev.Rate), fixedpoint.Clone(ev.RemainingSwaps)

		case domain.ActionModified:
			oldFunds := fixedpoint.Mul(fixedpoint.OrZero(ev.OldRate), fixedpoint.OrZero(ev.OldRemainingSwaps))
			newFunds := fixedpoint.Mul(fixedpoint.OrZero(ev.Rate), fixedpoint.OrZero(ev.RemainingSwaps))
			diff := new(big.Int).Sub(newFunds, oldFunds)
			if diff.Sign() > 0 {
				s.TotalDeposited.Add(s.TotalDeposited, diff)
			} else {
				s.TotalDecreased.Sub(s.TotalDecreased, diff)
			}
			s.Rate, s.RemainingSwaps = fixedpoint.Clone(ev.Rate), fixedpoint.Clone(ev.RemainingSwaps)

		case domain.ActionSwapped:
			s.TotalSwapped.Add(s.TotalSwapped, fixedpoint.OrZero(ev.Swapped))
			s.ExecutedSwaps++
			if ev.RemainingSwaps != nil {
				s.RemainingSwaps = fixedpoint.Clone(ev.RemainingSwaps)
			}
			if ev.Rate != nil {
				s.Rate = fixedpoint.Clone(ev.Rate)
			}

		case domain.ActionWithdrawn:
			s.TotalWithdrawn.Add(s.TotalWithdrawn, fixedpoint.OrZero(ev.Withdrawn))

		case domain.ActionTerminated:
			s.TotalWithdrawn.Add(s.TotalWithdrawn, fixedpoint.OrZero(ev.Withdrawn))
			s.WithdrawnRemaining.Add(s.WithdrawnRemaining, fixedpoint.OrZero(ev.WithdrawnRemaining))
			s.Terminated = true
			s.RemainingSwaps = new(big.Int)
		}
	}

	if !s.Terminated {
		s.RemainingLiquidity = fixedpoint.Mul(s.Rate, s.RemainingSwaps)
	}
	return s
}
