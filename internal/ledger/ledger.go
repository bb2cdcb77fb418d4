// Package ledger tracks the open deposit tranches ("sub-positions") backing a
// DCA position. Each tranche remembers the from->to conversion rate at the
// moment its funds entered the position, so a swap can be attributed back to
// the deposits that funded it and valued as if those deposits had been
// converted in one go.
//
// All arithmetic is unsigned fixed point on *big.Int. Division always comes
// after multiplication.
package ledger

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/fixedpoint"
)

// SubPosition is one still-open deposit.
type SubPosition struct {
	AmountLeft  *big.Int // from token units
	RatePerUnit *big.Int // to units per one whole from token, at deposit time
}

// Attribution records how a single tranche took part in a swap.
type Attribution struct {
	Index   int      // tranche index before the swap
	Spent   *big.Int // from units charged to the tranche
	LumpSum *big.Int // to units had the share been converted at deposit rate
	Closed  bool     // tranche was removed
}

// SwapConsumption is the outcome of ConsumeForSwap.
type SwapConsumption struct {
	LumpSum      *big.Int
	Spent        *big.Int
	Attributions []Attribution // in visit order, newest tranche first
}

// Ledger is an ordered list of tranches, oldest first. It is not safe for
// concurrent use; each computation builds its own.
type Ledger struct {
	tranches []SubPosition
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Open appends a tranche. Zero amounts are kept but never contribute.
func (l *Ledger) Open(amount, ratePerUnit *big.Int) error {
	amount, ratePerUnit = fixedpoint.OrZero(amount), fixedpoint.OrZero(ratePerUnit)
	if amount.Sign() < 0 || ratePerUnit.Sign() < 0 {
		return fmt.Errorf("ledger: open: %w", domain.ErrNegativeAmount)
	}
	l.tranches = append(l.tranches, SubPosition{
		AmountLeft:  fixedpoint.Clone(amount),
		RatePerUnit: fixedpoint.Clone(ratePerUnit),
	})
	return nil
}

// Reduce removes funds starting from the most recently opened tranche. A
// tranche is deleted when the outstanding amount covers it, otherwise it is
// decremented and the walk stops.
//
// If the ledger runs dry first, the rest of the amount is dropped without
// error and returned as discarded.
func (l *Ledger) Reduce(amount *big.Int) (discarded *big.Int, err error) {
	remaining := fixedpoint.Clone(amount)
	if remaining.Sign() < 0 {
		return nil, fmt.Errorf("ledger: reduce: %w", domain.ErrNegativeAmount)
	}

	for i := len(l.tranches) - 1; i >= 0 && remaining.Sign() > 0; i-- {
		left := l.tranches[i].AmountLeft
		if remaining.Cmp(left) >= 0 {
			remaining.Sub(remaining, left)
			l.remove(i)
			continue
		}
		l.tranches[i].AmountLeft = new(big.Int).Sub(left, remaining)
		remaining.SetInt64(0)
	}
	return remaining, nil
}

// ConsumeForSwap charges one swap against the ledger. currentRate is the
// amount of from token the swap consumed and fromMagnitude is 10^fromDecimals.
//
// Every tranche pays its share of the swap in proportion to its balance as
// it stood before the swap:
//
//	lumpSum_i = currentRate * amountLeft_i * ratePerUnit_i / total / fromMagnitude
//	spent_i   = ceil(currentRate * amountLeft_i / total)
//
// Rounding the spend up drains dust instead of leaving it behind. Tranches
// are visited newest first and removed once they reach zero.
func (l *Ledger) ConsumeForSwap(currentRate, fromMagnitude *big.Int) (SwapConsumption, error) {
	currentRate = fixedpoint.OrZero(currentRate)
	if currentRate.Sign() < 0 {
		return SwapConsumption{}, fmt.Errorf("ledger: consume: %w", domain.ErrNegativeAmount)
	}
	if fromMagnitude == nil || fromMagnitude.Sign() <= 0 {
		return SwapConsumption{}, fmt.Errorf("ledger: consume: from magnitude must be positive")
	}

	out := SwapConsumption{LumpSum: new(big.Int), Spent: new(big.Int)}
	total := l.Total()
	if total.Sign() == 0 {
		return out, nil
	}

	for i := len(l.tranches) - 1; i >= 0; i-- {
		tr := l.tranches[i]

		share := fixedpoint.Mul(currentRate, tr.AmountLeft)
		lumpSum := new(big.Int).Mul(share, tr.RatePerUnit)
		lumpSum.Quo(lumpSum, total)
		lumpSum.Quo(lumpSum, fromMagnitude)

		spent := fixedpoint.CeilDiv(share, total)
		left := new(big.Int).Sub(tr.AmountLeft, spent)

		att := Attribution{Index: i, Spent: spent, LumpSum: lumpSum}
		if left.Sign() <= 0 {
			// spent may exceed the balance by the rounding unit
			att.Spent = fixedpoint.Clone(tr.AmountLeft)
			att.Closed = true
			l.remove(i)
		} else {
			l.tranches[i].AmountLeft = left
		}

		out.LumpSum.Add(out.LumpSum, lumpSum)
		out.Spent.Add(out.Spent, att.Spent)
		out.Attributions = append(out.Attributions, att)
	}
	return out, nil
}

// Total returns the sum of AmountLeft across all tranches.
func (l *Ledger) Total() *big.Int {
	total := new(big.Int)
	for _, tr := range l.tranches {
		total.Add(total, tr.AmountLeft)
	}
	return total
}

// Len returns the number of open tranches.
func (l *Ledger) Len() int {
	return len(l.tranches)
}

// Tranches returns a deep copy of the open tranches, oldest first.
func (l *Ledger) Tranches() []SubPosition {
	out := make([]SubPosition, len(l.tranches))
	for i, tr := range l.tranches {
		out[i] = SubPosition{
			AmountLeft:  fixedpoint.Clone(tr.AmountLeft),
			RatePerUnit: fixedpoint.Clone(tr.RatePerUnit),
		}
	}
	return out
}

func (l *Ledger) remove(i int) {
	l.tranches = append(l.tranches[:i], l.tranches[i+1:]...)
}
