package domain

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActionKind discriminates PositionEvent variants.
type ActionKind string

const (
	ActionCreated     ActionKind = "CREATED"
	ActionModified    ActionKind = "MODIFIED"
	ActionSwapped     ActionKind = "SWAPPED"
	ActionWithdrawn   ActionKind = "WITHDRAWN"
	ActionTerminated  ActionKind = "TERMINATED"
	ActionTransferred ActionKind = "TRANSFERRED"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreated, ActionModified, ActionSwapped, ActionWithdrawn, ActionTerminated, ActionTransferred:
		return true
	}
	return false
}

// PositionEvent is one recorded action on a position. Numeric fields are
// unsigned fixed-point values; which ones are set depends on Action:
//
//	CREATED      Rate, RemainingSwaps
//	MODIFIED     Rate, RemainingSwaps, OldRate, OldRemainingSwaps
//	SWAPPED      Rate, RemainingSwaps, Swapped, RatioAToB, RatioBToA
//	WITHDRAWN    Withdrawn, WithdrawnRemaining
//	TERMINATED   Withdrawn, WithdrawnRemaining
//	TRANSFERRED  FromAddr, ToAddr
type PositionEvent struct {
	Action    ActionKind
	TxHash    common.Hash
	Timestamp time.Time

	Rate              *big.Int
	OldRate           *big.Int
	RemainingSwaps    *big.Int
	OldRemainingSwaps *big.Int
	Swapped           *big.Int
	RatioAToB         *big.Int
	RatioBToA         *big.Int

	Withdrawn          *big.Int // "to" token units
	WithdrawnRemaining *big.Int // "from" token units

	FromAddr common.Address
	ToAddr   common.Address
}

// SortEvents returns a copy of events in ascending timestamp order. Events
// sharing a timestamp keep their input order.
func SortEvents(events []PositionEvent) []PositionEvent {
	out := make([]PositionEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
