// Package fixedpoint holds the unsigned fixed-point helpers shared by the
// ledger, the projector and the API layer. On-chain amounts are carried as
// *big.Int scaled by the token's decimals and only turned into
// decimal.Decimal at the presentation edge.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// USDDecimals is the precision historical USD prices are converted to.
const USDDecimals uint8 = 18

// ErrNegative is returned when an unsigned value is negative.
var ErrNegative = errors.New("fixedpoint: negative value")

// Magnitude returns 10^decimals.
func Magnitude(decimals uint8) *big.Int {
	return math.BigPow(10, int64(decimals))
}

// ParseUint parses a base-10 or 0x-prefixed hex string into a non-negative
// 256-bit integer. An empty string parses as zero, matching how the
// subgraph renders absent BigInt fields.
func ParseUint(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: parse %q: invalid 256-bit integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("fixedpoint: parse %q: %w", s, ErrNegative)
	}
	return v, nil
}

// CeilDiv returns ceil(a / b) for non-negative a and positive b.
func CeilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Mul returns the product of all factors. It never mutates its inputs.
func Mul(factors ...*big.Int) *big.Int {
	out := big.NewInt(1)
	for _, f := range factors {
		out.Mul(out, f)
	}
	return out
}

// OrZero returns v, or a fresh zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Clone copies v so callers can mutate the result freely.
func Clone(v *big.Int) *big.Int {
	return new(big.Int).Set(OrZero(v))
}

// ToDecimal renders a scaled integer as a human-readable decimal.
func ToDecimal(v *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(OrZero(v), -int32(decimals))
}

// FromDecimal scales d by 10^decimals and truncates the remainder.
// Negative inputs are rejected.
func FromDecimal(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("fixedpoint: from decimal %s: %w", d.String(), ErrNegative)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// Format renders v with the given decimals as a plain decimal string.
func Format(v *big.Int, decimals uint8) string {
	return ToDecimal(v, decimals).String()
}
