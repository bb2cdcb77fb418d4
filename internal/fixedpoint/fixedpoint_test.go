package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagnitude(t *testing.T) {
	assert.Equal(t, "1", Magnitude(0).String())
	assert.Equal(t, "1000000", Magnitude(6).String())
	assert.Equal(t, "1000000000000000000", Magnitude(18).String())
}

func TestParseUint(t *testing.T) {
	v, err := ParseUint("123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	v, err = ParseUint("0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(16), v.Int64())

	v, err = ParseUint("")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	_, err = ParseUint("-5")
	assert.ErrorIs(t, err, ErrNegative)

	_, err = ParseUint("not-a-number")
	assert.Error(t, err)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, int64(4), CeilDiv(big.NewInt(10), big.NewInt(3)).Int64())
	assert.Equal(t, int64(5), CeilDiv(big.NewInt(10), big.NewInt(2)).Int64())
	assert.Equal(t, int64(0), CeilDiv(big.NewInt(0), big.NewInt(7)).Int64())
}

func TestMulDoesNotMutate(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(4)
	assert.Equal(t, int64(12), Mul(a, b).Int64())
	assert.Equal(t, int64(3), a.Int64())
	assert.Equal(t, int64(4), b.Int64())
}

func TestDecimalRoundTrip(t *testing.T) {
	d := ToDecimal(big.NewInt(1_500_000), 6)
	assert.Equal(t, "1.5", d.String())

	v, err := FromDecimal(decimal.RequireFromString("1834.123456789"), 6)
	require.NoError(t, err)
	assert.Equal(t, "1834123456", v.String())

	_, err = FromDecimal(decimal.NewFromInt(-1), 6)
	assert.ErrorIs(t, err, ErrNegative)
}
