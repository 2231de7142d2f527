package math_test

import (
	"math/big"
	"testing"

	fpmath "PoolLedger/internal/math"

	"github.com/stretchr/testify/assert"
)

func TestDivRoundingModes(t *testing.T) {
	cases := []struct {
		num, den int64
		mode     fpmath.RoundingMode
		want     int64
	}{
		{7, 2, fpmath.RoundDown, 3},
		{-7, 2, fpmath.RoundDown, -3},
		{7, 2, fpmath.RoundUp, 4},
		{-7, 2, fpmath.RoundUp, -4},
		{5, 2, fpmath.RoundHalfEven, 2},
		{7, 2, fpmath.RoundHalfEven, 4},
		{8, 3, fpmath.RoundHalfEven, 3},
		{6, 3, fpmath.RoundUp, 2},
	}
	for _, c := range cases {
		got := fpmath.Div(big.NewInt(c.num), big.NewInt(c.den), c.mode)
		assert.Equalf(t, c.want, got.Int64(), "%d/%d mode=%d", c.num, c.den, c.mode)
	}
}

func TestDivByZeroIsZero(t *testing.T) {
	assert.Equal(t, 0, fpmath.Div(big.NewInt(10), nil, fpmath.RoundDown).Sign())
}

func TestRescaleTruncates(t *testing.T) {
	// 1.999999999999999999 WAD -> 6 decimals
	v := fpmath.MustParse("1999999999999999999")
	got := fpmath.Rescale(v, 18, 6)
	assert.Equal(t, "1999999", got.String())

	up := fpmath.Rescale(big.NewInt(15), 6, 18)
	assert.Equal(t, "15000000000000", up.String())
}

func TestDailyInterestBoundUsesIntegerRatio(t *testing.T) {
	// rate below one RAY collapses to zero
	below := fpmath.MustParse("999999999999999999999999999")
	assert.Equal(t, 0, fpmath.DailyInterestBound(big.NewInt(1000), below).Sign())

	got := fpmath.DailyInterestBound(big.NewInt(10), fpmath.Ray)
	assert.Equal(t, int64(864_000), got.Int64())
}

func TestWeightedAverage(t *testing.T) {
	values := []*big.Int{big.NewInt(10), big.NewInt(20)}
	weights := []*big.Int{big.NewInt(1), big.NewInt(3)}
	assert.Equal(t, int64(17), fpmath.WeightedAverage(values, weights).Int64())

	assert.Equal(t, 0, fpmath.WeightedAverage(values, []*big.Int{nil, big.NewInt(0)}).Sign())
}

func TestApplyFraction(t *testing.T) {
	half := new(big.Int).Div(fpmath.Wad, big.NewInt(2))
	assert.Equal(t, int64(50), fpmath.ApplyFraction(big.NewInt(100), half).Int64())
}

func TestToFloat(t *testing.T) {
	assert.InDelta(t, 1.5, fpmath.ToFloat(fpmath.MustParse("1500000000000000000"), fpmath.WadDecimals), 1e-12)
	assert.Zero(t, fpmath.ToFloat(nil, fpmath.WadDecimals))
}
