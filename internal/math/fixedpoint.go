package math

import (
	"fmt"
	"math/big"
	"sync"
)

const (
	// WadDecimals is the precision of token prices and fulfillment percentages.
	WadDecimals = 18
	// RayDecimals is the precision of per-second interest rates.
	RayDecimals = 27
)

var (
	Wad = Pow10(WadDecimals)
	Ray = Pow10(RayDecimals)

	// SecondsPerDay is the accrual horizon of one period.
	SecondsPerDay = big.NewInt(86_400)
)

var pow10Cache sync.Map // int -> *big.Int

// Pow10 returns 10^n. The returned value is shared and must not be mutated.
func Pow10(n int) *big.Int {
	if v, ok := pow10Cache.Load(n); ok {
		return v.(*big.Int)
	}
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	pow10Cache.Store(n, v)
	return v
}

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // Truncate toward zero
	RoundUp                           // Away from zero
	RoundHalfEven                     // Banker's rounding
)

// Div performs numerator / denominator with rounding. Division by zero returns zero.
func Div(numerator, denominator *big.Int, mode RoundingMode) *big.Int {
	if IsZero(denominator) {
		return new(big.Int)
	}

	quotient, remainder := new(big.Int).QuoRem(OrZero(numerator), denominator, new(big.Int))
	if remainder.Sign() == 0 {
		return quotient
	}

	// Sign of the exact result
	sign := remainder.Sign() * denominator.Sign()

	switch mode {
	case RoundUp:
		quotient.Add(quotient, big.NewInt(int64(sign)))
	case RoundHalfEven:
		twice := new(big.Int).Abs(remainder)
		twice.Lsh(twice, 1)
		cmp := twice.Cmp(new(big.Int).Abs(denominator))
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(int64(sign)))
		}
	}

	return quotient
}

// MulDiv computes a * b / denominator with a full-precision intermediate.
func MulDiv(a, b, denominator *big.Int, mode RoundingMode) *big.Int {
	product := new(big.Int).Mul(OrZero(a), OrZero(b))
	return Div(product, denominator, mode)
}

// MulWad computes a * b / WAD, truncated.
func MulWad(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad, RoundDown)
}

// DivWad computes a * WAD / b, truncated.
func DivWad(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b, RoundDown)
}

// Rescale converts x from one decimal precision to another. Scaling down truncates
// the fractional remainder below the target precision.
func Rescale(x *big.Int, fromDecimals, toDecimals int) *big.Int {
	switch {
	case fromDecimals == toDecimals:
		return Clone(x)
	case fromDecimals > toDecimals:
		return Div(x, Pow10(fromDecimals-toDecimals), RoundDown)
	default:
		return new(big.Int).Mul(OrZero(x), Pow10(toDecimals-fromDecimals))
	}
}

// OrZero returns x, or a fresh zero when x is nil.
func OrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// Clone returns an independent copy of x (zero for nil).
func Clone(x *big.Int) *big.Int {
	return new(big.Int).Set(OrZero(x))
}

func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(OrZero(a), OrZero(b))
}

func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(OrZero(a), OrZero(b))
}

func Mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(OrZero(a), OrZero(b))
}

// Sum adds all values; nil entries count as zero.
func Sum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

func Min(a, b *big.Int) *big.Int {
	if OrZero(a).Cmp(OrZero(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// Max0 clamps negative values to zero.
func Max0(x *big.Int) *big.Int {
	if OrZero(x).Sign() < 0 {
		return new(big.Int)
	}
	return Clone(x)
}

func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// Cmp compares a and b treating nil as zero.
func Cmp(a, b *big.Int) int {
	return OrZero(a).Cmp(OrZero(b))
}

// Parse reads a base-10 (or 0x-prefixed) integer.
func Parse(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ToFloat converts a fixed-point value for display and gauges. Precision is lost.
func ToFloat(x *big.Int, decimals int) float64 {
	f, _ := new(big.Rat).SetFrac(OrZero(x), Pow10(decimals)).Float64()
	return f
}
