package math

import "math/big"

// DailyInterestBound returns prevDebt * (ratePerSec / RAY) * 86400.
// The rate ratio is an integer quotient, so any rate below one RAY yields zero.
func DailyInterestBound(prevDebt, ratePerSec *big.Int) *big.Int {
	ratio := new(big.Int).Quo(OrZero(ratePerSec), Ray)
	bound := new(big.Int).Mul(OrZero(prevDebt), ratio)
	return bound.Mul(bound, SecondsPerDay)
}

// WeightedAverage returns Σ(weight_i * value_i) / Σ weight_i, truncated, or zero
// when the total weight is zero.
func WeightedAverage(values, weights []*big.Int) *big.Int {
	numerator := new(big.Int)
	denominator := new(big.Int)
	for i := range values {
		if i >= len(weights) {
			break
		}
		numerator.Add(numerator, Mul(values[i], weights[i]))
		denominator.Add(denominator, OrZero(weights[i]))
	}
	if denominator.Sign() == 0 {
		return new(big.Int)
	}
	return Div(numerator, denominator, RoundDown)
}

// ApplyFraction returns amount * fraction / WAD, truncated.
func ApplyFraction(amount, fraction *big.Int) *big.Int {
	return MulWad(amount, fraction)
}
