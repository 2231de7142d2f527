package accrual

import (
	"context"
	"fmt"
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/state"
)

// Observation is what one contract read returned for a loan. Nil fields were not
// returned and leave the prior value in place.
type Observation struct {
	Debt      *big.Int
	Locked    *bool
	RateGroup *big.Int
}

// RateTable maps a rate group to its per-second rate (RAY).
type RateTable map[string]*big.Int

// ApplyObservation updates one loan from a fresh debt reading. The per-period fields
// are expected to be reset by the caller.
func (e *Engine) ApplyObservation(a *state.Asset, obs Observation, rates RateTable, ts time.Time) error {
	prev := fpmath.Clone(a.OutstandingDebt)

	if obs.Debt != nil {
		if obs.Debt.Sign() > 0 {
			a.Activate()
		} else if a.Status == state.AssetStatusActive {
			a.Close(ts)
		}
	}
	if obs.Locked != nil && !*obs.Locked {
		a.Close(ts)
	}

	if obs.Debt == nil {
		e.log.Warn().Str("asset", a.ID).Msg("debt not returned, keeping prior value")
		return nil
	}
	cur := fpmath.Clone(obs.Debt)
	a.OutstandingDebt = cur

	if obs.RateGroup == nil {
		e.log.Warn().Str("asset", a.ID).Msg("rate group not returned, keeping prior rate")
	} else {
		group := obs.RateGroup.String()
		rate, ok := rates[group]
		switch {
		case ok:
			a.InterestRatePerSec = fpmath.Clone(rate)
		case a.Status == state.AssetStatusActive:
			return state.Inconsistent("no rate for group %s of active loan %s", group, a.ID)
		}
	}

	if prev.Cmp(cur) > 0 {
		repaid := fpmath.Sub(prev, cur)
		a.RepaidAmountByPeriod = repaid
		a.TotalRepaid = fpmath.Add(a.TotalRepaid, repaid)
		a.RepaysCount++
	}
	if !fpmath.IsZero(a.InterestRatePerSec) && fpmath.DailyInterestBound(prev, a.InterestRatePerSec).Cmp(cur) < 0 {
		borrowed := fpmath.Sub(cur, prev)
		a.BorrowedAmountByPeriod = borrowed
		a.TotalBorrowed = fpmath.Add(a.TotalBorrowed, borrowed)
		a.BorrowsCount++
	}
	return nil
}

// FoldPool recomputes the pool's loan book aggregates from the given loans.
func FoldPool(p *state.Pool, loans []*state.Asset) {
	var (
		borrowed, repaid             = new(big.Int), new(big.Int)
		borrowedPeriod, repaidPeriod = new(big.Int), new(big.Int)
		borrows, repays              uint64
	)
	for _, a := range loans {
		borrowed.Add(borrowed, fpmath.OrZero(a.TotalBorrowed))
		repaid.Add(repaid, fpmath.OrZero(a.TotalRepaid))
		borrowedPeriod.Add(borrowedPeriod, fpmath.OrZero(a.BorrowedAmountByPeriod))
		repaidPeriod.Add(repaidPeriod, fpmath.OrZero(a.RepaidAmountByPeriod))
		borrows += a.BorrowsCount
		repays += a.RepaysCount
	}
	FoldDebt(p, loans)
	p.SumBorrowedAmount = borrowed
	p.SumRepaidAmount = repaid
	p.SumBorrowedAmountByPeriod = borrowedPeriod
	p.SumRepaidAmountByPeriod = repaidPeriod
	p.SumBorrowsCount = borrows
	p.SumRepaysCount = repays
}

// FoldDebt sets the pool's outstanding debt and debt-weighted rate from the
// given loans. Cumulative borrow and repay sums are left alone.
func FoldDebt(p *state.Pool, loans []*state.Asset) {
	debt := new(big.Int)
	rates := make([]*big.Int, 0, len(loans))
	weights := make([]*big.Int, 0, len(loans))
	for _, a := range loans {
		if a.IsCash() {
			continue
		}
		debt.Add(debt, fpmath.OrZero(a.OutstandingDebt))
		rates = append(rates, a.InterestRatePerSec)
		weights = append(weights, a.OutstandingDebt)
	}
	p.SumDebt = debt
	p.WeightedAverageInterestRatePerSec = fpmath.WeightedAverage(rates, weights)
}

// RunPass applies one round of observations to the pool's open loans and folds the
// result into the pool. Loans without an observation only have their period reset.
// A data consistency fault aborts the pass before anything is saved.
func (e *Engine) RunPass(ctx context.Context, poolID string, observations map[string]Observation, rates RateTable, ts time.Time) (*state.Pool, error) {
	pool, err := state.LoadPool(ctx, e.store, poolID)
	if err != nil {
		return nil, err
	}
	open, err := state.LoadOpenAssets(ctx, e.store, poolID)
	if err != nil {
		return nil, err
	}

	pool.ResetPeriod()
	loans := make([]*state.Asset, 0, len(open))
	for _, a := range open {
		if a.IsCash() {
			continue
		}
		a.ResetPeriod()
		if obs, ok := observations[a.AssetID]; ok {
			if err := e.ApplyObservation(a, obs, rates, ts); err != nil {
				return nil, fmt.Errorf("accrual pass for pool %s: %w", poolID, err)
			}
		}
		loans = append(loans, a)
	}
	FoldPool(pool, loans)

	for _, a := range loans {
		if err := e.save(ctx, a); err != nil {
			return nil, err
		}
	}
	e.log.Info().Str("pool", poolID).Int("loans", len(loans)).
		Str("sum_debt", pool.SumDebt.String()).Msg("accrual pass")
	return pool, e.save(ctx, pool)
}
