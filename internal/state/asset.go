package state

import (
	"fmt"
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
)

const EntityAsset = "asset"

// OnchainCashAssetID is the asset id of a pool's on-chain reserve.
const OnchainCashAssetID = "0"

type AssetType string

const (
	AssetTypeCash         AssetType = "Cash"
	AssetTypeOffchainCash AssetType = "OffchainCash"
	AssetTypeOther        AssetType = "Other"
)

type ValuationMethod string

const (
	ValuationCash               ValuationMethod = "Cash"
	ValuationDiscountedCashFlow ValuationMethod = "DiscountedCashFlow"
	ValuationOracle             ValuationMethod = "Oracle"
	ValuationOutstandingDebt    ValuationMethod = "OutstandingDebt"
)

type AssetStatus string

const (
	AssetStatusCreated AssetStatus = "CREATED"
	AssetStatusActive  AssetStatus = "ACTIVE"
	AssetStatusClosed  AssetStatus = "CLOSED"
)

// CanTransitionTo validates asset status transitions. An asset never returns to CREATED.
func (s AssetStatus) CanTransitionTo(next AssetStatus) bool {
	validTransitions := map[AssetStatus][]AssetStatus{
		AssetStatusCreated: {AssetStatusActive, AssetStatusClosed},
		AssetStatusActive:  {AssetStatusActive, AssetStatusClosed},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Asset is a loan or a cash position held by a pool.
type Asset struct {
	ID              string          `json:"id"`
	PoolID          string          `json:"pool_id"`
	AssetID         string          `json:"asset_id"`
	AssetType       AssetType       `json:"asset_type"`
	ValuationMethod ValuationMethod `json:"valuation_method"`
	Status          AssetStatus     `json:"status"`
	IsActive        bool            `json:"is_active"`

	CollateralNftID string     `json:"collateral_nft_id,omitempty"`
	MaturityDate    *time.Time `json:"maturity_date,omitempty"`
	Metadata        string     `json:"metadata,omitempty"`

	OutstandingDebt    *big.Int `json:"outstanding_debt"`
	InterestRatePerSec *big.Int `json:"interest_rate_per_sec"`

	TotalBorrowed *big.Int `json:"total_borrowed"`
	TotalRepaid   *big.Int `json:"total_repaid"`

	// Per-period deltas, overwritten by every accrual pass
	BorrowedAmountByPeriod   *big.Int `json:"borrowed_amount_by_period"`
	RepaidAmountByPeriod     *big.Int `json:"repaid_amount_by_period"`
	WrittenOffAmountByPeriod *big.Int `json:"written_off_amount_by_period"`

	BorrowsCount uint64 `json:"borrows_count"`
	RepaysCount  uint64 `json:"repays_count"`

	// Write-off annotation, orthogonal to Status
	WrittenOffPercentage      *big.Int `json:"written_off_percentage"`
	PenaltyInterestRatePerSec *big.Int `json:"penalty_interest_rate_per_sec"`

	// External pricing
	Notional              *big.Int `json:"notional"`
	Quantity              *big.Int `json:"quantity"`
	CurrentPrice          *big.Int `json:"current_price"`
	PriceID               string   `json:"price_id,omitempty"`
	SumRealizedProfitFifo *big.Int `json:"sum_realized_profit_fifo"`

	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func (a *Asset) EntityName() string { return EntityAsset }
func (a *Asset) EntityID() string   { return a.ID }

func AssetKey(poolID, assetID string) string {
	return fmt.Sprintf("%s-%s", poolID, assetID)
}

// NewAsset seeds a CREATED, inactive asset with every accumulator at zero.
func NewAsset(poolID, assetID string, assetType AssetType, method ValuationMethod, ts time.Time) *Asset {
	return &Asset{
		ID:                        AssetKey(poolID, assetID),
		PoolID:                    poolID,
		AssetID:                   assetID,
		AssetType:                 assetType,
		ValuationMethod:           method,
		Status:                    AssetStatusCreated,
		OutstandingDebt:           new(big.Int),
		InterestRatePerSec:        new(big.Int),
		TotalBorrowed:             new(big.Int),
		TotalRepaid:               new(big.Int),
		BorrowedAmountByPeriod:    new(big.Int),
		RepaidAmountByPeriod:      new(big.Int),
		WrittenOffAmountByPeriod:  new(big.Int),
		WrittenOffPercentage:      new(big.Int),
		PenaltyInterestRatePerSec: new(big.Int),
		Notional:                  new(big.Int),
		Quantity:                  new(big.Int),
		CurrentPrice:              new(big.Int),
		SumRealizedProfitFifo:     new(big.Int),
		CreatedAt:                 ts,
	}
}

func (a *Asset) IsOffchainCash() bool { return a.AssetType == AssetTypeOffchainCash }
func (a *Asset) IsCash() bool {
	return a.AssetType == AssetTypeCash || a.AssetType == AssetTypeOffchainCash
}
func (a *Asset) IsClosed() bool { return a.Status == AssetStatusClosed }

// IsExternallyPriced reports whether the asset tracks quantity and price.
func (a *Asset) IsExternallyPriced() bool { return a.ValuationMethod == ValuationOracle }

// Activate moves a CREATED asset to ACTIVE. Closed assets stay closed.
func (a *Asset) Activate() {
	if !a.Status.CanTransitionTo(AssetStatusActive) {
		return
	}
	a.Status = AssetStatusActive
	a.IsActive = true
}

func (a *Asset) Close(ts time.Time) {
	if a.Status == AssetStatusClosed {
		return
	}
	a.Status = AssetStatusClosed
	a.IsActive = false
	closed := ts
	a.ClosedAt = &closed
}

// Borrow increases debt and the running and per-period borrow totals.
func (a *Asset) Borrow(amount *big.Int) {
	a.OutstandingDebt = fpmath.Add(a.OutstandingDebt, amount)
	a.TotalBorrowed = fpmath.Add(a.TotalBorrowed, amount)
	a.BorrowedAmountByPeriod = fpmath.Add(a.BorrowedAmountByPeriod, amount)
	a.BorrowsCount++
}

// Repay decreases debt, floored at zero, and books the full amount as repaid.
func (a *Asset) Repay(amount *big.Int) {
	a.OutstandingDebt = fpmath.Max0(fpmath.Sub(a.OutstandingDebt, amount))
	a.TotalRepaid = fpmath.Add(a.TotalRepaid, amount)
	a.RepaidAmountByPeriod = fpmath.Add(a.RepaidAmountByPeriod, amount)
	a.RepaysCount++
}

// CreditCash moves cash into an offchain cash asset.
func (a *Asset) CreditCash(amount *big.Int) {
	a.OutstandingDebt = fpmath.Add(a.OutstandingDebt, amount)
}

// DebitCash moves cash out of an offchain cash asset, floored at zero.
func (a *Asset) DebitCash(amount *big.Int) {
	a.OutstandingDebt = fpmath.Max0(fpmath.Sub(a.OutstandingDebt, amount))
}

// UpdateCurrentPrice sets the unit price of an externally priced asset.
func (a *Asset) UpdateCurrentPrice(price *big.Int) {
	a.CurrentPrice = fpmath.Clone(price)
}

func (a *Asset) IncreaseQuantity(q *big.Int) {
	a.Quantity = fpmath.Add(a.Quantity, q)
}

func (a *Asset) DecreaseQuantity(q *big.Int) {
	a.Quantity = fpmath.Max0(fpmath.Sub(a.Quantity, q))
}

func (a *Asset) IncreaseRealizedProfitFifo(profit *big.Int) {
	a.SumRealizedProfitFifo = fpmath.Add(a.SumRealizedProfitFifo, profit)
}

// WriteOff annotates the asset and returns the debt amount newly written off.
func (a *Asset) WriteOff(percentage, penaltyRate *big.Int) *big.Int {
	previous := fpmath.ApplyFraction(a.OutstandingDebt, a.WrittenOffPercentage)
	a.WrittenOffPercentage = fpmath.Clone(percentage)
	a.PenaltyInterestRatePerSec = fpmath.Clone(penaltyRate)
	current := fpmath.ApplyFraction(a.OutstandingDebt, percentage)
	delta := fpmath.Sub(current, previous)
	a.WrittenOffAmountByPeriod = fpmath.Add(a.WrittenOffAmountByPeriod, delta)
	return delta
}

// ResetPeriod clears the per-period accumulators.
func (a *Asset) ResetPeriod() {
	a.BorrowedAmountByPeriod = new(big.Int)
	a.RepaidAmountByPeriod = new(big.Int)
	a.WrittenOffAmountByPeriod = new(big.Int)
}
