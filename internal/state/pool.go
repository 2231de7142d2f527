package state

import (
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
)

const EntityPool = "pool"

// Pool is the aggregate root for tranches, epochs and assets.
type Pool struct {
	ID         string `json:"id"`
	ChainID    string `json:"chain_id"`
	CurrencyID string `json:"currency_id"`
	Metadata   string `json:"metadata,omitempty"`

	IsActive  bool       `json:"is_active"`
	IsClosed  bool       `json:"is_closed"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	CreatedAtBlock uint64 `json:"created_at_block"`

	MaxReserve   *big.Int `json:"max_reserve"`
	MaxNavAge    uint64   `json:"max_nav_age"`
	MinEpochTime uint64   `json:"min_epoch_time"`

	CurrentEpoch      uint64 `json:"current_epoch"`
	LastEpochClosed   uint64 `json:"last_epoch_closed"`
	LastEpochExecuted uint64 `json:"last_epoch_executed"`

	// Loan book aggregates, recomputed by a full fold over open loans
	SumDebt                           *big.Int `json:"sum_debt"`
	SumBorrowedAmount                 *big.Int `json:"sum_borrowed_amount"`
	SumBorrowedAmountByPeriod         *big.Int `json:"sum_borrowed_amount_by_period"`
	SumRepaidAmount                   *big.Int `json:"sum_repaid_amount"`
	SumRepaidAmountByPeriod           *big.Int `json:"sum_repaid_amount_by_period"`
	SumPrincipalRepaidAmount          *big.Int `json:"sum_principal_repaid_amount"`
	SumInterestRepaidAmount           *big.Int `json:"sum_interest_repaid_amount"`
	SumUnscheduledRepaidAmount        *big.Int `json:"sum_unscheduled_repaid_amount"`
	SumBorrowsCount                   uint64   `json:"sum_borrows_count"`
	SumRepaysCount                    uint64   `json:"sum_repays_count"`
	SumWrittenOff                     *big.Int `json:"sum_written_off"`
	WeightedAverageInterestRatePerSec *big.Int `json:"weighted_average_interest_rate_per_sec"`
	NumberOfAssets                    uint64   `json:"number_of_assets"`

	// Valuation
	PortfolioValuation       *big.Int `json:"portfolio_valuation"`
	TotalReserve             *big.Int `json:"total_reserve"`
	OffchainCashValue        *big.Int `json:"offchain_cash_value"`
	SumPoolFeesPendingAmount *big.Int `json:"sum_pool_fees_pending_amount"`
	NetAssetValue            *big.Int `json:"net_asset_value"`
	NormalizedNAV            *big.Int `json:"normalized_nav"`

	// Investor flows
	SumInvestedAmount     *big.Int `json:"sum_invested_amount"`
	SumRedeemedAmount     *big.Int `json:"sum_redeemed_amount"`
	SumRealizedProfitFifo *big.Int `json:"sum_realized_profit_fifo"`
}

func (p *Pool) EntityName() string { return EntityPool }
func (p *Pool) EntityID() string   { return p.ID }

// NewPool seeds an inactive pool with zeroed aggregates.
func NewPool(id, chainID string) *Pool {
	return &Pool{
		ID:                                id,
		ChainID:                           chainID,
		MaxReserve:                        new(big.Int),
		SumDebt:                           new(big.Int),
		SumBorrowedAmount:                 new(big.Int),
		SumBorrowedAmountByPeriod:         new(big.Int),
		SumRepaidAmount:                   new(big.Int),
		SumRepaidAmountByPeriod:           new(big.Int),
		SumPrincipalRepaidAmount:          new(big.Int),
		SumInterestRepaidAmount:           new(big.Int),
		SumUnscheduledRepaidAmount:        new(big.Int),
		SumWrittenOff:                     new(big.Int),
		WeightedAverageInterestRatePerSec: new(big.Int),
		PortfolioValuation:                new(big.Int),
		TotalReserve:                      new(big.Int),
		OffchainCashValue:                 new(big.Int),
		SumPoolFeesPendingAmount:          new(big.Int),
		NetAssetValue:                     new(big.Int),
		NormalizedNAV:                     new(big.Int),
		SumInvestedAmount:                 new(big.Int),
		SumRedeemedAmount:                 new(big.Int),
		SumRealizedProfitFifo:             new(big.Int),
	}
}

// Init activates the pool with its on-chain parameters and opens epoch 1.
func (p *Pool) Init(currencyID string, maxReserve *big.Int, maxNavAge, minEpochTime uint64, ts time.Time, block uint64) {
	p.CurrencyID = currencyID
	p.MaxReserve = fpmath.Clone(maxReserve)
	p.MaxNavAge = maxNavAge
	p.MinEpochTime = minEpochTime
	p.IsActive = true
	p.CreatedAt = ts
	p.CreatedAtBlock = block
	p.CurrentEpoch = 1
}

// CloseEpoch records the closed epoch and advances the counter.
func (p *Pool) CloseEpoch(index uint64) {
	p.LastEpochClosed = index
	p.CurrentEpoch = index + 1
}

func (p *Pool) ExecuteEpoch(index uint64) {
	p.LastEpochExecuted = index
}

func (p *Pool) IncreaseInvestments(amount *big.Int) {
	p.SumInvestedAmount = fpmath.Add(p.SumInvestedAmount, amount)
}

func (p *Pool) IncreaseRedemptions(amount *big.Int) {
	p.SumRedeemedAmount = fpmath.Add(p.SumRedeemedAmount, amount)
}

func (p *Pool) IncreaseBorrowings(amount *big.Int) {
	p.SumBorrowedAmount = fpmath.Add(p.SumBorrowedAmount, amount)
	p.SumBorrowedAmountByPeriod = fpmath.Add(p.SumBorrowedAmountByPeriod, amount)
	p.SumBorrowsCount++
}

// IncreaseRepayments books a repayment split into principal, interest and unscheduled parts.
func (p *Pool) IncreaseRepayments(principal, interest, unscheduled *big.Int) {
	total := fpmath.Sum(principal, interest, unscheduled)
	p.SumRepaidAmount = fpmath.Add(p.SumRepaidAmount, total)
	p.SumRepaidAmountByPeriod = fpmath.Add(p.SumRepaidAmountByPeriod, total)
	p.SumPrincipalRepaidAmount = fpmath.Add(p.SumPrincipalRepaidAmount, principal)
	p.SumInterestRepaidAmount = fpmath.Add(p.SumInterestRepaidAmount, interest)
	p.SumUnscheduledRepaidAmount = fpmath.Add(p.SumUnscheduledRepaidAmount, unscheduled)
	p.SumRepaysCount++
}

func (p *Pool) IncreaseNumberOfAssets() {
	p.NumberOfAssets++
}

func (p *Pool) IncreaseRealizedProfitFifo(profit *big.Int) {
	p.SumRealizedProfitFifo = fpmath.Add(p.SumRealizedProfitFifo, profit)
}

func (p *Pool) IncreaseWriteOff(amount *big.Int) {
	p.SumWrittenOff = fpmath.Add(p.SumWrittenOff, amount)
}

// SetNAV overrides the net asset value, e.g. with the sum of tranche partial NAVs.
func (p *Pool) SetNAV(nav *big.Int) {
	p.NetAssetValue = fpmath.Clone(nav)
}

// UpdateNormalizedNAV rescales the WAD-denominated NAV to the currency precision.
func (p *Pool) UpdateNormalizedNAV(currencyDecimals int) {
	p.NormalizedNAV = fpmath.Rescale(p.NetAssetValue, fpmath.WadDecimals, currencyDecimals)
}

func (p *Pool) Close(ts time.Time) {
	p.IsActive = false
	p.IsClosed = true
	closed := ts
	p.ClosedAt = &closed
}

// ResetPeriod clears the per-period accumulators at the start of an accrual pass.
func (p *Pool) ResetPeriod() {
	p.SumBorrowedAmountByPeriod = new(big.Int)
	p.SumRepaidAmountByPeriod = new(big.Int)
}
