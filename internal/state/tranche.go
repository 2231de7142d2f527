package state

import (
	"fmt"
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
)

const EntityTranche = "tranche"

const (
	TrancheIndexJunior = 0
	TrancheIndexSenior = 1
)

// Tranche is a ranked slice of a pool. Index 0 is the most junior.
type Tranche struct {
	ID        string `json:"id"`
	PoolID    string `json:"pool_id"`
	TrancheID string `json:"tranche_id"`
	Index     int    `json:"index"`
	IsActive  bool   `json:"is_active"`

	TokenPrice *big.Int `json:"token_price"`
	Supply     *big.Int `json:"supply"`
	Debt       *big.Int `json:"debt"`

	// Fixed per-second rate, set for the senior tranche of legacy pools only
	InterestRatePerSec *big.Int `json:"interest_rate_per_sec,omitempty"`

	SumFulfilledInvestOrders *big.Int `json:"sum_fulfilled_invest_orders"`
	SumFulfilledRedeemOrders *big.Int `json:"sum_fulfilled_redeem_orders"`

	PriceUpdatedAtBlock uint64    `json:"price_updated_at_block"`
	CreatedAt           time.Time `json:"created_at"`
}

func (t *Tranche) EntityName() string { return EntityTranche }
func (t *Tranche) EntityID() string   { return t.ID }

func TrancheKey(poolID, trancheID string) string {
	return fmt.Sprintf("%s-%s", poolID, trancheID)
}

// NewTranche seeds an active tranche priced at 1.0.
func NewTranche(poolID, trancheID string, index int, ts time.Time) *Tranche {
	return &Tranche{
		ID:                       TrancheKey(poolID, trancheID),
		PoolID:                   poolID,
		TrancheID:                trancheID,
		Index:                    index,
		IsActive:                 true,
		TokenPrice:               fpmath.Clone(fpmath.Wad),
		Supply:                   new(big.Int),
		Debt:                     new(big.Int),
		SumFulfilledInvestOrders: new(big.Int),
		SumFulfilledRedeemOrders: new(big.Int),
		CreatedAt:                ts,
	}
}

func (t *Tranche) UpdatePrice(price *big.Int, block uint64) {
	t.TokenPrice = fpmath.Clone(price)
	t.PriceUpdatedAtBlock = block
}

// ApplyFulfillment adjusts supply by executed invest (minted) and redeem (burned) token amounts.
func (t *Tranche) ApplyFulfillment(investCurrency, redeemTokens *big.Int) {
	t.SumFulfilledInvestOrders = fpmath.Add(t.SumFulfilledInvestOrders, investCurrency)
	t.SumFulfilledRedeemOrders = fpmath.Add(t.SumFulfilledRedeemOrders, redeemTokens)
	minted := fpmath.DivWad(investCurrency, t.TokenPrice)
	t.Supply = fpmath.Max0(fpmath.Sub(fpmath.Add(t.Supply, minted), redeemTokens))
}

// PartialNAV is supply * price / WAD.
func (t *Tranche) PartialNAV() *big.Int {
	return fpmath.MulWad(t.Supply, t.TokenPrice)
}

func (t *Tranche) Deactivate() { t.IsActive = false }
func (t *Tranche) Activate()   { t.IsActive = true }
