package valuation

import (
	"context"
	"math/big"

	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"

	"github.com/rs/zerolog"
)

// PortfolioValuation sums the outstanding debt of active non-cash assets.
func PortfolioValuation(assets []*state.Asset) *big.Int {
	total := new(big.Int)
	for _, a := range assets {
		if a.Status != state.AssetStatusActive || a.IsCash() {
			continue
		}
		total.Add(total, fpmath.OrZero(a.OutstandingDebt))
	}
	return total
}

// OffchainCash sums the balance of active offchain cash assets.
func OffchainCash(assets []*state.Asset) *big.Int {
	total := new(big.Int)
	for _, a := range assets {
		if a.Status != state.AssetStatusActive || !a.IsOffchainCash() {
			continue
		}
		total.Add(total, fpmath.OrZero(a.OutstandingDebt))
	}
	return total
}

// NetAssetValue is portfolio + reserve + offchain cash − pending fees.
func NetAssetValue(portfolio, reserve, offchainCash, pendingFees *big.Int) *big.Int {
	return fpmath.Sub(fpmath.Sum(portfolio, reserve, offchainCash), pendingFees)
}

// TrancheNAV sums supply·price/WAD over the tranches.
func TrancheNAV(tranches []*state.Tranche) *big.Int {
	total := new(big.Int)
	for _, t := range tranches {
		total.Add(total, t.PartialNAV())
	}
	return total
}

// Normalize rescales a WAD value to the currency's decimals, truncating.
func Normalize(nav *big.Int, decimals int) *big.Int {
	return fpmath.Rescale(nav, fpmath.WadDecimals, decimals)
}

// Aggregator recomputes a pool's valuation figures from its stored assets.
type Aggregator struct {
	store persistence.Store
	log   zerolog.Logger
}

func NewAggregator(store persistence.Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, log: logger}
}

// Revalue writes portfolio valuation, offchain cash, NAV and normalized NAV onto
// the pool. The reserve is taken as already set on the pool. The caller saves.
func (a *Aggregator) Revalue(ctx context.Context, p *state.Pool) error {
	assets, err := state.LoadOpenAssets(ctx, a.store, p.ID)
	if err != nil {
		return err
	}
	currency, err := state.LoadCurrency(ctx, a.store, p.CurrencyID)
	if err != nil {
		return err
	}

	p.PortfolioValuation = PortfolioValuation(assets)
	p.OffchainCashValue = OffchainCash(assets)
	p.SetNAV(NetAssetValue(p.PortfolioValuation, p.TotalReserve, p.OffchainCashValue, p.SumPoolFeesPendingAmount))
	p.UpdateNormalizedNAV(currency.Decimals)

	a.log.Debug().Str("pool", p.ID).
		Str("portfolio", p.PortfolioValuation.String()).
		Str("nav", p.NetAssetValue.String()).
		Msg("pool revalued")
	return nil
}
