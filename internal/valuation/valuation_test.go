package valuation_test

import (
	"context"
	"math/big"
	"testing"

	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/testutil"
	"PoolLedger/internal/valuation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loan(id string, assetType state.AssetType, status state.AssetStatus, debt int64) *state.Asset {
	a := state.NewAsset("pool-1", id, assetType, state.ValuationOutstandingDebt, testutil.Epoch0)
	a.Status = status
	a.OutstandingDebt = big.NewInt(debt)
	return a
}

func TestPortfolioAndCashSums(t *testing.T) {
	assets := []*state.Asset{
		loan("1", state.AssetTypeOther, state.AssetStatusActive, 100),
		loan("2", state.AssetTypeOther, state.AssetStatusCreated, 999),
		loan("3", state.AssetTypeOther, state.AssetStatusClosed, 999),
		loan("4", state.AssetTypeOffchainCash, state.AssetStatusActive, 40),
		loan("5", state.AssetTypeOther, state.AssetStatusActive, 60),
		loan("0", state.AssetTypeCash, state.AssetStatusActive, 999),
	}
	assert.Equal(t, "160", valuation.PortfolioValuation(assets).String())
	assert.Equal(t, "40", valuation.OffchainCash(assets).String())
	assert.Equal(t, "0", valuation.PortfolioValuation(nil).String())
}

func TestNetAssetValue(t *testing.T) {
	nav := valuation.NetAssetValue(big.NewInt(1000), big.NewInt(200), big.NewInt(50), big.NewInt(25))
	assert.Equal(t, "1225", nav.String())
	assert.Equal(t, "300", valuation.NetAssetValue(big.NewInt(300), nil, nil, nil).String())
}

func TestTrancheNAV(t *testing.T) {
	junior := state.NewTranche("pool-1", "junior", 0, testutil.Epoch0)
	junior.Supply = testutil.Wad(100)
	junior.TokenPrice = fpmath.MustParse("1100000000000000000")
	senior := state.NewTranche("pool-1", "senior", 1, testutil.Epoch0)
	senior.Supply = testutil.Wad(300)

	assert.Equal(t, testutil.Wad(410).String(), valuation.TrancheNAV([]*state.Tranche{junior, senior}).String())
}

func TestNormalizeTruncates(t *testing.T) {
	tests := []struct {
		nav      string
		decimals int
		want     string
	}{
		{"1999999999999999999", 6, "1999999"},
		{"1000000000000000000", 18, "1000000000000000000"},
		{"123", 6, "0"},
		{"5", 20, "500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, valuation.Normalize(fpmath.MustParse(tt.nav), tt.decimals).String(), tt.nav)
	}
}

func TestAggregatorRevalue(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	p := testutil.SeedPool(t, store, "pool-1", "junior", "senior")
	for _, a := range []*state.Asset{
		loan("1", state.AssetTypeOther, state.AssetStatusActive, 5_000_000),
		loan("2", state.AssetTypeOffchainCash, state.AssetStatusActive, 1_000_000),
		loan("3", state.AssetTypeOther, state.AssetStatusClosed, 7_000_000),
	} {
		require.NoError(t, store.Save(ctx, a))
	}
	p.TotalReserve = big.NewInt(2_000_000)
	p.SumPoolFeesPendingAmount = big.NewInt(500_000)

	require.NoError(t, valuation.NewAggregator(store, zerolog.Nop()).Revalue(ctx, p))
	assert.Equal(t, "5000000", p.PortfolioValuation.String())
	assert.Equal(t, "1000000", p.OffchainCashValue.String())
	assert.Equal(t, "7500000", p.NetAssetValue.String())
	assert.Equal(t, "0", p.NormalizedNAV.String())
}
