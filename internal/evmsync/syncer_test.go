package evmsync_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"PoolLedger/internal/evmsync"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/multicall"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	legacyPoolID = "0xf96f18f2c70b57ec864cc0c8b828450b82ff63e3"
	navFeed      = "0x00000000000000000000000000000000000000a1"
	reserve      = "0x00000000000000000000000000000000000000a2"
	assessor     = "0x00000000000000000000000000000000000000a3"
	shelf        = "0x00000000000000000000000000000000000000a4"
	pile         = "0x00000000000000000000000000000000000000a5"
	daiAddress   = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
)

// fakeChain answers multicall batches from in-memory contract state.
type fakeChain struct {
	mu       sync.Mutex
	loans    map[int64]fakeLoan
	nav      *big.Int
	balance  *big.Int
	senior   *big.Int
	junior   *big.Int
	rate     *big.Int
	failPool bool
	batches  int
}

type fakeLoan struct {
	debt   *big.Int
	locked bool
}

var contractABIs = []abi.ABI{evmsync.NavFeedABI, evmsync.ReserveABI, evmsync.AssessorABI, evmsync.ShelfABI, evmsync.PileABI}

func methodByID(sig []byte) (*abi.Method, error) {
	for _, a := range contractABIs {
		if m, err := a.MethodById(sig); err == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown selector %x", sig)
}

func (f *fakeChain) Aggregate(_ context.Context, requests []multicall.Request, _ *big.Int) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++

	out := make([][]byte, 0, len(requests))
	for _, r := range requests {
		m, err := methodByID(r.CallData[:4])
		if err != nil {
			return nil, err
		}
		args, err := m.Inputs.Unpack(r.CallData[4:])
		if err != nil {
			return nil, err
		}
		if f.failPool && (m.Name == "currentNAV" || m.Name == "totalBalance") {
			return nil, errors.New("execution reverted")
		}
		values := f.answer(m.Name, args)
		packed, err := m.Outputs.Pack(values...)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", m.Name, err)
		}
		out = append(out, packed)
	}
	return out, nil
}

func (f *fakeChain) answer(method string, args []any) []any {
	loanArg := func() (int64, fakeLoan, bool) {
		idx := args[0].(*big.Int).Int64()
		l, ok := f.loans[idx]
		return idx, l, ok
	}
	switch method {
	case "currentNAV":
		return []any{f.nav}
	case "totalBalance":
		return []any{f.balance}
	case "calcSeniorTokenPrice":
		return []any{f.senior}
	case "calcJuniorTokenPrice":
		return []any{f.junior}
	case "token":
		idx, _, ok := loanArg()
		if !ok {
			return []any{common.Address{}, new(big.Int)}
		}
		return []any{common.HexToAddress("0x00000000000000000000000000000000000000b0"), big.NewInt(idx)}
	case "nftID":
		idx, _, _ := loanArg()
		var id [32]byte
		id[31] = byte(idx)
		return []any{id}
	case "maturityDate":
		return []any{big.NewInt(testutil.Epoch0.Add(90 * 24 * time.Hour).Unix())}
	case "nftLocked":
		_, l, _ := loanArg()
		return []any{l.locked}
	case "debt":
		_, l, _ := loanArg()
		return []any{fpmath.Clone(l.debt)}
	case "loanRates":
		return []any{big.NewInt(1)}
	case "rates":
		return []any{new(big.Int), new(big.Int), f.rate, new(big.Int), new(big.Int)}
	}
	panic("unexpected method " + method)
}

func one(addr string) evmsync.ContractVersions {
	return evmsync.ContractVersions{{Address: addr, StartBlock: 1}}
}

func registry(closeAfter uint64) evmsync.Registry {
	return evmsync.Registry{
		ChainID:  testutil.ChainID,
		Currency: evmsync.LegacyCurrency{Address: daiAddress, Symbol: "DAI", Decimals: 18},
		Pools: []evmsync.LegacyPool{{
			ID:                 legacyPoolID,
			ShortName:          "ALT 1.0",
			StartBlock:         10,
			SeniorInterestRate: "1000000001585489599188229325",
			CloseAfterBlock:    closeAfter,
			Contracts: evmsync.Contracts{
				NavFeed: one(navFeed), Reserve: one(reserve), Assessor: one(assessor),
				Shelf: one(shelf), Pile: one(pile),
			},
		}},
	}
}

func newChain() *fakeChain {
	return &fakeChain{
		loans: map[int64]fakeLoan{
			1: {debt: testutil.Wad(100), locked: true},
			2: {debt: new(big.Int), locked: true},
		},
		nav:     testutil.Wad(100),
		balance: testutil.Wad(50),
		senior:  testutil.Big("1100000000000000000000000000"),
		junior:  testutil.Big("900000000000000000000000000"),
		rate:    testutil.Big("1000000000000000000000000000"),
	}
}

func newSyncer(chain *fakeChain, reg evmsync.Registry) *evmsync.Syncer {
	agg := multicall.New(chain, multicall.WithBatchSize(2))
	return evmsync.New(reg, agg, evmsync.WithConcurrency(2))
}

func TestContractVersionsAt(t *testing.T) {
	v := evmsync.ContractVersions{
		{Address: "0x00000000000000000000000000000000000000c1", StartBlock: 100},
		{Address: "0x00000000000000000000000000000000000000c3", StartBlock: 300},
		{Address: "0x00000000000000000000000000000000000000c2", StartBlock: 200},
	}
	_, ok := v.At(99)
	assert.False(t, ok)

	addr, ok := v.At(250)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c2"), addr)

	addr, ok = v.At(300)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c3"), addr)

	single := evmsync.ContractVersions{{Address: navFeed, StartBlock: 500}}
	_, ok = single.At(1)
	assert.True(t, ok, "a single deployment applies from any block")
}

func TestRegistryValidate(t *testing.T) {
	require.NoError(t, registry(0).Validate())

	bad := registry(0)
	bad.Pools[0].SeniorInterestRate = "1.5"
	assert.Error(t, bad.Validate())

	dup := registry(0)
	dup.Pools = append(dup.Pools, dup.Pools[0])
	assert.Error(t, dup.Validate())
}

func TestSyncInitializesAndTracksLoans(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	chain := newChain()
	s := newSyncer(chain, registry(0))

	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(20, testutil.Epoch0)))

	pool, err := state.LoadPool(ctx, store, legacyPoolID)
	require.NoError(t, err)
	assert.True(t, pool.IsActive)
	assert.Equal(t, testutil.Wad(100).String(), pool.PortfolioValuation.String())
	assert.Equal(t, testutil.Wad(50).String(), pool.TotalReserve.String())
	assert.Equal(t, testutil.Wad(150).String(), pool.NetAssetValue.String())
	assert.Equal(t, uint64(2), pool.NumberOfAssets)
	assert.Equal(t, testutil.Wad(100).String(), pool.SumDebt.String())

	senior, err := state.LoadTranche(ctx, store, legacyPoolID, evmsync.TrancheSenior)
	require.NoError(t, err)
	assert.Equal(t, 1, senior.Index)
	assert.Equal(t, "1100000000000000000", senior.TokenPrice.String())
	assert.Equal(t, "1000000001585489599188229325", senior.InterestRatePerSec.String())

	_, err = state.LoadEpoch(ctx, store, legacyPoolID, 1)
	require.NoError(t, err)

	loan1, err := state.LoadAsset(ctx, store, legacyPoolID, "1")
	require.NoError(t, err)
	assert.Equal(t, state.AssetStatusActive, loan1.Status)
	assert.Equal(t, state.ValuationDiscountedCashFlow, loan1.ValuationMethod)
	require.NotNil(t, loan1.MaturityDate)
	assert.NotEmpty(t, loan1.CollateralNftID)

	loan2, err := state.LoadAsset(ctx, store, legacyPoolID, "2")
	require.NoError(t, err)
	assert.Equal(t, state.AssetStatusCreated, loan2.Status)

	// Next period: one repayment, nothing new to discover.
	chain.loans[1] = fakeLoan{debt: testutil.Wad(80), locked: true}
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(30, testutil.Epoch0.Add(24*time.Hour))))

	loan1, err = state.LoadAsset(ctx, store, legacyPoolID, "1")
	require.NoError(t, err)
	assert.Equal(t, testutil.Wad(20).String(), loan1.RepaidAmountByPeriod.String())
	assert.Equal(t, uint64(1), loan1.RepaysCount)

	pool, err = state.LoadPool(ctx, store, legacyPoolID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pool.NumberOfAssets)
	assert.Equal(t, testutil.Wad(80).String(), pool.SumDebt.String())
}

func TestSyncClosesUnlockedLoan(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	chain := newChain()
	s := newSyncer(chain, registry(0))
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(20, testutil.Epoch0)))

	chain.loans[1] = fakeLoan{debt: testutil.Wad(100), locked: false}
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(30, testutil.Epoch0.Add(24*time.Hour))))

	loan1, err := state.LoadAsset(ctx, store, legacyPoolID, "1")
	require.NoError(t, err)
	assert.Equal(t, state.AssetStatusClosed, loan1.Status)
}

func TestSyncKeepsPriorValuesOnFailedBatch(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	chain := newChain()
	s := newSyncer(chain, registry(0))
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(20, testutil.Epoch0)))

	chain.failPool = true
	chain.nav = testutil.Wad(1)
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(30, testutil.Epoch0.Add(24*time.Hour))))

	pool, err := state.LoadPool(ctx, store, legacyPoolID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Wad(100).String(), pool.PortfolioValuation.String())
	assert.Equal(t, testutil.Wad(50).String(), pool.TotalReserve.String())
}

func TestSyncClosesPoolAfterConfiguredBlock(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	s := newSyncer(newChain(), registry(100))

	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(20, testutil.Epoch0)))
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(101, testutil.Epoch0.Add(24*time.Hour))))

	pool, err := state.LoadPool(ctx, store, legacyPoolID)
	require.NoError(t, err)
	assert.True(t, pool.IsClosed)
	assert.False(t, pool.IsActive)
	assert.Zero(t, pool.PortfolioValuation.Sign())
	assert.Zero(t, pool.TotalReserve.Sign())
	assert.Zero(t, pool.NetAssetValue.Sign())
}

func TestSyncIgnoresOtherChainsAndEarlyBlocks(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	chain := newChain()
	s := newSyncer(chain, registry(0))

	other := testutil.Ctx(20, testutil.Epoch0)
	other.ChainID = "999"
	require.NoError(t, s.SyncBlock(ctx, store, other))
	require.NoError(t, s.SyncBlock(ctx, store, testutil.Ctx(5, testutil.Epoch0)))

	assert.Zero(t, store.Count(state.EntityPool))
	assert.Zero(t, chain.batches)
}

func TestSyncLegacyPoolUnknownID(t *testing.T) {
	s := newSyncer(newChain(), registry(0))
	err := s.SyncLegacyPool(context.Background(), persistence.NewMemoryStore(), testutil.Ctx(20, testutil.Epoch0), "0xdead")
	assert.True(t, errors.Is(err, state.ErrMissingEntity))
}

func TestManagesConfiguredPoolsOfItsChain(t *testing.T) {
	s := newSyncer(newChain(), registry(0))
	assert.True(t, s.Manages(testutil.ChainID, legacyPoolID))
	assert.True(t, s.Manages(testutil.ChainID, strings.ToUpper(legacyPoolID)))
	assert.False(t, s.Manages("999", legacyPoolID))
	assert.False(t, s.Manages(testutil.ChainID, "0xdead"))
}
