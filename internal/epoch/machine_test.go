package epoch_test

import (
	"context"
	"math/big"
	"testing"

	"PoolLedger/internal/epoch"
	"PoolLedger/internal/event"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolID = "pool-1"

var half = new(big.Int).Quo(fpmath.Wad, big.NewInt(2))

func setup(t *testing.T) (*persistence.MemoryStore, *epoch.Machine) {
	t.Helper()
	store := persistence.NewMemoryStore()
	testutil.SeedPool(t, store, poolID, "junior", "senior")
	return store, epoch.New(store, zerolog.Nop())
}

func submit(t *testing.T, m *epoch.Machine, block uint64, side epoch.Side, account string, amount *big.Int) {
	t.Helper()
	require.NoError(t, m.SubmitOrder(context.Background(), testutil.Ctx(block, testutil.Epoch0), epoch.OrderUpdate{
		PoolID: poolID, TrancheID: "senior", AccountID: account, Side: side, Amount: amount,
	}))
}

func solve(index uint64, price, invest, redeem *big.Int) *event.EpochExecuted {
	zero := new(big.Int)
	return &event.EpochExecuted{
		PoolID: poolID,
		Epoch:  index,
		Tranches: []event.TrancheSolution{
			{TrancheID: "junior", TokenPrice: fpmath.Wad, InvestFulfillment: zero, RedeemFulfillment: zero},
			{TrancheID: "senior", TokenPrice: price, InvestFulfillment: invest, RedeemFulfillment: redeem},
		},
	}
}

func order(t *testing.T, s persistence.Store, account string) *state.OutstandingOrder {
	t.Helper()
	o, err := persistence.LoadOrNil[state.OutstandingOrder](context.Background(), s, state.OutstandingOrderKey(poolID, "senior", account))
	require.NoError(t, err)
	return o
}

func epochState(t *testing.T, s persistence.Store, index uint64) *state.EpochState {
	t.Helper()
	states, err := state.LoadEpochStates(context.Background(), s, poolID, index)
	require.NoError(t, err)
	require.Contains(t, states, "senior")
	return states["senior"]
}

func investorTxs(t *testing.T, s persistence.Store, txType state.InvestorTransactionType) map[string]*state.InvestorTransaction {
	t.Helper()
	txs, err := persistence.FindAll[state.InvestorTransaction](context.Background(), s, persistence.Eq("type", string(txType)))
	require.NoError(t, err)
	byAccount := make(map[string]*state.InvestorTransaction, len(txs))
	for _, tx := range txs {
		byAccount[tx.AccountID] = tx
	}
	return byAccount
}

func TestSubmitOrderAdjustsOutstandingByDelta(t *testing.T) {
	store, m := setup(t)
	submit(t, m, 2, epoch.SideInvest, "alice", big.NewInt(100))
	submit(t, m, 3, epoch.SideInvest, "bob", big.NewInt(200))
	submit(t, m, 4, epoch.SideInvest, "alice", big.NewInt(70))

	assert.Equal(t, "270", epochState(t, store, 1).SumOutstandingInvestOrders.String())
	assert.Equal(t, "70", order(t, store, "alice").InvestAmount.String())

	submit(t, m, 5, epoch.SideInvest, "alice", new(big.Int))
	assert.Nil(t, order(t, store, "alice"))
	assert.Equal(t, "200", epochState(t, store, 1).SumOutstandingInvestOrders.String())
	assert.Len(t, investorTxs(t, store, state.InvestorTxInvestOrder), 2)
}

func TestProportionalFulfillmentCarriesRemainder(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t)
	submit(t, m, 2, epoch.SideInvest, "alice", big.NewInt(100))
	submit(t, m, 3, epoch.SideInvest, "bob", big.NewInt(200))

	require.NoError(t, m.Close(ctx, testutil.Ctx(10, testutil.Epoch0), poolID, 1))
	p, err := state.LoadPool(ctx, store, poolID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.LastEpochClosed)
	assert.EqualValues(t, 2, p.CurrentEpoch)

	require.NoError(t, m.Execute(ctx, testutil.Ctx(11, testutil.Epoch0), solve(1, fpmath.Wad, half, new(big.Int))))

	executed := investorTxs(t, store, state.InvestorTxExecuteInvest)
	require.Len(t, executed, 2)
	assert.Equal(t, "50", executed["alice"].CurrencyAmount.String())
	assert.Equal(t, "100", executed["bob"].CurrencyAmount.String())
	assert.Equal(t, "50", order(t, store, "alice").InvestAmount.String())
	assert.Equal(t, "100", order(t, store, "bob").InvestAmount.String())

	this := epochState(t, store, 1)
	next := epochState(t, store, 2)
	assert.Equal(t, "150", this.SumFulfilledInvestOrders.String())
	assert.Equal(t,
		fpmath.Sub(this.SumOutstandingInvestOrders, this.SumFulfilledInvestOrders).String(),
		next.SumOutstandingInvestOrders.String())
	assert.Equal(t, "0", next.SumOutstandingRedeemOrders.String())

	senior, err := state.LoadTranche(ctx, store, poolID, "senior")
	require.NoError(t, err)
	assert.Equal(t, "150", senior.Supply.String())

	p, err = state.LoadPool(ctx, store, poolID)
	require.NoError(t, err)
	assert.Equal(t, "150", p.SumInvestedAmount.String())
	assert.Equal(t, "150", p.NetAssetValue.String())
	assert.Equal(t, "0", p.NormalizedNAV.String())
	assert.EqualValues(t, 1, p.LastEpochExecuted)

	ep, err := state.LoadEpoch(ctx, store, poolID, 1)
	require.NoError(t, err)
	assert.Equal(t, state.EpochStatusExecuted, ep.Status)
	assert.Equal(t, "150", ep.SumInvestedAmount.String())

	lots, err := persistence.FindAll[state.PositionLot](ctx, store, persistence.Eq("owner", "alice"))
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "50", lots[0].Quantity.String())

	_, err = persistence.Load[state.PoolSnapshot](ctx, store, poolID+"-epoch-1")
	require.NoError(t, err)
}

func TestRedeemRealizesProfitAndMovesCash(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t)

	submit(t, m, 2, epoch.SideInvest, "alice", testutil.Wad(1000))
	require.NoError(t, m.Close(ctx, testutil.Ctx(3, testutil.Epoch0), poolID, 1))
	require.NoError(t, m.Execute(ctx, testutil.Ctx(4, testutil.Epoch0), solve(1, fpmath.Wad, fpmath.Wad, new(big.Int))))
	assert.Nil(t, order(t, store, "alice"))

	submit(t, m, 5, epoch.SideRedeem, "alice", testutil.Wad(400))
	require.NoError(t, m.Close(ctx, testutil.Ctx(6, testutil.Epoch0), poolID, 2))
	price := fpmath.MustParse("1500000000000000000")
	ev := solve(2, price, new(big.Int), fpmath.Wad)
	ev.PoolFeesPaid = big.NewInt(5)
	require.NoError(t, m.Execute(ctx, testutil.Ctx(7, testutil.Epoch0.Add(1)), ev))

	redeemed := investorTxs(t, store, state.InvestorTxExecuteRedeem)
	require.Contains(t, redeemed, "alice")
	assert.Equal(t, testutil.Wad(600).String(), redeemed["alice"].CurrencyAmount.String())
	assert.Equal(t, testutil.Wad(200).String(), redeemed["alice"].RealizedProfitFifo.String())

	p, err := state.LoadPool(ctx, store, poolID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Wad(600).String(), p.SumRedeemedAmount.String())
	senior, err := state.LoadTranche(ctx, store, poolID, "senior")
	require.NoError(t, err)
	assert.Equal(t, testutil.Wad(600).String(), senior.Supply.String())
	assert.Equal(t, testutil.Wad(900).String(), p.NetAssetValue.String())
	assert.Equal(t, "900000000", p.NormalizedNAV.String())

	cash, err := persistence.FindAll[state.AssetTransaction](ctx, store, persistence.Eq("asset_id", state.OnchainCashAssetID))
	require.NoError(t, err)
	types := map[state.AssetTransactionType]string{}
	for _, tx := range cash {
		types[tx.Type] = tx.Amount.String()
	}
	assert.Equal(t, map[state.AssetTransactionType]string{
		state.AssetTxDepositFromInvestments:   testutil.Wad(1000).String(),
		state.AssetTxWithdrawalForRedemptions: testutil.Wad(600).String(),
		state.AssetTxWithdrawalForFees:        "5",
	}, types)
}

func TestExecuteUsesReportedSupply(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t)
	require.NoError(t, m.Close(ctx, testutil.Ctx(2, testutil.Epoch0), poolID, 1))

	ev := solve(1, fpmath.Wad, new(big.Int), new(big.Int))
	ev.Tranches[1].Supply = big.NewInt(777)
	require.NoError(t, m.Execute(ctx, testutil.Ctx(3, testutil.Epoch0), ev))

	senior, err := state.LoadTranche(ctx, store, poolID, "senior")
	require.NoError(t, err)
	assert.Equal(t, "777", senior.Supply.String())
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	_, m := setup(t)

	err := m.Execute(ctx, testutil.Ctx(2, testutil.Epoch0), solve(1, fpmath.Wad, half, half))
	assert.ErrorIs(t, err, state.ErrDataConsistency, "execute while open")

	require.NoError(t, m.Close(ctx, testutil.Ctx(3, testutil.Epoch0), poolID, 1))
	err = m.Close(ctx, testutil.Ctx(4, testutil.Epoch0), poolID, 1)
	assert.ErrorIs(t, err, state.ErrDataConsistency, "close twice")

	err = m.Close(ctx, testutil.Ctx(5, testutil.Epoch0), poolID, 9)
	assert.ErrorIs(t, err, state.ErrMissingEntity)
}

func TestExecuteWithoutSolutionForTranche(t *testing.T) {
	ctx := context.Background()
	_, m := setup(t)
	require.NoError(t, m.Close(ctx, testutil.Ctx(2, testutil.Epoch0), poolID, 1))

	ev := solve(1, fpmath.Wad, half, half)
	ev.Tranches = ev.Tranches[:1]
	assert.ErrorIs(t, m.Execute(ctx, testutil.Ctx(3, testutil.Epoch0), ev), state.ErrDataConsistency)
}

func TestOrdersPlacedWhileClosedJoinNextEpoch(t *testing.T) {
	ctx := context.Background()
	store, m := setup(t)
	submit(t, m, 2, epoch.SideInvest, "alice", big.NewInt(100))
	require.NoError(t, m.Close(ctx, testutil.Ctx(3, testutil.Epoch0), poolID, 1))
	submit(t, m, 4, epoch.SideInvest, "bob", big.NewInt(200))
	assert.Equal(t, "200", epochState(t, store, 2).SumOutstandingInvestOrders.String())

	require.NoError(t, m.Execute(ctx, testutil.Ctx(5, testutil.Epoch0), solve(1, fpmath.Wad, half, new(big.Int))))

	assert.Equal(t, "50", epochState(t, store, 1).SumFulfilledInvestOrders.String())
	assert.Equal(t, "250", epochState(t, store, 2).SumOutstandingInvestOrders.String())
	assert.Equal(t, "50", order(t, store, "alice").InvestAmount.String())
	assert.Equal(t, "200", order(t, store, "bob").InvestAmount.String())

	executed := investorTxs(t, store, state.InvestorTxExecuteInvest)
	require.Len(t, executed, 1)
	assert.Contains(t, executed, "alice")
}

func TestExecuteRejectsNonPositivePrice(t *testing.T) {
	for name, price := range map[string]*big.Int{
		"missing":  nil,
		"zero":     new(big.Int),
		"negative": big.NewInt(-1),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, m := setup(t)
			submit(t, m, 2, epoch.SideInvest, "alice", big.NewInt(100))
			require.NoError(t, m.Close(ctx, testutil.Ctx(3, testutil.Epoch0), poolID, 1))

			err := m.Execute(ctx, testutil.Ctx(4, testutil.Epoch0), solve(1, price, half, new(big.Int)))
			require.ErrorIs(t, err, state.ErrDataConsistency)

			assert.Equal(t, "100", order(t, store, "alice").InvestAmount.String())
			assert.Empty(t, investorTxs(t, store, state.InvestorTxExecuteInvest))
			junior, err := state.LoadTranche(ctx, store, poolID, "junior")
			require.NoError(t, err)
			assert.Zero(t, fpmath.OrZero(junior.Supply).Sign())
		})
	}
}
