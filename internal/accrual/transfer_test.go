package accrual_test

import (
	"context"
	"math/big"
	"testing"

	"PoolLedger/internal/event"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferDebtBranches(t *testing.T) {
	tests := []struct {
		name         string
		from, to     event.LoanPricing
		wantFromDebt string
		wantToDebt   string
		wantBorrowed string
		wantRepaid   string
		wantTxTypes  []state.AssetTransactionType
	}{
		{
			name: "loan to loan", from: internalDebt, to: internalDebt,
			wantFromDebt: "600", wantToDebt: "400", wantBorrowed: "1400", wantRepaid: "400",
			wantTxTypes: []state.AssetTransactionType{state.AssetTxRepaid, state.AssetTxBorrowed},
		},
		{
			name: "loan to offchain cash", from: internalDebt, to: offchainCash,
			wantFromDebt: "600", wantToDebt: "400", wantBorrowed: "1000", wantRepaid: "400",
			wantTxTypes: []state.AssetTransactionType{state.AssetTxRepaid},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, e := setup(t)
			createLoan(t, e, 2, "a", tt.from)
			createLoan(t, e, 3, "b", tt.to)
			require.NoError(t, e.Borrow(ctx, testutil.Ctx(4, testutil.Epoch0), poolID, "a", amount(1000)))

			err := e.TransferDebt(ctx, testutil.Ctx(5, testutil.Epoch0), &event.LoanDebtTransferred{
				PoolID: poolID, FromLoanID: "a", ToLoanID: "b",
				Repaid:   repaid(400, 0),
				Borrowed: amount(400),
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantFromDebt, asset(t, store, "a").OutstandingDebt.String())
			assert.Equal(t, tt.wantToDebt, asset(t, store, "b").OutstandingDebt.String())
			p := pool(t, store)
			assert.Equal(t, tt.wantBorrowed, p.SumBorrowedAmount.String())
			assert.Equal(t, tt.wantRepaid, p.SumRepaidAmount.String())

			for _, txType := range tt.wantTxTypes {
				txs, err := persistence.FindAll[state.AssetTransaction](ctx, store,
					persistence.Eq("type", string(txType)), persistence.Eq("hash", testutil.Ctx(5, testutil.Epoch0).TxHash))
				require.NoError(t, err)
				require.Len(t, txs, 1, txType)
				assert.Equal(t, "a", txs[0].FromAssetID)
				assert.Equal(t, "b", txs[0].ToAssetID)
			}
		})
	}
}

func TestTransferFromOffchainCashBorrowsTarget(t *testing.T) {
	ctx := context.Background()
	store, e := setup(t)
	createLoan(t, e, 2, "cash", offchainCash)
	createLoan(t, e, 3, "loan", internalDebt)
	require.NoError(t, e.Borrow(ctx, testutil.Ctx(4, testutil.Epoch0), poolID, "cash", amount(1000)))

	require.NoError(t, e.TransferDebt(ctx, testutil.Ctx(5, testutil.Epoch0), &event.LoanDebtTransferred{
		PoolID: poolID, FromLoanID: "cash", ToLoanID: "loan",
		Repaid:   repaid(250, 0),
		Borrowed: amount(250),
	}))

	assert.Equal(t, "750", asset(t, store, "cash").OutstandingDebt.String())
	loan := asset(t, store, "loan")
	assert.Equal(t, "250", loan.OutstandingDebt.String())
	assert.Equal(t, state.AssetStatusActive, loan.Status)
	assert.Equal(t, "250", pool(t, store).SumBorrowedAmount.String())
}

func TestTransferBetweenCashAssets(t *testing.T) {
	ctx := context.Background()
	store, e := setup(t)
	createLoan(t, e, 2, "c1", offchainCash)
	createLoan(t, e, 3, "c2", offchainCash)
	require.NoError(t, e.Borrow(ctx, testutil.Ctx(4, testutil.Epoch0), poolID, "c1", amount(100)))

	require.NoError(t, e.TransferDebt(ctx, testutil.Ctx(5, testutil.Epoch0), &event.LoanDebtTransferred{
		PoolID: poolID, FromLoanID: "c1", ToLoanID: "c2",
		Repaid:   repaid(60, 0),
		Borrowed: amount(60),
	}))

	assert.Equal(t, "40", asset(t, store, "c1").OutstandingDebt.String())
	assert.Equal(t, "60", asset(t, store, "c2").OutstandingDebt.String())
	assert.Equal(t, "0", pool(t, store).SumRepaidAmount.String())
}

func TestTransferInterestDroppedBeforeRuntime1100(t *testing.T) {
	ctx := context.Background()
	store, e := setup(t)
	createLoan(t, e, 2, "a", internalDebt)
	createLoan(t, e, 3, "b", internalDebt)
	require.NoError(t, e.Borrow(ctx, testutil.Ctx(4, testutil.Epoch0), poolID, "a", amount(1000)))

	ec := testutil.Ctx(5, testutil.Epoch0)
	ec.SpecVersion = 1099
	require.NoError(t, e.TransferDebt(ctx, ec, &event.LoanDebtTransferred{
		PoolID: poolID, FromLoanID: "a", ToLoanID: "b",
		Repaid:   repaid(100, 30),
		Borrowed: amount(100),
	}))

	assert.Equal(t, "900", asset(t, store, "a").OutstandingDebt.String())
	assert.Equal(t, "0", pool(t, store).SumInterestRepaidAmount.String())
}

func TestLegacyTransferConvertsAtCurrentPrices(t *testing.T) {
	ctx := context.Background()
	store, e := setup(t)
	createLoan(t, e, 2, "a", oracle)
	createLoan(t, e, 3, "b", oracle)

	// Prices are taken from the settlement price on old runtimes
	old := testutil.Ctx(4, testutil.Epoch0)
	old.SpecVersion = 1000
	require.NoError(t, e.Borrow(ctx, old, poolID, "a", external(10, 100)))
	old = testutil.Ctx(5, testutil.Epoch0)
	old.SpecVersion = 1000
	require.NoError(t, e.Borrow(ctx, old, poolID, "b", external(1, 50)))

	require.NoError(t, e.TransferDebtLegacy(ctx, testutil.Ctx(6, testutil.Epoch0.Add(1)), &event.LoanDebtTransferredLegacy{
		PoolID: poolID, FromLoanID: "a", ToLoanID: "b",
		Amount: testutil.Wad(200),
	}))

	a := asset(t, store, "a")
	b := asset(t, store, "b")
	assert.Equal(t, testutil.Wad(8).String(), a.Quantity.String())
	assert.Equal(t, testutil.Wad(800).String(), a.OutstandingDebt.String())
	assert.Equal(t, "0", a.SumRealizedProfitFifo.String())
	assert.Equal(t, testutil.Wad(5).String(), b.Quantity.String())
	assert.Equal(t, testutil.Wad(250).String(), b.OutstandingDebt.String())

	lots, err := persistence.FindAll[state.PositionLot](ctx, store, persistence.Eq("instrument", b.ID))
	require.NoError(t, err)
	assert.Len(t, lots, 2)
	assert.Equal(t, "0", pool(t, store).SumInterestRepaidAmount.String())
	assert.Equal(t, new(big.Int).String(), pool(t, store).SumUnscheduledRepaidAmount.String())
}

func TestTransferToSameLoanRejected(t *testing.T) {
	ctx := context.Background()
	store, e := setup(t)
	createLoan(t, e, 2, "a", internalDebt)
	require.NoError(t, e.Borrow(ctx, testutil.Ctx(3, testutil.Epoch0), poolID, "a", amount(1000)))

	err := e.TransferDebt(ctx, testutil.Ctx(4, testutil.Epoch0), &event.LoanDebtTransferred{
		PoolID: poolID, FromLoanID: "a", ToLoanID: "a",
		Repaid:   repaid(400, 0),
		Borrowed: amount(400),
	})
	require.ErrorIs(t, err, state.ErrDataConsistency)

	err = e.TransferDebtLegacy(ctx, testutil.Ctx(5, testutil.Epoch0), &event.LoanDebtTransferredLegacy{
		PoolID: poolID, FromLoanID: "a", ToLoanID: "a", Amount: big.NewInt(400),
	})
	require.ErrorIs(t, err, state.ErrDataConsistency)

	assert.Equal(t, "1000", asset(t, store, "a").OutstandingDebt.String())
	assert.Equal(t, "0", pool(t, store).SumRepaidAmount.String())
}
