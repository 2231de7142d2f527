package epoch

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/valuation"

	"github.com/rs/zerolog"
)

// Machine drives epochs through OPEN → CLOSED → EXECUTED and applies executions
// to tranches, investor orders and investor lots.
type Machine struct {
	store  persistence.Store
	ledger *ledger.Ledger
	log    zerolog.Logger
}

func New(store persistence.Store, logger zerolog.Logger) *Machine {
	return &Machine{
		store:  store,
		ledger: ledger.New(store),
		log:    logger,
	}
}

func (m *Machine) save(ctx context.Context, entities ...persistence.Entity) error {
	for _, ent := range entities {
		if err := m.store.Save(ctx, ent); err != nil {
			return fmt.Errorf("save %s %s: %w", ent.EntityName(), ent.EntityID(), err)
		}
	}
	return nil
}

// InvestorLots is the FIFO queue of an investor's tokens in a tranche.
func InvestorLots(accountID string, t *state.Tranche) state.LotKey {
	return state.LotKey{Owner: accountID, Instrument: t.ID}
}

// Open creates an OPEN epoch with an empty state per tranche.
func (m *Machine) Open(ctx context.Context, poolID string, index uint64, trancheIDs []string, ts time.Time) (*state.Epoch, error) {
	existing, err := persistence.LoadOrNil[state.Epoch](ctx, m.store, state.EpochKey(poolID, index))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, state.Inconsistent("epoch %s already exists", existing.ID)
	}

	ep := state.NewEpoch(poolID, index, ts)
	if err := m.save(ctx, ep); err != nil {
		return nil, err
	}
	for _, id := range trancheIDs {
		if err := m.save(ctx, state.NewEpochState(poolID, index, id)); err != nil {
			return nil, err
		}
	}
	return ep, nil
}

// Close freezes the epoch and opens the next one for the active tranches.
func (m *Machine) Close(ctx context.Context, ec event.Context, poolID string, index uint64) error {
	pool, err := state.LoadPool(ctx, m.store, poolID)
	if err != nil {
		return err
	}
	ep, err := state.LoadEpoch(ctx, m.store, poolID, index)
	if err != nil {
		return err
	}
	if err := ep.Close(ec.Timestamp); err != nil {
		return err
	}

	tranches, err := state.LoadTranches(ctx, m.store, poolID, true)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(tranches))
	for _, t := range tranches {
		ids = append(ids, t.TrancheID)
	}
	if _, err := m.Open(ctx, poolID, index+1, ids, ec.Timestamp); err != nil {
		return fmt.Errorf("open epoch %d: %w", index+1, err)
	}

	pool.CloseEpoch(index)
	m.log.Info().Str("pool", poolID).Uint64("epoch", index).Msg("epoch closed")
	return m.save(ctx, ep, pool)
}

// executionTotals collects what an execution moved across all tranches.
type executionTotals struct {
	invested *big.Int
	redeemed *big.Int
}

// Execute applies a CLOSED epoch's solution.
func (m *Machine) Execute(ctx context.Context, ec event.Context, ev *event.EpochExecuted) error {
	pool, err := state.LoadPool(ctx, m.store, ev.PoolID)
	if err != nil {
		return err
	}
	ep, err := state.LoadEpoch(ctx, m.store, ev.PoolID, ev.Epoch)
	if err != nil {
		return err
	}
	if err := ep.Execute(ec.Timestamp); err != nil {
		return err
	}
	currency, err := state.LoadCurrency(ctx, m.store, pool.CurrencyID)
	if err != nil {
		return err
	}

	states, err := state.LoadEpochStates(ctx, m.store, ev.PoolID, ev.Epoch)
	if err != nil {
		return err
	}
	next, err := state.LoadEpochStates(ctx, m.store, ev.PoolID, ev.Epoch+1)
	if err != nil {
		return err
	}
	tranches, err := state.LoadTranches(ctx, m.store, ev.PoolID, true)
	if err != nil {
		return err
	}

	solutions := make(map[string]event.TrancheSolution, len(ev.Tranches))
	for _, sol := range ev.Tranches {
		solutions[sol.TrancheID] = sol
	}

	// Validate every tranche before touching any of them.
	for _, t := range tranches {
		if _, ok := states[t.TrancheID]; !ok {
			return state.MissingEntity(state.EntityEpochState, fmt.Sprintf("%s-%s", ep.ID, t.TrancheID))
		}
		sol, ok := solutions[t.TrancheID]
		if !ok {
			return state.Inconsistent("epoch %s has no solution for tranche %s", ep.ID, t.TrancheID)
		}
		if !fpmath.IsPositive(sol.TokenPrice) {
			return state.Inconsistent("epoch %s tranche %s has non-positive token price", ep.ID, t.TrancheID)
		}
	}

	totals := executionTotals{invested: new(big.Int), redeemed: new(big.Int)}
	for _, t := range tranches {
		es, sol := states[t.TrancheID], solutions[t.TrancheID]

		t.UpdatePrice(sol.TokenPrice, ec.BlockNumber)
		es.ApplyFulfillment(sol.TokenPrice, sol.InvestFulfillment, sol.RedeemFulfillment)
		t.ApplyFulfillment(es.SumFulfilledInvestOrders, es.SumFulfilledRedeemOrders)
		if sol.Supply != nil {
			t.Supply = fpmath.Clone(sol.Supply)
		}

		ns, ok := next[t.TrancheID]
		if !ok {
			ns = state.NewEpochState(ev.PoolID, ev.Epoch+1, t.TrancheID)
		}
		// Orders placed while the epoch was closed are already on ns.
		ns.AddOutstandingInvest(es.CarryInvest(), nil)
		ns.AddOutstandingRedeem(es.CarryRedeem(), nil, t.TokenPrice)

		if err := m.executeOrders(ctx, ec, ep.Index, t, es); err != nil {
			return fmt.Errorf("execute orders of tranche %s: %w", t.TrancheID, err)
		}

		totals.invested.Add(totals.invested, es.SumFulfilledInvestOrders)
		totals.redeemed.Add(totals.redeemed, es.SumFulfilledRedeemOrdersCurrency)

		if err := m.save(ctx, t, es, ns); err != nil {
			return err
		}
	}

	fees := fpmath.Clone(ev.PoolFeesPaid)
	ep.SumInvestedAmount = totals.invested
	ep.SumRedeemedAmount = totals.redeemed
	ep.SumPoolFeesPaidAmount = fees

	pool.IncreaseInvestments(totals.invested)
	pool.IncreaseRedemptions(totals.redeemed)
	pool.SetNAV(valuation.TrancheNAV(tranches))
	pool.UpdateNormalizedNAV(currency.Decimals)
	pool.ExecuteEpoch(ev.Epoch)

	cashMoves := []struct {
		txType state.AssetTransactionType
		amount *big.Int
	}{
		{state.AssetTxDepositFromInvestments, totals.invested},
		{state.AssetTxWithdrawalForRedemptions, totals.redeemed},
		{state.AssetTxWithdrawalForFees, fees},
	}
	for _, mv := range cashMoves {
		if fpmath.IsZero(mv.amount) {
			continue
		}
		if err := m.save(ctx, cashTransaction(ec, pool, ep, mv.txType, mv.amount)); err != nil {
			return err
		}
	}

	snapshot := state.SnapshotOf(pool, fmt.Sprintf("epoch-%d", ev.Epoch), ec.BlockNumber, ec.Timestamp)
	m.log.Info().Str("pool", ev.PoolID).Uint64("epoch", ev.Epoch).
		Str("invested", totals.invested.String()).Str("redeemed", totals.redeemed.String()).
		Str("nav", pool.NetAssetValue.String()).Msg("epoch executed")
	return m.save(ctx, ep, pool, snapshot)
}

func cashTransaction(ec event.Context, p *state.Pool, ep *state.Epoch, txType state.AssetTransactionType, amount *big.Int) *state.AssetTransaction {
	hash := ec.Hash()
	return &state.AssetTransaction{
		ID:          state.AssetTransactionKey(hash, ep.Index, txType, state.OnchainCashAssetID),
		Type:        txType,
		PoolID:      p.ID,
		AssetID:     state.OnchainCashAssetID,
		EpochNumber: ep.Index,
		Hash:        hash,
		Timestamp:   ec.Timestamp,
		Amount:      fpmath.Clone(amount),
	}
}

// executeOrders applies the tranche's fulfillment fractions to every order
// placed up to epoch index. Every such order sees the same fractions.
func (m *Machine) executeOrders(ctx context.Context, ec event.Context, index uint64, t *state.Tranche, es *state.EpochState) error {
	orders, err := persistence.FindAll[state.OutstandingOrder](ctx, m.store,
		persistence.Eq("pool_id", t.PoolID),
		persistence.Eq("tranche_id", t.TrancheID),
	)
	if err != nil {
		return err
	}

	price := t.TokenPrice
	for _, o := range orders {
		if o.EpochNumber > index {
			continue
		}
		invested := fpmath.ApplyFraction(o.InvestAmount, es.InvestFulfillmentPercentage)
		if fpmath.IsPositive(invested) {
			tokens := fpmath.DivWad(invested, price)
			tx := m.investorTx(ec, index, o, t, state.InvestorTxExecuteInvest)
			tx.CurrencyAmount = invested
			tx.TokenAmount = tokens
			if _, err := m.ledger.Buy(ctx, InvestorLots(o.AccountID, t), ec.Hash(), ec.Timestamp, tokens, price); err != nil {
				return err
			}
			o.UpdateUnfulfilledInvest(invested)
			if err := m.save(ctx, tx); err != nil {
				return err
			}
		}

		redeemed := fpmath.ApplyFraction(o.RedeemAmount, es.RedeemFulfillmentPercentage)
		if fpmath.IsPositive(redeemed) {
			tx := m.investorTx(ec, index, o, t, state.InvestorTxExecuteRedeem)
			tx.TokenAmount = redeemed
			tx.CurrencyAmount = fpmath.MulWad(redeemed, price)
			profit, err := m.ledger.SellFIFO(ctx, InvestorLots(o.AccountID, t), redeemed, price)
			if err != nil {
				return err
			}
			tx.RealizedProfitFifo = profit
			o.UpdateUnfulfilledRedeem(redeemed)
			if err := m.save(ctx, tx); err != nil {
				return err
			}
		}

		if o.IsSettled() {
			if err := m.store.Remove(ctx, o.EntityName(), o.ID); err != nil {
				return err
			}
			continue
		}
		if err := m.save(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) investorTx(ec event.Context, index uint64, o *state.OutstandingOrder, t *state.Tranche, txType state.InvestorTransactionType) *state.InvestorTransaction {
	hash := ec.Hash()
	return &state.InvestorTransaction{
		ID:          state.InvestorTransactionKey(hash, o.AccountID, t.TrancheID, index, txType),
		Type:        txType,
		PoolID:      t.PoolID,
		TrancheID:   t.TrancheID,
		AccountID:   o.AccountID,
		EpochNumber: index,
		Hash:        hash,
		Timestamp:   ec.Timestamp,
		TokenPrice:  fpmath.Clone(t.TokenPrice),
	}
}
