package epoch

import (
	"context"
	"math/big"

	"PoolLedger/internal/event"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
)

type Side int

const (
	SideInvest Side = iota
	SideRedeem
)

func (s Side) String() string {
	if s == SideRedeem {
		return "redeem"
	}
	return "invest"
}

// OrderUpdate sets an investor's total pending amount on one side: currency for
// invests, tokens for redeems.
type OrderUpdate struct {
	PoolID    string
	TrancheID string
	AccountID string
	Side      Side
	Amount    *big.Int
}

// SubmitOrder upserts the investor's order and shifts the current epoch's
// outstanding sums by the change.
func (m *Machine) SubmitOrder(ctx context.Context, ec event.Context, u OrderUpdate) error {
	pool, err := state.LoadPool(ctx, m.store, u.PoolID)
	if err != nil {
		return err
	}
	tranche, err := state.LoadTranche(ctx, m.store, u.PoolID, u.TrancheID)
	if err != nil {
		return err
	}
	states, err := state.LoadEpochStates(ctx, m.store, u.PoolID, pool.CurrentEpoch)
	if err != nil {
		return err
	}
	es, ok := states[u.TrancheID]
	if !ok {
		return state.MissingEntity(state.EntityEpochState, u.TrancheID)
	}

	order, err := persistence.LoadOrNil[state.OutstandingOrder](ctx, m.store, state.OutstandingOrderKey(u.PoolID, u.TrancheID, u.AccountID))
	if err != nil {
		return err
	}
	if order == nil {
		order = state.NewOutstandingOrder(u.PoolID, u.TrancheID, u.AccountID)
	}
	order.Hash = ec.Hash()
	order.EpochNumber = pool.CurrentEpoch
	order.Timestamp = ec.Timestamp

	amount := fpmath.Max0(u.Amount)
	tx := m.investorTx(ec, pool.CurrentEpoch, order, tranche, state.InvestorTxInvestOrder)
	switch u.Side {
	case SideInvest:
		es.AddOutstandingInvest(amount, order.InvestAmount)
		order.InvestAmount = amount
		tx.CurrencyAmount = amount
		tx.TokenAmount = fpmath.DivWad(amount, tranche.TokenPrice)
	case SideRedeem:
		es.AddOutstandingRedeem(amount, order.RedeemAmount, tranche.TokenPrice)
		order.RedeemAmount = amount
		tx = m.investorTx(ec, pool.CurrentEpoch, order, tranche, state.InvestorTxRedeemOrder)
		tx.TokenAmount = amount
		tx.CurrencyAmount = fpmath.MulWad(amount, tranche.TokenPrice)
	}

	m.log.Debug().Str("pool", u.PoolID).Str("tranche", u.TrancheID).Str("account", u.AccountID).
		Str("side", u.Side.String()).Str("amount", amount.String()).Msg("order updated")

	if order.IsSettled() {
		if err := m.store.Remove(ctx, order.EntityName(), order.ID); err != nil {
			return err
		}
		return m.save(ctx, es, tx)
	}
	return m.save(ctx, es, order, tx)
}
