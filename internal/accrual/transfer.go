package accrual

import (
	"context"
	"math/big"

	"PoolLedger/internal/event"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/state"
)

// TransferDebt moves debt between two loans of a pool. Offchain cash legs only move cash;
// the other legs are booked as a repayment of the source and a borrow on the target.
func (e *Engine) TransferDebt(ctx context.Context, ec event.Context, ev *event.LoanDebtTransferred) error {
	repaid := ev.Repaid
	if ec.SpecVersion < SpecVersionTransferInterest {
		repaid.Interest = new(big.Int)
	}
	return e.transfer(ctx, ec, ev.PoolID, ev.FromLoanID, ev.ToLoanID, repaid, ev.Borrowed)
}

// TransferDebtLegacy handles the single-amount variant. External legs are converted to
// quantities at each asset's current price.
func (e *Engine) TransferDebtLegacy(ctx context.Context, ec event.Context, ev *event.LoanDebtTransferredLegacy) error {
	if err := distinctLoans(ev.FromLoanID, ev.ToLoanID); err != nil {
		return err
	}
	from, err := state.LoadAsset(ctx, e.store, ev.PoolID, ev.FromLoanID)
	if err != nil {
		return err
	}
	to, err := state.LoadAsset(ctx, e.store, ev.PoolID, ev.ToLoanID)
	if err != nil {
		return err
	}
	repaid := event.RepaidAmount{
		Principal:   atCurrentPrice(from, ev.Amount),
		Interest:    new(big.Int),
		Unscheduled: new(big.Int),
	}
	return e.transfer(ctx, ec, ev.PoolID, ev.FromLoanID, ev.ToLoanID, repaid, atCurrentPrice(to, ev.Amount))
}

func distinctLoans(fromID, toID string) error {
	if fromID == toID {
		return state.Inconsistent("debt transfer from loan %s to itself", fromID)
	}
	return nil
}

func atCurrentPrice(a *state.Asset, amount *big.Int) event.PrincipalAmount {
	if !a.IsExternallyPriced() || fpmath.IsZero(a.CurrentPrice) {
		return event.PrincipalAmount{Amount: fpmath.Clone(amount)}
	}
	return event.PrincipalAmount{
		Amount:          fpmath.Clone(amount),
		Quantity:        fpmath.DivWad(amount, a.CurrentPrice),
		SettlementPrice: fpmath.Clone(a.CurrentPrice),
	}
}

func (e *Engine) transfer(ctx context.Context, ec event.Context, poolID, fromID, toID string, repaid event.RepaidAmount, borrowed event.PrincipalAmount) error {
	if err := distinctLoans(fromID, toID); err != nil {
		return err
	}
	s, err := e.scope(ctx, poolID)
	if err != nil {
		return err
	}
	from, err := state.LoadAsset(ctx, e.store, poolID, fromID)
	if err != nil {
		return err
	}
	to, err := state.LoadAsset(ctx, e.store, poolID, toID)
	if err != nil {
		return err
	}

	link := func(tx *state.AssetTransaction) *state.AssetTransaction {
		tx.FromAssetID = fromID
		tx.ToAssetID = toID
		return tx
	}

	switch {
	case from.IsOffchainCash() && to.IsOffchainCash():
		tx := link(newTx(ec, s, state.AssetTxCashTransfer, fromID))
		withRepaid(tx, repaid)
		from.DebitCash(repaid.Total())
		to.CreditCash(repaid.Total())
		return e.save(ctx, from, to, tx)

	case to.IsOffchainCash():
		tx := link(newTx(ec, s, state.AssetTxRepaid, fromID))
		if err := e.repayAsset(ctx, ec, s, from, repaid, tx); err != nil {
			return err
		}
		to.CreditCash(repaid.Total())
		return e.save(ctx, from, to, tx, s.pool, s.epoch)

	case from.IsOffchainCash():
		tx := link(newTx(ec, s, state.AssetTxBorrowed, toID))
		if err := e.borrowAsset(ctx, ec, s, to, borrowed, tx); err != nil {
			return err
		}
		from.DebitCash(borrowed.Value())
		return e.save(ctx, from, to, tx, s.pool, s.epoch)
	}

	repayTx := link(newTx(ec, s, state.AssetTxRepaid, fromID))
	if err := e.repayAsset(ctx, ec, s, from, repaid, repayTx); err != nil {
		return err
	}
	borrowTx := link(newTx(ec, s, state.AssetTxBorrowed, toID))
	if err := e.borrowAsset(ctx, ec, s, to, borrowed, borrowTx); err != nil {
		return err
	}
	return e.save(ctx, from, to, repayTx, borrowTx, s.pool, s.epoch)
}
