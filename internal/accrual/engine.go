package accrual

import (
	"context"
	"fmt"
	"math/big"

	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"

	"github.com/rs/zerolog"
)

const (
	// Before this runtime version external loans were priced at their settlement price
	SpecVersionStatePricing = 1025
	// Before this runtime version debt transfers reported no interest
	SpecVersionTransferInterest = 1100
)

// Engine applies loan events to assets and their pool and epoch aggregates.
// It reads and writes through the given store, normally one event's unit of work.
type Engine struct {
	store  persistence.Store
	ledger *ledger.Ledger
	log    zerolog.Logger
}

func NewEngine(store persistence.Store, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		ledger: ledger.New(store),
		log:    logger,
	}
}

// loanScope holds the entities every loan event touches.
type loanScope struct {
	pool  *state.Pool
	epoch *state.Epoch
}

func (e *Engine) scope(ctx context.Context, poolID string) (*loanScope, error) {
	pool, err := state.LoadPool(ctx, e.store, poolID)
	if err != nil {
		return nil, err
	}
	epoch, err := state.LoadCurrentEpoch(ctx, e.store, pool)
	if err != nil {
		return nil, err
	}
	return &loanScope{pool: pool, epoch: epoch}, nil
}

func (e *Engine) save(ctx context.Context, entities ...persistence.Entity) error {
	for _, ent := range entities {
		if err := e.store.Save(ctx, ent); err != nil {
			return fmt.Errorf("save %s %s: %w", ent.EntityName(), ent.EntityID(), err)
		}
	}
	return nil
}

func newTx(ec event.Context, s *loanScope, txType state.AssetTransactionType, assetID string) *state.AssetTransaction {
	hash := ec.Hash()
	return &state.AssetTransaction{
		ID:          state.AssetTransactionKey(hash, s.epoch.Index, txType, assetID),
		Type:        txType,
		PoolID:      s.pool.ID,
		AssetID:     assetID,
		EpochNumber: s.epoch.Index,
		Hash:        hash,
		Timestamp:   ec.Timestamp,
	}
}

func withPrincipal(tx *state.AssetTransaction, amount event.PrincipalAmount) {
	tx.Amount = amount.Value()
	tx.PrincipalAmount = amount.Value()
	if amount.IsExternal() {
		tx.Quantity = fpmath.Clone(amount.Quantity)
		tx.SettlementPrice = fpmath.Clone(amount.SettlementPrice)
	}
}

func withRepaid(tx *state.AssetTransaction, r event.RepaidAmount) {
	withPrincipal(tx, r.Principal)
	tx.Amount = r.Total()
	tx.InterestAmount = fpmath.Clone(r.Interest)
	tx.UnscheduledAmount = fpmath.Clone(r.Unscheduled)
}

func assetLots(a *state.Asset) state.LotKey {
	return state.LotKey{Owner: a.PoolID, Instrument: a.ID}
}

// classify maps on-chain pricing to the asset type and valuation method.
func classify(p event.LoanPricing) (state.AssetType, state.ValuationMethod, error) {
	if !p.Internal {
		return state.AssetTypeOther, state.ValuationOracle, nil
	}
	method := state.ValuationMethod(p.ValuationMethod)
	switch method {
	case state.ValuationCash:
		return state.AssetTypeOffchainCash, method, nil
	case state.ValuationDiscountedCashFlow, state.ValuationOutstandingDebt:
		return state.AssetTypeOther, method, nil
	}
	return "", "", fmt.Errorf("unknown valuation method %q: %w", p.ValuationMethod, state.ErrDataConsistency)
}

// CreateLoan registers a new CREATED asset and counts it on the pool.
func (e *Engine) CreateLoan(ctx context.Context, ec event.Context, ev *event.LoanCreated) (*state.Asset, error) {
	s, err := e.scope(ctx, ev.PoolID)
	if err != nil {
		return nil, err
	}
	assetType, method, err := classify(ev.Pricing)
	if err != nil {
		return nil, err
	}

	asset := state.NewAsset(ev.PoolID, ev.LoanID, assetType, method, ec.Timestamp)
	if ev.CollateralClass != "" || ev.CollateralItem != "" {
		asset.CollateralNftID = fmt.Sprintf("%s-%s", ev.CollateralClass, ev.CollateralItem)
	}
	asset.MaturityDate = ev.MaturityDate
	asset.PriceID = ev.Pricing.PriceID
	asset.Notional = fpmath.Clone(ev.Pricing.Notional)

	tx := newTx(ec, s, state.AssetTxCreated, ev.LoanID)
	s.pool.IncreaseNumberOfAssets()

	e.log.Info().Str("pool", ev.PoolID).Str("loan", ev.LoanID).
		Str("type", string(assetType)).Str("valuation", string(method)).Msg("loan created")
	return asset, e.save(ctx, asset, tx, s.pool)
}

// Borrow draws amount on a loan. Offchain cash only moves cash.
func (e *Engine) Borrow(ctx context.Context, ec event.Context, poolID, loanID string, amount event.PrincipalAmount) error {
	s, err := e.scope(ctx, poolID)
	if err != nil {
		return err
	}
	asset, err := state.LoadAsset(ctx, e.store, poolID, loanID)
	if err != nil {
		return err
	}

	asset.Activate()
	if asset.IsOffchainCash() {
		tx := newTx(ec, s, state.AssetTxCashTransfer, loanID)
		withPrincipal(tx, amount)
		tx.FromAssetID = state.OnchainCashAssetID
		tx.ToAssetID = loanID
		asset.CreditCash(amount.Value())
		return e.save(ctx, asset, tx)
	}

	tx := newTx(ec, s, state.AssetTxBorrowed, loanID)
	if err := e.borrowAsset(ctx, ec, s, asset, amount, tx); err != nil {
		return err
	}
	return e.save(ctx, asset, tx, s.pool, s.epoch)
}

func (e *Engine) borrowAsset(ctx context.Context, ec event.Context, s *loanScope, asset *state.Asset, amount event.PrincipalAmount, tx *state.AssetTransaction) error {
	value := amount.Value()
	asset.Activate()
	asset.Borrow(value)
	withPrincipal(tx, amount)

	if amount.IsExternal() {
		if ec.SpecVersion < SpecVersionStatePricing {
			asset.UpdateCurrentPrice(amount.SettlementPrice)
		}
		asset.IncreaseQuantity(amount.Quantity)
		if _, err := e.ledger.Buy(ctx, assetLots(asset), tx.Hash, ec.Timestamp, amount.Quantity, amount.SettlementPrice); err != nil {
			return fmt.Errorf("buy lot for %s: %w", asset.ID, err)
		}
	}

	s.pool.IncreaseBorrowings(value)
	s.epoch.IncreaseBorrowings(value)
	e.log.Debug().Str("asset", asset.ID).Str("amount", value.String()).Msg("borrowed")
	return nil
}

// Repay books a repayment. Offchain cash only moves cash.
func (e *Engine) Repay(ctx context.Context, ec event.Context, poolID, loanID string, repaid event.RepaidAmount) error {
	s, err := e.scope(ctx, poolID)
	if err != nil {
		return err
	}
	asset, err := state.LoadAsset(ctx, e.store, poolID, loanID)
	if err != nil {
		return err
	}

	if asset.IsOffchainCash() {
		tx := newTx(ec, s, state.AssetTxCashTransfer, loanID)
		withRepaid(tx, repaid)
		tx.FromAssetID = loanID
		tx.ToAssetID = state.OnchainCashAssetID
		asset.DebitCash(repaid.Total())
		return e.save(ctx, asset, tx)
	}

	tx := newTx(ec, s, state.AssetTxRepaid, loanID)
	if err := e.repayAsset(ctx, ec, s, asset, repaid, tx); err != nil {
		return err
	}
	return e.save(ctx, asset, tx, s.pool, s.epoch)
}

func (e *Engine) repayAsset(ctx context.Context, ec event.Context, s *loanScope, asset *state.Asset, repaid event.RepaidAmount, tx *state.AssetTransaction) error {
	total := repaid.Total()
	asset.Repay(total)
	withRepaid(tx, repaid)

	if p := repaid.Principal; p.IsExternal() {
		if ec.SpecVersion < SpecVersionStatePricing {
			asset.UpdateCurrentPrice(p.SettlementPrice)
		}
		asset.DecreaseQuantity(p.Quantity)
		profit, err := e.ledger.SellFIFO(ctx, assetLots(asset), p.Quantity, p.SettlementPrice)
		if err != nil {
			return fmt.Errorf("sell lots of %s: %w", asset.ID, err)
		}
		asset.IncreaseRealizedProfitFifo(profit)
		s.pool.IncreaseRealizedProfitFifo(profit)
		tx.RealizedProfitFifo = profit
	}

	if asset.Status == state.AssetStatusActive && fpmath.IsZero(asset.OutstandingDebt) {
		asset.Close(ec.Timestamp)
	}

	s.pool.IncreaseRepayments(repaid.Principal.Value(), repaid.Interest, repaid.Unscheduled)
	s.epoch.IncreaseRepayments(total)
	e.log.Debug().Str("asset", asset.ID).Str("amount", total.String()).Msg("repaid")
	return nil
}

// WriteOff annotates a loan and adds the newly written off amount to the pool.
func (e *Engine) WriteOff(ctx context.Context, ec event.Context, poolID, loanID string, percentage, penalty *big.Int) error {
	pool, err := state.LoadPool(ctx, e.store, poolID)
	if err != nil {
		return err
	}
	asset, err := state.LoadAsset(ctx, e.store, poolID, loanID)
	if err != nil {
		return err
	}
	delta := asset.WriteOff(percentage, penalty)
	pool.IncreaseWriteOff(delta)
	return e.save(ctx, asset, pool)
}

func (e *Engine) Close(ctx context.Context, ec event.Context, poolID, loanID string) error {
	s, err := e.scope(ctx, poolID)
	if err != nil {
		return err
	}
	asset, err := state.LoadAsset(ctx, e.store, poolID, loanID)
	if err != nil {
		return err
	}
	asset.Close(ec.Timestamp)
	return e.save(ctx, asset, newTx(ec, s, state.AssetTxClosed, loanID))
}

// IncreaseDebt is a correction: it moves quantity but not the borrow totals.
func (e *Engine) IncreaseDebt(ctx context.Context, ec event.Context, poolID, loanID string, amount event.PrincipalAmount) error {
	s, err := e.scope(ctx, poolID)
	if err != nil {
		return err
	}
	asset, err := state.LoadAsset(ctx, e.store, poolID, loanID)
	if err != nil {
		return err
	}
	if amount.IsExternal() {
		asset.IncreaseQuantity(amount.Quantity)
	}
	tx := newTx(ec, s, state.AssetTxIncreaseDebt, loanID)
	withPrincipal(tx, amount)
	return e.save(ctx, asset, tx)
}

// DecreaseDebt is a correction tracked as a plain repayment.
func (e *Engine) DecreaseDebt(ctx context.Context, ec event.Context, poolID, loanID string, repaid event.RepaidAmount) error {
	s, err := e.scope(ctx, poolID)
	if err != nil {
		return err
	}
	asset, err := state.LoadAsset(ctx, e.store, poolID, loanID)
	if err != nil {
		return err
	}

	total := repaid.Total()
	asset.Activate()
	asset.Repay(total)
	if repaid.Principal.IsExternal() {
		asset.DecreaseQuantity(repaid.Principal.Quantity)
	}
	s.pool.IncreaseRepayments(repaid.Principal.Value(), repaid.Interest, repaid.Unscheduled)
	s.epoch.IncreaseRepayments(total)

	tx := newTx(ec, s, state.AssetTxDecreaseDebt, loanID)
	withRepaid(tx, repaid)
	return e.save(ctx, asset, tx, s.pool, s.epoch)
}
