package core

import (
	"context"
	"fmt"
	"strings"

	"PoolLedger/internal/accrual"
	"PoolLedger/internal/epoch"
	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// unit is the per-event handler environment. Every engine in it reads and
// writes through the event's unit of work.
type unit struct {
	store     persistence.Store
	loans     *accrual.Engine
	epochs    *epoch.Machine
	lots      *ledger.Ledger
	ec        event.Context
	newPeriod bool
	log       zerolog.Logger
}

func (p *Processor) newUnit(s persistence.Store, ec event.Context, newPeriod bool) *unit {
	return &unit{
		store:     s,
		loans:     accrual.NewEngine(s, p.log.With().Str("engine", "accrual").Logger()),
		epochs:    epoch.New(s, p.log.With().Str("engine", "epoch").Logger()),
		lots:      ledger.New(s),
		ec:        ec,
		newPeriod: newPeriod,
		log:       p.log,
	}
}

func (u *unit) save(ctx context.Context, entities ...persistence.Entity) error {
	for _, ent := range entities {
		if err := u.store.Save(ctx, ent); err != nil {
			return fmt.Errorf("save %s %s: %w", ent.EntityName(), ent.EntityID(), err)
		}
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, u *unit, evt event.Event) error {
	ec := u.ec
	switch e := evt.(type) {
	case *event.PoolCreated:
		return p.handlePoolCreated(ctx, u, e)
	case *event.PoolUpdated:
		return p.handlePoolUpdated(ctx, u, e)
	case *event.MetadataSet:
		return p.handleMetadataSet(ctx, u, e)
	case *event.EpochClosed:
		return u.epochs.Close(ctx, ec, e.PoolID, e.Epoch)
	case *event.EpochExecuted:
		return u.epochs.Execute(ctx, ec, e)
	case *event.LoanCreated:
		_, err := u.loans.CreateLoan(ctx, ec, e)
		return err
	case *event.LoanBorrowed:
		return u.loans.Borrow(ctx, ec, e.PoolID, e.LoanID, e.Amount)
	case *event.LoanRepaid:
		return u.loans.Repay(ctx, ec, e.PoolID, e.LoanID, e.Amount)
	case *event.LoanWrittenOff:
		return u.loans.WriteOff(ctx, ec, e.PoolID, e.LoanID, e.Percentage, e.Penalty)
	case *event.LoanClosed:
		return u.loans.Close(ctx, ec, e.PoolID, e.LoanID)
	case *event.LoanDebtTransferred:
		return u.loans.TransferDebt(ctx, ec, e)
	case *event.LoanDebtTransferredLegacy:
		return u.loans.TransferDebtLegacy(ctx, ec, e)
	case *event.LoanDebtIncreased:
		return u.loans.IncreaseDebt(ctx, ec, e.PoolID, e.LoanID, e.Amount)
	case *event.LoanDebtDecreased:
		return u.loans.DecreaseDebt(ctx, ec, e.PoolID, e.LoanID, e.Amount)
	case *event.OracleFed:
		return p.handleOracleFed(ctx, u, e)
	case *event.InvestOrderUpdated:
		return u.epochs.SubmitOrder(ctx, ec, epoch.OrderUpdate{
			PoolID: e.PoolID, TrancheID: e.TrancheID, AccountID: e.AccountID, Side: epoch.SideInvest, Amount: e.Amount,
		})
	case *event.RedeemOrderUpdated:
		return u.epochs.SubmitOrder(ctx, ec, epoch.OrderUpdate{
			PoolID: e.PoolID, TrancheID: e.TrancheID, AccountID: e.AccountID, Side: epoch.SideRedeem, Amount: e.Amount,
		})
	case *event.EVMDeployTranche:
		return p.handleDeployTranche(ctx, u, e)
	case *event.EVMTransfer:
		return p.handleTransfer(ctx, u, e)
	case *event.BlockTick:
		return p.handleBlockTick(ctx, u)
	default:
		return fmt.Errorf("%w: unknown event type %T", ErrInvalidEvent, evt)
	}
}

// --- Pools ---

func (p *Processor) handlePoolCreated(ctx context.Context, u *unit, e *event.PoolCreated) error {
	ec := u.ec
	existing, err := persistence.LoadOrNil[state.Pool](ctx, u.store, e.PoolID)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsActive {
		return state.Inconsistent("pool %s already created", e.PoolID)
	}

	currencyID := state.CurrencyKey(ec.ChainID, e.CurrencyID)
	currency, err := persistence.LoadOrNil[state.Currency](ctx, u.store, currencyID)
	if err != nil {
		return err
	}
	if currency == nil {
		currency = &state.Currency{ID: currencyID, ChainID: ec.ChainID, Symbol: e.CurrencySymbol, Decimals: e.CurrencyDecimals}
	}

	pool := state.NewPool(e.PoolID, ec.ChainID)
	pool.Init(currencyID, e.MaxReserve, e.MaxNavAge, e.MinEpochTime, ec.Timestamp, ec.BlockNumber)

	ids := make([]string, 0, len(e.Tranches))
	for i, tp := range e.Tranches {
		t := state.NewTranche(e.PoolID, tp.TrancheID, i, ec.Timestamp)
		applyTrancheParams(t, tp, ec.BlockNumber)
		if err := u.save(ctx, t); err != nil {
			return err
		}
		ids = append(ids, tp.TrancheID)
	}

	if _, err := u.epochs.Open(ctx, e.PoolID, pool.CurrentEpoch, ids, ec.Timestamp); err != nil {
		return err
	}

	cash := state.NewAsset(e.PoolID, state.OnchainCashAssetID, state.AssetTypeCash, state.ValuationCash, ec.Timestamp)
	cash.Activate()

	u.log.Info().Str("pool", e.PoolID).Str("currency", currencyID).Int("tranches", len(ids)).
		Uint64("block", ec.BlockNumber).Msg("pool created")
	return u.save(ctx, currency, pool, cash)
}

func applyTrancheParams(t *state.Tranche, tp event.TrancheParams, block uint64) {
	if tp.TokenPrice != nil {
		t.UpdatePrice(tp.TokenPrice, block)
	}
	if tp.Supply != nil {
		t.Supply = fpmath.Clone(tp.Supply)
	}
	if tp.InterestRatePerSec != nil {
		t.InterestRatePerSec = fpmath.Clone(tp.InterestRatePerSec)
	}
}

// handlePoolUpdated replaces the parameters and the active tranche set.
func (p *Processor) handlePoolUpdated(ctx context.Context, u *unit, e *event.PoolUpdated) error {
	pool, err := state.LoadPool(ctx, u.store, e.PoolID)
	if err != nil {
		return err
	}
	if e.MaxReserve != nil {
		pool.MaxReserve = fpmath.Clone(e.MaxReserve)
	}
	if e.MaxNavAge != nil {
		pool.MaxNavAge = *e.MaxNavAge
	}
	if e.MinEpochTime != nil {
		pool.MinEpochTime = *e.MinEpochTime
	}

	active, err := state.LoadTranches(ctx, u.store, e.PoolID, true)
	if err != nil {
		return err
	}
	for _, t := range active {
		t.Deactivate()
		if err := u.save(ctx, t); err != nil {
			return err
		}
	}

	for i, tp := range e.Tranches {
		t, err := persistence.LoadOrNil[state.Tranche](ctx, u.store, state.TrancheKey(e.PoolID, tp.TrancheID))
		if err != nil {
			return err
		}
		if t == nil {
			t = state.NewTranche(e.PoolID, tp.TrancheID, i, u.ec.Timestamp)
		}
		t.Index = i
		t.Activate()
		applyTrancheParams(t, tp, u.ec.BlockNumber)
		if err := u.save(ctx, t); err != nil {
			return err
		}
	}

	u.log.Info().Str("pool", e.PoolID).Int("tranches", len(e.Tranches)).Msg("pool updated")
	return u.save(ctx, pool)
}

func (p *Processor) handleMetadataSet(ctx context.Context, u *unit, e *event.MetadataSet) error {
	pool, err := state.LoadPool(ctx, u.store, e.PoolID)
	if err != nil {
		return err
	}
	pool.Metadata = e.Metadata
	return u.save(ctx, pool)
}

// --- Oracle ---

// handleOracleFed records the feed and reprices open assets quoted on the key.
func (p *Processor) handleOracleFed(ctx context.Context, u *unit, e *event.OracleFed) error {
	tx := &state.OracleTransaction{
		ID:        fmt.Sprintf("%s-%s", u.ec.Hash(), e.Key),
		Feeder:    e.Feeder,
		Key:       e.Key,
		Value:     fpmath.Clone(e.Value),
		Hash:      u.ec.Hash(),
		Timestamp: u.ec.Timestamp,
	}
	if err := u.save(ctx, tx); err != nil {
		return err
	}

	assets, err := persistence.FindAll[state.Asset](ctx, u.store,
		persistence.Eq("price_id", e.Key),
		persistence.Ne("status", string(state.AssetStatusClosed)),
	)
	if err != nil {
		return err
	}
	for _, a := range assets {
		a.UpdateCurrentPrice(e.Value)
		if err := u.save(ctx, a); err != nil {
			return err
		}
	}
	u.log.Debug().Str("key", e.Key).Str("value", fpmath.OrZero(e.Value).String()).Int("assets", len(assets)).Msg("oracle fed")
	return nil
}

// --- Block ---

func (p *Processor) handleBlockTick(ctx context.Context, u *unit) error {
	if !u.newPeriod || p.syncer == nil {
		return nil
	}
	return p.syncer.SyncBlock(ctx, u.store, u.ec)
}

// --- EVM ---

// EVMAccountID names an EVM holder on a chain.
func EVMAccountID(chainID, address string) string {
	return fmt.Sprintf("%s-%s", chainID, strings.ToLower(address))
}

func sameAddress(a, b string) bool {
	return a != "" && b != "" && common.HexToAddress(a) == common.HexToAddress(b)
}

func (p *Processor) handleDeployTranche(ctx context.Context, u *unit, e *event.EVMDeployTranche) error {
	manager := strings.ToLower(e.PoolManager)
	escrow, ok := p.cfg.Escrows[manager]
	if !ok {
		return fmt.Errorf("no escrow configured for pool manager %s: %w", e.PoolManager, state.ErrMissingExternalData)
	}
	trancheID := e.TrancheID
	if len(trancheID) > 34 {
		trancheID = trancheID[:34]
	}

	token := &state.TrancheToken{
		ID:            state.TrancheTokenKey(e.Token),
		ChainID:       u.ec.ChainID,
		PoolID:        e.PoolID,
		TrancheID:     trancheID,
		PoolManager:   manager,
		EscrowAddress: strings.ToLower(escrow),
	}
	u.log.Info().Str("pool", e.PoolID).Str("tranche", trancheID).Str("token", token.ID).
		Uint64("block", u.ec.BlockNumber).Msg("tranche token deployed")
	return u.save(ctx, token)
}

// handleTransfer books tranche token movements between holders. Mints, burns and
// escrow deposits are not investor transactions.
func (p *Processor) handleTransfer(ctx context.Context, u *unit, e *event.EVMTransfer) error {
	ec := u.ec
	token, err := persistence.LoadOrNil[state.TrancheToken](ctx, u.store, state.TrancheTokenKey(e.Token))
	if err != nil {
		return err
	}
	if token == nil {
		return state.MissingEntity(state.EntityTrancheToken, e.Token)
	}
	pool, err := state.LoadPool(ctx, u.store, token.PoolID)
	if err != nil {
		return err
	}
	tranche, err := state.LoadTranche(ctx, u.store, token.PoolID, token.TrancheID)
	if err != nil {
		return err
	}

	isService := func(addr string) bool {
		return sameAddress(addr, e.Token) || sameAddress(addr, token.EscrowAddress) ||
			common.HexToAddress(addr) == (common.Address{})
	}
	fromUser, toUser := !isService(e.From), !isService(e.To)
	fromEscrow := sameAddress(e.From, token.EscrowAddress)

	price := tranche.TokenPrice
	txOf := func(addr string, txType state.InvestorTransactionType) *state.InvestorTransaction {
		account := EVMAccountID(ec.ChainID, addr)
		return &state.InvestorTransaction{
			ID:             state.InvestorTransactionKey(ec.Hash(), account, tranche.TrancheID, pool.CurrentEpoch, txType),
			Type:           txType,
			PoolID:         pool.ID,
			TrancheID:      tranche.TrancheID,
			AccountID:      account,
			EpochNumber:    pool.CurrentEpoch,
			Hash:           ec.Hash(),
			Timestamp:      ec.Timestamp,
			TokenPrice:     fpmath.Clone(price),
			TokenAmount:    fpmath.Clone(e.Amount),
			CurrencyAmount: fpmath.MulWad(e.Amount, price),
		}
	}

	if fromEscrow && toUser {
		if err := u.save(ctx, txOf(e.To, state.InvestorTxInvestLpCollect)); err != nil {
			return err
		}
	}

	if !fromUser || !toUser {
		return nil
	}

	migrationDay := ec.ChainID == p.cfg.LPMigrationChainID &&
		ec.Timestamp.UTC().Format("2006-01-02") == p.cfg.LPMigrationDate

	in := txOf(e.To, state.InvestorTxTransferIn)
	out := txOf(e.From, state.InvestorTxTransferOut)
	if !migrationDay {
		if _, err := u.lots.Buy(ctx, epoch.InvestorLots(in.AccountID, tranche), ec.Hash(), ec.Timestamp, e.Amount, price); err != nil {
			u.log.Error().Err(err).Str("account", in.AccountID).Msg("transfer in: buy lot")
		}
		profit, err := u.lots.SellFIFO(ctx, epoch.InvestorLots(out.AccountID, tranche), e.Amount, price)
		if err != nil {
			u.log.Error().Err(err).Str("account", out.AccountID).Msg("transfer out: sell lots")
		} else {
			out.RealizedProfitFifo = profit
		}
	}
	return u.save(ctx, in, out)
}
