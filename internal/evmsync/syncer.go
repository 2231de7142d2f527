// Package evmsync keeps legacy pools up to date by reading their contracts
// once per period instead of following events.
package evmsync

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"PoolLedger/internal/accrual"
	"PoolLedger/internal/epoch"
	"PoolLedger/internal/event"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/multicall"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/valuation"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	TrancheJunior = "junior"
	TrancheSenior = "senior"

	DefaultConcurrency = 4
)

type Option func(*Syncer)

func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

// Syncer refreshes the legacy pools of one chain from contract reads.
type Syncer struct {
	registry    Registry
	agg         *multicall.Aggregator
	concurrency int
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func New(registry Registry, agg *multicall.Aggregator, opts ...Option) *Syncer {
	s := &Syncer{
		registry:    registry,
		agg:         agg,
		concurrency: DefaultConcurrency,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncBlock refreshes every legacy pool of the block's chain. Blocks of other
// chains are ignored.
func (s *Syncer) SyncBlock(ctx context.Context, st persistence.Store, ec event.Context) error {
	if ec.ChainID != s.registry.ChainID || len(s.registry.Pools) == 0 {
		return nil
	}
	return s.SyncLegacyPools(ctx, st, ec)
}

// plan is the work for one pool at one block. Reads fill the fetched half
// without touching the store.
type plan struct {
	cfg  LegacyPool
	pool *state.Pool

	navFeed, reserve, assessor, shelf, pile       common.Address
	hasNavFeed, hasReserve, hasAssessor, hasLoans bool

	known int      // loans already tracked, open or closed
	open  []string // asset ids of loans still open

	poolData     *multicall.Results
	newLoans     []discoveredLoan
	observations map[string]accrual.Observation
	rates        accrual.RateTable
	loansFetched bool

	start time.Time
}

type discoveredLoan struct {
	id       string
	nftID    *[32]byte
	maturity *time.Time
}

// SyncLegacyPools syncs all eligible pools at ec's block. Contract reads of
// different pools run concurrently; their results are applied one pool at a time.
func (s *Syncer) SyncLegacyPools(ctx context.Context, st persistence.Store, ec event.Context) error {
	var plans []*plan
	for _, cfg := range s.registry.Pools {
		if ec.BlockNumber < cfg.StartBlock {
			continue
		}
		p, err := s.prepare(ctx, st, ec, cfg)
		if err != nil {
			s.poolError(cfg.ID)
			return fmt.Errorf("prepare legacy pool %s: %w", cfg.ID, err)
		}
		if p != nil {
			plans = append(plans, p)
		}
	}
	if len(plans) == 0 {
		return nil
	}

	block := new(big.Int).SetUint64(ec.BlockNumber)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range plans {
		g.Go(func() error {
			if err := s.fetch(gctx, p, block); err != nil {
				return fmt.Errorf("fetch legacy pool %s: %w", p.cfg.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range plans {
		if err := s.apply(ctx, st, ec, p); err != nil {
			s.poolError(p.cfg.ID)
			return fmt.Errorf("sync legacy pool %s: %w", p.cfg.ID, err)
		}
	}
	s.log.Info().Uint64("block", ec.BlockNumber).Int("pools", len(plans)).Msg("legacy pools synced")
	return nil
}

// Manages reports whether poolID is a configured legacy pool of chainID.
func (s *Syncer) Manages(chainID, poolID string) bool {
	if chainID != s.registry.ChainID {
		return false
	}
	for _, cfg := range s.registry.Pools {
		if strings.EqualFold(cfg.ID, poolID) {
			return true
		}
	}
	return false
}

// SyncLegacyPool syncs one configured pool at ec's block.
func (s *Syncer) SyncLegacyPool(ctx context.Context, st persistence.Store, ec event.Context, poolID string) error {
	for _, cfg := range s.registry.Pools {
		if !strings.EqualFold(cfg.ID, poolID) {
			continue
		}
		if ec.BlockNumber < cfg.StartBlock {
			return nil
		}
		p, err := s.prepare(ctx, st, ec, cfg)
		if err != nil || p == nil {
			return err
		}
		if err := s.fetch(ctx, p, new(big.Int).SetUint64(ec.BlockNumber)); err != nil {
			return err
		}
		return s.apply(ctx, st, ec, p)
	}
	return state.MissingEntity("legacy pool config", poolID)
}

func (s *Syncer) poolError(poolID string) {
	if s.metrics != nil {
		s.metrics.SyncPoolErrors.WithLabelValues(poolID).Inc()
	}
}

// prepare loads or initializes the pool, handles configured closure and
// resolves the contracts. A nil plan means nothing is left to read.
func (s *Syncer) prepare(ctx context.Context, st persistence.Store, ec event.Context, cfg LegacyPool) (*plan, error) {
	pool, err := persistence.LoadOrNil[state.Pool](ctx, st, cfg.ID)
	if err != nil {
		return nil, err
	}

	if cfg.closedAt(ec.BlockNumber) {
		if pool == nil || pool.IsClosed {
			return nil, nil
		}
		return nil, s.closePool(ctx, st, ec, pool)
	}
	if pool != nil && pool.IsClosed {
		return nil, nil
	}
	if pool == nil {
		if pool, err = s.initPool(ctx, st, ec, cfg); err != nil {
			return nil, err
		}
	}

	p := &plan{cfg: cfg, pool: pool, start: time.Now()}
	block := ec.BlockNumber
	p.navFeed, p.hasNavFeed = cfg.Contracts.NavFeed.At(block)
	p.reserve, p.hasReserve = cfg.Contracts.Reserve.At(block)
	p.assessor, p.hasAssessor = cfg.Contracts.Assessor.At(block)
	var hasShelf, hasPile bool
	p.shelf, hasShelf = cfg.Contracts.Shelf.At(block)
	p.pile, hasPile = cfg.Contracts.Pile.At(block)
	p.hasLoans = p.hasNavFeed && hasShelf && hasPile

	assets, err := persistence.FindAll[state.Asset](ctx, st, persistence.Eq("pool_id", pool.ID))
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		if a.IsCash() {
			continue
		}
		p.known++
		if !a.IsClosed() {
			p.open = append(p.open, a.AssetID)
		}
	}
	return p, nil
}

func (s *Syncer) initPool(ctx context.Context, st persistence.Store, ec event.Context, cfg LegacyPool) (*state.Pool, error) {
	rate, err := cfg.seniorRate()
	if err != nil {
		return nil, err
	}
	cur := s.registry.Currency
	currencyID := state.CurrencyKey(ec.ChainID, strings.ToLower(cur.Address))
	currency, err := persistence.LoadOrNil[state.Currency](ctx, st, currencyID)
	if err != nil {
		return nil, err
	}
	if currency == nil {
		currency = &state.Currency{ID: currencyID, ChainID: ec.ChainID, Symbol: cur.Symbol, Decimals: cur.Decimals}
	}

	pool := state.NewPool(cfg.ID, ec.ChainID)
	pool.Init(currencyID, new(big.Int), 0, 0, ec.Timestamp, ec.BlockNumber)

	junior := state.NewTranche(cfg.ID, TrancheJunior, state.TrancheIndexJunior, ec.Timestamp)
	senior := state.NewTranche(cfg.ID, TrancheSenior, state.TrancheIndexSenior, ec.Timestamp)
	senior.InterestRatePerSec = rate

	if _, err := epoch.New(st, s.log).Open(ctx, cfg.ID, pool.CurrentEpoch, []string{TrancheJunior, TrancheSenior}, ec.Timestamp); err != nil {
		return nil, err
	}
	for _, e := range []persistence.Entity{currency, pool, junior, senior} {
		if err := st.Save(ctx, e); err != nil {
			return nil, err
		}
	}
	s.log.Info().Str("pool", cfg.ID).Str("name", cfg.ShortName).Uint64("block", ec.BlockNumber).Msg("legacy pool initialized")
	return pool, nil
}

// closePool zeroes the valuation and reserve of a pool past its end of life.
func (s *Syncer) closePool(ctx context.Context, st persistence.Store, ec event.Context, pool *state.Pool) error {
	currency, err := state.LoadCurrency(ctx, st, pool.CurrencyID)
	if err != nil {
		return err
	}
	pool.PortfolioValuation = new(big.Int)
	pool.TotalReserve = new(big.Int)
	pool.SetNAV(valuation.NetAssetValue(pool.PortfolioValuation, pool.TotalReserve, pool.OffchainCashValue, pool.SumPoolFeesPendingAmount))
	pool.UpdateNormalizedNAV(currency.Decimals)
	pool.Close(ec.Timestamp)
	s.log.Info().Str("pool", pool.ID).Uint64("block", ec.BlockNumber).Msg("legacy pool closed")
	return st.Save(ctx, pool)
}

// --- Fetch ---

func (s *Syncer) fetch(ctx context.Context, p *plan, block *big.Int) error {
	var calls []multicall.Call
	add := func(c multicall.Call, err error) error {
		if err != nil {
			return err
		}
		calls = append(calls, c)
		return nil
	}
	id := p.pool.ID
	if p.hasNavFeed {
		if err := add(multicall.Prepare(NavFeedABI, id, methodCurrentNAV, p.navFeed)); err != nil {
			return err
		}
	}
	if p.hasReserve {
		if err := add(multicall.Prepare(ReserveABI, id, methodTotalBalance, p.reserve)); err != nil {
			return err
		}
	}
	if p.hasAssessor {
		if err := add(multicall.Prepare(AssessorABI, id, methodSeniorPrice, p.assessor)); err != nil {
			return err
		}
		if err := add(multicall.Prepare(AssessorABI, id, methodJuniorPrice, p.assessor)); err != nil {
			return err
		}
	}
	res, err := s.agg.Execute(ctx, calls, block)
	if err != nil {
		return err
	}
	p.poolData = res

	if !p.hasLoans {
		return nil
	}
	if err := s.fetchLoans(ctx, p, block); err != nil {
		return err
	}
	p.loansFetched = true
	return nil
}

// discover probes shelf.token for loan indexes after the known ones until the
// registry comes back as the zero address.
func (s *Syncer) discover(ctx context.Context, p *plan, block *big.Int) ([]discoveredLoan, error) {
	var found []discoveredLoan
	next := p.known + 1
	window := s.agg.BatchSize()
	for {
		calls := make([]multicall.Call, 0, window)
		for i := next; i < next+window; i++ {
			c, err := multicall.Prepare(ShelfABI, strconv.Itoa(i), methodToken, p.shelf, big.NewInt(int64(i)))
			if err != nil {
				return nil, err
			}
			calls = append(calls, c)
		}
		res, err := s.agg.Execute(ctx, calls, block)
		if err != nil {
			return nil, err
		}
		for i := next; i < next+window; i++ {
			key := strconv.Itoa(i)
			registry, ok := res.Address(key, methodToken, tokenRegistryOutput)
			if !ok {
				s.log.Warn().Err(res.Err(key, methodToken)).Str("pool", p.pool.ID).Int("loan", i).
					Msg("loan discovery stopped")
				return found, nil
			}
			if registry == (common.Address{}) {
				return found, nil
			}
			found = append(found, discoveredLoan{id: key})
		}
		next += window
	}
}

func (s *Syncer) fetchLoans(ctx context.Context, p *plan, block *big.Int) error {
	discovered, err := s.discover(ctx, p, block)
	if err != nil {
		return err
	}

	if len(discovered) > 0 {
		calls := make([]multicall.Call, 0, len(discovered))
		for _, l := range discovered {
			c, err := multicall.Prepare(NavFeedABI, l.id, methodNftID, p.navFeed, loanIndex(l.id))
			if err != nil {
				return err
			}
			calls = append(calls, c)
		}
		nftRes, err := s.agg.Execute(ctx, calls, block)
		if err != nil {
			return err
		}

		calls = calls[:0]
		for i := range discovered {
			nft, ok := nftRes.Bytes32(discovered[i].id, methodNftID, 0)
			if !ok {
				continue
			}
			discovered[i].nftID = &nft
			if p.cfg.SkipMaturity {
				continue
			}
			c, err := multicall.Prepare(NavFeedABI, discovered[i].id, methodMaturityDate, p.navFeed, nft)
			if err != nil {
				return err
			}
			calls = append(calls, c)
		}
		matRes, err := s.agg.Execute(ctx, calls, block)
		if err != nil {
			return err
		}
		for i := range discovered {
			if m, ok := matRes.Big(discovered[i].id, methodMaturityDate, 0); ok && m.Sign() > 0 {
				t := time.Unix(m.Int64(), 0).UTC()
				discovered[i].maturity = &t
			}
		}
	}
	p.newLoans = discovered

	loans := append([]string(nil), p.open...)
	for _, l := range discovered {
		loans = append(loans, l.id)
	}

	reads := []struct {
		contract abi.ABI
		method   string
		target   common.Address
	}{
		{ShelfABI, methodNftLocked, p.shelf},
		{PileABI, methodDebt, p.pile},
		{PileABI, methodLoanRates, p.pile},
	}
	calls := make([]multicall.Call, 0, len(reads)*len(loans))
	for _, id := range loans {
		idx := loanIndex(id)
		for _, r := range reads {
			call, err := multicall.Prepare(r.contract, id, r.method, r.target, idx)
			if err != nil {
				return err
			}
			calls = append(calls, call)
		}
	}
	details, err := s.agg.Execute(ctx, calls, block)
	if err != nil {
		return err
	}

	p.observations = make(map[string]accrual.Observation, len(loans))
	groups := map[string]*big.Int{}
	for _, id := range loans {
		var obs accrual.Observation
		if debt, ok := details.Big(id, methodDebt, 0); ok {
			obs.Debt = debt
		}
		if locked, ok := details.Bool(id, methodNftLocked, 0); ok {
			obs.Locked = &locked
		}
		if group, ok := details.Big(id, methodLoanRates, 0); ok {
			obs.RateGroup = group
			groups[group.String()] = group
		}
		p.observations[id] = obs
	}

	calls = calls[:0]
	for key, group := range groups {
		c, err := multicall.Prepare(PileABI, key, methodRates, p.pile, group)
		if err != nil {
			return err
		}
		calls = append(calls, c)
	}
	rateRes, err := s.agg.Execute(ctx, calls, block)
	if err != nil {
		return err
	}
	p.rates = make(accrual.RateTable, len(groups))
	for key := range groups {
		if rate, ok := rateRes.Big(key, methodRates, ratesRatePerSecond); ok {
			p.rates[key] = rate
		}
	}
	return nil
}

func loanIndex(id string) *big.Int {
	v, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// --- Apply ---

func (s *Syncer) apply(ctx context.Context, st persistence.Store, ec event.Context, p *plan) error {
	pool := p.pool
	currency, err := state.LoadCurrency(ctx, st, pool.CurrencyID)
	if err != nil {
		return err
	}

	if nav, ok := p.poolData.Big(pool.ID, methodCurrentNAV, 0); ok {
		pool.PortfolioValuation = nav
	} else if p.hasNavFeed {
		s.log.Warn().Str("pool", pool.ID).Msg("currentNAV not returned, keeping prior valuation")
	}
	if reserve, ok := p.poolData.Big(pool.ID, methodTotalBalance, 0); ok {
		pool.TotalReserve = reserve
	} else if p.hasReserve {
		s.log.Warn().Str("pool", pool.ID).Msg("totalBalance not returned, keeping prior reserve")
	}
	for trancheID, method := range map[string]string{TrancheSenior: methodSeniorPrice, TrancheJunior: methodJuniorPrice} {
		price, ok := p.poolData.Big(pool.ID, method, 0)
		if !ok {
			continue
		}
		t, err := state.LoadTranche(ctx, st, pool.ID, trancheID)
		if err != nil {
			return err
		}
		// Assessor prices are RAY; tranche prices are WAD.
		t.UpdatePrice(fpmath.Rescale(price, fpmath.RayDecimals, fpmath.WadDecimals), ec.BlockNumber)
		if err := st.Save(ctx, t); err != nil {
			return err
		}
	}

	if p.loansFetched {
		for _, l := range p.newLoans {
			a := state.NewAsset(pool.ID, l.id, state.AssetTypeOther, state.ValuationDiscountedCashFlow, ec.Timestamp)
			if l.nftID != nil {
				a.CollateralNftID = common.Hash(*l.nftID).Hex()
			}
			a.MaturityDate = l.maturity
			pool.IncreaseNumberOfAssets()
			if err := st.Save(ctx, a); err != nil {
				return err
			}
		}
		if err := st.Save(ctx, pool); err != nil {
			return err
		}

		engine := accrual.NewEngine(st, s.log)
		if pool, err = engine.RunPass(ctx, pool.ID, p.observations, p.rates, ec.Timestamp); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SyncLoansTracked.WithLabelValues(pool.ID).Set(float64(len(p.open) + len(p.newLoans)))
		}
		s.log.Info().Str("pool", pool.ID).Int("new_loans", len(p.newLoans)).Int("open_loans", len(p.open)).
			Msg("legacy loans updated")
	}

	pool.SetNAV(valuation.NetAssetValue(pool.PortfolioValuation, pool.TotalReserve, pool.OffchainCashValue, pool.SumPoolFeesPendingAmount))
	pool.UpdateNormalizedNAV(currency.Decimals)
	if err := st.Save(ctx, pool); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SyncPoolDuration.WithLabelValues(pool.ID).Observe(time.Since(p.start).Seconds())
	}
	return nil
}
