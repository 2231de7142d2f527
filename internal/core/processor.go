package core

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"PoolLedger/internal/accrual"
	"PoolLedger/internal/event"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
	"PoolLedger/internal/valuation"

	"github.com/rs/zerolog"
)

var ErrInvalidEvent = errors.New("invalid event")

// BlockSyncer refreshes state that is read from contracts rather than events.
// It runs inside the tick's unit of work.
type BlockSyncer interface {
	SyncBlock(ctx context.Context, s persistence.Store, ec event.Context) error
	// Manages reports whether the pool's valuation is written by the syncer.
	Manages(chainID, poolID string) bool
}

// Config carries the chain-specific rules of the handlers.
type Config struct {
	DedupCapacity int

	// Escrows maps a lower-case PoolManager address to its escrow.
	Escrows map[string]string

	// Transfers on this UTC date on this chain move tokens without touching lots.
	LPMigrationChainID string
	LPMigrationDate    string
}

func DefaultConfig() Config {
	return Config{
		DedupCapacity:      1_000_000,
		Escrows:            map[string]string{},
		LPMigrationChainID: "1",
		LPMigrationDate:    "2024-08-07",
	}
}

// Processor applies events one at a time. Each event runs inside a unit of work
// over the store and either commits entirely or leaves the store untouched.
// Process must be called from a single goroutine.
type Processor struct {
	store       persistence.Store
	cfg         Config
	sequence    int64
	tip         HashChain
	idempotency *IdempotencyChecker
	order       *SequenceValidator
	syncer      BlockSyncer
	health      *observability.HealthChecker
	metrics     *observability.Metrics
	log         zerolog.Logger

	persistChan chan<- persistence.EventRow
	publishChan chan<- persistence.EventRow

	recovered map[string]bool
}

type Option func(*Processor)

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithHealth(h *observability.HealthChecker) Option {
	return func(p *Processor) { p.health = h }
}

func WithSyncer(s BlockSyncer) Option {
	return func(p *Processor) { p.syncer = s }
}

// WithEventLog adds the durable event log as a dedup tier.
func WithEventLog(c DBIdempotencyChecker) Option {
	return func(p *Processor) {
		p.idempotency.tiers = append(p.idempotency.tiers, Tier{Name: "event_log", Checker: c})
	}
}

// WithOutputs sets the event-log channel (blocking send) and the publish
// channel (dropped when full). Either may be nil.
func WithOutputs(persist, publish chan<- persistence.EventRow) Option {
	return func(p *Processor) {
		p.persistChan = persist
		p.publishChan = publish
	}
}

func NewProcessor(store persistence.Store, cfg Config, logger zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		cfg:       cfg,
		sequence:  1,
		tip:       GenesisHash(),
		log:       logger,
		recovered: make(map[string]bool),
	}
	p.idempotency = NewIdempotencyChecker(cfg.DedupCapacity, nil, logger,
		Tier{Name: "store", Checker: NewStoreIdempotencyChecker(store)})
	for _, opt := range opts {
		opt(p)
	}
	p.idempotency.metrics = p.metrics
	p.order = NewSequenceValidator(p.metrics)
	return p
}

// Sequence returns the sequence the next applied event will get.
func (p *Processor) Sequence() int64 { return p.sequence }

// StateHash returns the current hash chain tip.
func (p *Processor) StateHash() [32]byte { return p.tip }

// WarmDedup preloads recently logged "type:key" entries.
func (p *Processor) WarmDedup(keys []string) { p.idempotency.Warm(keys) }

// Recover restores the per-chain position, sequence and hash tip from the
// committed timekeepers. logSequence is the highest sequence in the event log.
func (p *Processor) Recover(ctx context.Context, chainIDs []string, logSequence int64) error {
	next := logSequence + 1
	var tip []byte
	var tipSeq int64
	for _, chainID := range chainIDs {
		tk, err := p.loadTimekeeper(ctx, p.store, chainID)
		if err != nil {
			return err
		}
		p.recovered[chainID] = true
		if tk == nil {
			continue
		}
		p.order.Restore(chainID, Position{Block: tk.LastProcessedBlock, Index: tk.LastEventIndex})
		if tk.LastSequence+1 > next {
			next = tk.LastSequence + 1
		}
		if tk.LastSequence > tipSeq {
			tipSeq, tip = tk.LastSequence, tk.LastStateHash
		}
	}
	if next > p.sequence {
		p.sequence = next
	}
	if tip != nil {
		p.tip = HashChainFrom(tip)
	}
	p.log.Info().Int64("next_sequence", p.sequence).Int("chains", len(chainIDs)).Msg("processor recovered")
	return nil
}

// Process applies one event.
func (p *Processor) Process(ctx context.Context, evt event.Event) error {
	start := time.Now()
	ec := evt.Meta()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()

	if ec.ChainID == "" || ec.Timestamp.IsZero() {
		p.reject(eventType, "invalid")
		return fmt.Errorf("%w: %s %s has no chain or timestamp", ErrInvalidEvent, eventType, key)
	}
	if err := p.recoverChain(ctx, ec.ChainID); err != nil {
		return err
	}

	isDuplicate := p.idempotency.IsDuplicate(eventType, key)
	pos := Position{Block: ec.BlockNumber, Index: ec.EventIndex}
	if err := p.order.ValidateSequence(ec.ChainID, pos, isDuplicate); err != nil {
		p.reject(eventType, "out_of_order")
		return fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		p.reject(eventType, "duplicate")
		return nil
	}

	uow := persistence.NewUnitOfWork(p.store)
	tk, err := p.loadTimekeeper(ctx, uow, ec.ChainID)
	if err != nil {
		return err
	}
	periodStart := state.PeriodStart(ec.Timestamp)
	newPeriod := tk == nil || periodStart.After(tk.LastPeriodStart)
	if tk == nil {
		tk = &state.Timekeeper{ID: ec.ChainID}
	}

	u := p.newUnit(uow, ec, newPeriod)
	if err := p.dispatch(ctx, u, evt); err != nil {
		uow.Discard()
		p.reject(eventType, "handler")
		return fmt.Errorf("%s %s: %w", eventType, key, err)
	}

	if newPeriod {
		if err := p.snapshotPeriod(ctx, uow, ec, periodStart); err != nil {
			uow.Discard()
			p.reject(eventType, "snapshot")
			return fmt.Errorf("period snapshot: %w", err)
		}
		tk.LastPeriodStart = periodStart
	}

	hashStart := time.Now()
	pools := uow.Touched(state.EntityPool)
	digest, navs, err := stateDigest(ctx, uow, pools)
	if err != nil {
		uow.Discard()
		return err
	}
	prevHash := p.tip
	stateHash := prevHash.Extend(p.sequence, digest)
	if p.metrics != nil {
		p.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	tk.LastProcessedBlock = ec.BlockNumber
	tk.LastEventIndex = ec.EventIndex
	tk.LastSequence = p.sequence
	tk.LastStateHash = stateHash[:]
	marker := &state.ProcessedEvent{
		ID:          state.ProcessedEventKey(eventType, key),
		EventType:   eventType,
		Key:         key,
		ChainID:     ec.ChainID,
		BlockNumber: ec.BlockNumber,
		Sequence:    p.sequence,
	}
	if err := uow.Save(ctx, tk); err != nil {
		uow.Discard()
		return err
	}
	if err := uow.Save(ctx, marker); err != nil {
		uow.Discard()
		return err
	}

	writes := uow.Pending()
	if err := uow.Commit(ctx); err != nil {
		p.reject(eventType, "commit")
		return fmt.Errorf("commit %s %s: %w", eventType, key, err)
	}

	p.tip = stateHash
	p.order.Advance(ec.ChainID, pos)
	p.idempotency.MarkProcessed(eventType, key)
	if p.health != nil {
		p.health.MarkBlock(ec.ChainID, ec.BlockNumber)
	}

	row, err := p.outputRow(evt, ec, pools, stateHash, prevHash)
	if err != nil {
		p.log.Error().Err(err).Int64("sequence", p.sequence).Msg("encode event log row")
	} else {
		p.emit(row)
	}

	if p.metrics != nil {
		p.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		p.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		p.metrics.CoreSequence.Set(float64(p.sequence))
		p.metrics.CoreLastBlock.WithLabelValues(ec.ChainID).Set(float64(ec.BlockNumber))
		for id, nav := range navs {
			p.metrics.PoolNAV.WithLabelValues(id).Set(nav)
		}
		if ex, ok := evt.(*event.EpochExecuted); ok {
			p.metrics.EpochsExecuted.WithLabelValues(ex.PoolID).Inc()
		}
	}
	p.log.Debug().Str("event_type", eventType).Str("key", key).Int64("sequence", p.sequence).
		Int("writes", writes).Msg("event applied")
	p.sequence++
	return nil
}

func (p *Processor) recoverChain(ctx context.Context, chainID string) error {
	if p.recovered[chainID] {
		return nil
	}
	tk, err := p.loadTimekeeper(ctx, p.store, chainID)
	if err != nil {
		return err
	}
	p.recovered[chainID] = true
	if tk != nil {
		p.order.Restore(chainID, Position{Block: tk.LastProcessedBlock, Index: tk.LastEventIndex})
	}
	return nil
}

func (p *Processor) loadTimekeeper(ctx context.Context, s persistence.Store, chainID string) (*state.Timekeeper, error) {
	tk, err := persistence.LoadOrNil[state.Timekeeper](ctx, s, chainID)
	if err != nil {
		return nil, fmt.Errorf("load timekeeper %s: %w", chainID, err)
	}
	return tk, nil
}

// snapshotPeriod revalues every active pool of the chain and freezes it under
// the new period.
func (p *Processor) snapshotPeriod(ctx context.Context, s persistence.Store, ec event.Context, periodStart time.Time) error {
	pools, err := persistence.FindAll[state.Pool](ctx, s,
		persistence.Eq("chain_id", ec.ChainID),
		persistence.Eq("is_active", true),
	)
	if err != nil {
		return err
	}
	ref := state.PeriodRef(periodStart)
	agg := valuation.NewAggregator(s, p.log)
	for _, pool := range pools {
		if err := p.revalue(ctx, s, agg, pool); err != nil {
			return fmt.Errorf("revalue pool %s: %w", pool.ID, err)
		}
		if err := s.Save(ctx, state.SnapshotOf(pool, ref, ec.BlockNumber, ec.Timestamp)); err != nil {
			return err
		}
	}
	if p.metrics != nil && len(pools) > 0 {
		p.metrics.PeriodSnapshots.Add(float64(len(pools)))
	}
	p.log.Info().Str("chain", ec.ChainID).Str("period", ref).Int("pools", len(pools)).Msg("period snapshot")
	return nil
}

// revalue folds the open loans of an event-driven pool into its debt and NAV.
// Pools valued by the block syncer keep what the syncer wrote.
func (p *Processor) revalue(ctx context.Context, s persistence.Store, agg *valuation.Aggregator, pool *state.Pool) error {
	if pool.CurrencyID == "" || (p.syncer != nil && p.syncer.Manages(pool.ChainID, pool.ID)) {
		return nil
	}
	open, err := state.LoadOpenAssets(ctx, s, pool.ID)
	if err != nil {
		return err
	}
	accrual.FoldDebt(pool, open)
	if err := agg.Revalue(ctx, pool); err != nil {
		return err
	}
	return s.Save(ctx, pool)
}

// stateDigest hashes the touched pools in id order and reports their NAV in
// currency units.
func stateDigest(ctx context.Context, s persistence.Store, poolIDs []string) ([]byte, map[string]float64, error) {
	if len(poolIDs) == 0 {
		return nil, nil, nil
	}
	ids := append([]string(nil), poolIDs...)
	sort.Strings(ids)

	h := sha256.New()
	navs := make(map[string]float64, len(ids))
	for _, id := range ids {
		pool, err := persistence.LoadOrNil[state.Pool](ctx, s, id)
		if err != nil {
			return nil, nil, err
		}
		if pool == nil {
			continue
		}
		data, err := json.Marshal(pool)
		if err != nil {
			return nil, nil, fmt.Errorf("digest pool %s: %w", id, err)
		}
		h.Write(data)
		navs[id] = fpmath.ToFloat(pool.NetAssetValue, fpmath.WadDecimals)
	}
	return h.Sum(nil), navs, nil
}

func (p *Processor) outputRow(evt event.Event, ec event.Context, pools []string, stateHash, prevHash [32]byte) (persistence.EventRow, error) {
	payload, err := event.Encode(evt)
	if err != nil {
		return persistence.EventRow{}, err
	}
	row := persistence.EventRow{
		Sequence:       p.sequence,
		EventType:      evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
		ChainID:        ec.ChainID,
		BlockNumber:    ec.BlockNumber,
		Payload:        payload,
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
		Timestamp:      ec.Timestamp,
	}
	if id := evt.Pool(); id != "" {
		row.PoolID = &id
	} else if len(pools) == 1 {
		id := pools[0]
		row.PoolID = &id
	}
	return row, nil
}

func (p *Processor) emit(row persistence.EventRow) {
	if p.persistChan != nil {
		p.persistChan <- row
	}
	if p.publishChan != nil {
		select {
		case p.publishChan <- row:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (p *Processor) reject(eventType, reason string) {
	if p.metrics != nil {
		p.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}
