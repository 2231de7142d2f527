package query

import (
	"context"
	"fmt"

	"PoolLedger/internal/ledger"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
)

const (
	defaultSnapshotPage = 50
	maxSnapshotPage     = 500
)

// Watermark reports the last persisted event-log sequence.
type Watermark interface {
	LastSequence(ctx context.Context) (int64, error)
}

// QueryService provides read-only access to the entity store. Reads go
// straight to committed state and never through a unit of work.
type QueryService struct {
	store     persistence.Store
	watermark Watermark
	lots      *ledger.Ledger
}

// NewQueryService builds the service. A nil watermark reports sequence 0.
func NewQueryService(store persistence.Store, watermark Watermark) *QueryService {
	return &QueryService{store: store, watermark: watermark, lots: ledger.New(store)}
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	if qs.watermark == nil {
		return 0, nil
	}
	seq, err := qs.watermark.LastSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq, nil
}

// GetPool returns the pool aggregate.
func (qs *QueryService) GetPool(ctx context.Context, poolID string) (*PoolResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := state.LoadPool(ctx, qs.store, poolID)
	if err != nil {
		return nil, err
	}
	return &PoolResponse{Pool: pool, AsOfSequence: asOf}, nil
}

// GetTranches returns every tranche of a pool, including deactivated ones.
func (qs *QueryService) GetTranches(ctx context.Context, poolID string) (*TranchesResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := state.LoadPool(ctx, qs.store, poolID); err != nil {
		return nil, err
	}
	tranches, err := state.LoadTranches(ctx, qs.store, poolID, false)
	if err != nil {
		return nil, err
	}
	return &TranchesResponse{PoolID: poolID, Tranches: tranches, AsOfSequence: asOf}, nil
}

// GetEpoch returns one epoch and its per-tranche states.
func (qs *QueryService) GetEpoch(ctx context.Context, poolID string, index uint64) (*EpochResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	epoch, err := state.LoadEpoch(ctx, qs.store, poolID, index)
	if err != nil {
		return nil, err
	}
	byTranche, err := state.LoadEpochStates(ctx, qs.store, poolID, index)
	if err != nil {
		return nil, err
	}
	tranches, err := state.LoadTranches(ctx, qs.store, poolID, false)
	if err != nil {
		return nil, err
	}
	states := make([]*state.EpochState, 0, len(byTranche))
	for _, t := range tranches {
		if st, ok := byTranche[t.TrancheID]; ok {
			states = append(states, st)
		}
	}
	return &EpochResponse{Epoch: epoch, Tranches: states, AsOfSequence: asOf}, nil
}

// GetAssets returns the pool's assets. openOnly drops closed ones.
func (qs *QueryService) GetAssets(ctx context.Context, poolID string, openOnly bool) (*AssetsResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := state.LoadPool(ctx, qs.store, poolID); err != nil {
		return nil, err
	}
	var assets []*state.Asset
	if openOnly {
		assets, err = state.LoadOpenAssets(ctx, qs.store, poolID)
	} else {
		assets, err = persistence.FindAll[state.Asset](ctx, qs.store, persistence.Eq("pool_id", poolID))
	}
	if err != nil {
		return nil, err
	}
	return &AssetsResponse{PoolID: poolID, Assets: assets, AsOfSequence: asOf}, nil
}

// GetSnapshots returns the newest pool snapshots first.
func (qs *QueryService) GetSnapshots(ctx context.Context, poolID string, limit int) (*SnapshotsResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSnapshotPage
	}
	if limit > maxSnapshotPage {
		limit = maxSnapshotPage
	}
	snaps, err := persistence.Find[state.PoolSnapshot](ctx, qs.store,
		[]persistence.Filter{persistence.Eq("pool_id", poolID)},
		persistence.Page{Limit: limit, OrderBy: []persistence.Order{{Field: "block_number", Desc: true}}})
	if err != nil {
		return nil, err
	}
	return &SnapshotsResponse{PoolID: poolID, Snapshots: snaps, AsOfSequence: asOf}, nil
}

// GetPosition returns the lots and holding of one FIFO queue. An unknown
// queue is an empty position, not an error.
func (qs *QueryService) GetPosition(ctx context.Context, owner, instrument string) (*PositionResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	key := state.LotKey{Owner: owner, Instrument: instrument}
	lots, err := qs.lots.Lots(ctx, key)
	if err != nil {
		return nil, err
	}
	return &PositionResponse{
		Owner:        owner,
		Instrument:   instrument,
		Holding:      ledger.NewQueue(lots...).Total(),
		Lots:         lots,
		AsOfSequence: asOf,
	}, nil
}
