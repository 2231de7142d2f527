package state

import (
	"context"

	"PoolLedger/internal/persistence"
)

// The loaders below turn a missing row into ErrMissingEntity.

func LoadPool(ctx context.Context, s persistence.Store, poolID string) (*Pool, error) {
	p, err := persistence.LoadOrNil[Pool](ctx, s, poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, MissingEntity(EntityPool, poolID)
	}
	return p, nil
}

func LoadEpoch(ctx context.Context, s persistence.Store, poolID string, index uint64) (*Epoch, error) {
	id := EpochKey(poolID, index)
	e, err := persistence.LoadOrNil[Epoch](ctx, s, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, MissingEntity(EntityEpoch, id)
	}
	return e, nil
}

// LoadCurrentEpoch loads the pool's current epoch.
func LoadCurrentEpoch(ctx context.Context, s persistence.Store, p *Pool) (*Epoch, error) {
	return LoadEpoch(ctx, s, p.ID, p.CurrentEpoch)
}

func LoadAsset(ctx context.Context, s persistence.Store, poolID, assetID string) (*Asset, error) {
	id := AssetKey(poolID, assetID)
	a, err := persistence.LoadOrNil[Asset](ctx, s, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, MissingEntity(EntityAsset, id)
	}
	return a, nil
}

func LoadTranche(ctx context.Context, s persistence.Store, poolID, trancheID string) (*Tranche, error) {
	id := TrancheKey(poolID, trancheID)
	t, err := persistence.LoadOrNil[Tranche](ctx, s, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, MissingEntity(EntityTranche, id)
	}
	return t, nil
}

// LoadTranches returns every tranche of a pool, most junior first.
func LoadTranches(ctx context.Context, s persistence.Store, poolID string, activeOnly bool) ([]*Tranche, error) {
	filters := []persistence.Filter{persistence.Eq("pool_id", poolID)}
	if activeOnly {
		filters = append(filters, persistence.Eq("is_active", true))
	}
	return persistence.Find[Tranche](ctx, s, filters, persistence.Page{
		OrderBy: []persistence.Order{{Field: "index"}},
	})
}

// LoadEpochStates returns the per-tranche states of an epoch keyed by tranche id.
func LoadEpochStates(ctx context.Context, s persistence.Store, poolID string, index uint64) (map[string]*EpochState, error) {
	states, err := persistence.FindAll[EpochState](ctx, s, persistence.Eq("epoch_id", EpochKey(poolID, index)))
	if err != nil {
		return nil, err
	}
	byTranche := make(map[string]*EpochState, len(states))
	for _, st := range states {
		byTranche[st.TrancheID] = st
	}
	return byTranche, nil
}

func LoadCurrency(ctx context.Context, s persistence.Store, id string) (*Currency, error) {
	c, err := persistence.LoadOrNil[Currency](ctx, s, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, MissingEntity(EntityCurrency, id)
	}
	return c, nil
}

// LoadOpenAssets returns the pool's assets that are not closed.
func LoadOpenAssets(ctx context.Context, s persistence.Store, poolID string) ([]*Asset, error) {
	return persistence.FindAll[Asset](ctx, s,
		persistence.Eq("pool_id", poolID),
		persistence.Ne("status", string(AssetStatusClosed)),
	)
}
