package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"PoolLedger/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID     string `json:"id"`
	PoolID string `json:"pool_id"`
	Rank   int64  `json:"rank"`
	Active bool   `json:"active"`
}

func (w *widget) EntityName() string { return "widget" }
func (w *widget) EntityID() string   { return w.ID }

func seed(t *testing.T, s persistence.Store, widgets ...*widget) {
	t.Helper()
	for _, w := range widgets {
		require.NoError(t, s.Save(context.Background(), w))
	}
}

func ids(ws []*widget) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.ID
	}
	return out
}

// --- MemoryStore ---

func TestMemoryStoreGetMissing(t *testing.T) {
	s := persistence.NewMemoryStore()
	_, err := persistence.Load[widget](context.Background(), s, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrNotFound))

	w, err := persistence.LoadOrNil[widget](context.Background(), s, "nope")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestMemoryStoreFiltersAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := persistence.NewMemoryStore()
	seed(t, s,
		&widget{ID: "a", PoolID: "p1", Rank: 30, Active: true},
		&widget{ID: "b", PoolID: "p1", Rank: 10, Active: false},
		&widget{ID: "c", PoolID: "p1", Rank: 20, Active: true},
		&widget{ID: "d", PoolID: "p2", Rank: 5, Active: true},
	)

	got, err := persistence.Find[widget](ctx, s,
		[]persistence.Filter{persistence.Eq("pool_id", "p1")},
		persistence.Page{OrderBy: []persistence.Order{{Field: "rank"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids(got))

	got, err = persistence.Find[widget](ctx, s,
		[]persistence.Filter{persistence.Eq("pool_id", "p1"), persistence.Eq("active", true)},
		persistence.Page{Limit: 1, OrderBy: []persistence.Order{{Field: "rank", Desc: true}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))

	got, err = persistence.Find[widget](ctx, s,
		[]persistence.Filter{persistence.Ne("pool_id", "p1")}, persistence.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(got))
}

func TestMemoryStoreRejectsUnsafeField(t *testing.T) {
	s := persistence.NewMemoryStore()
	_, err := s.GetByFields(context.Background(), "widget",
		[]persistence.Filter{persistence.Eq("pool_id'; DROP", "x")}, persistence.Page{})
	assert.True(t, errors.Is(err, persistence.ErrInvalidInput))
}

func TestFindAllPagesThroughEverything(t *testing.T) {
	ctx := context.Background()
	s := persistence.NewMemoryStore()
	for i := 0; i < 250; i++ {
		seed(t, s, &widget{ID: fmt.Sprintf("w%03d", i), PoolID: "p"})
	}
	all, err := persistence.FindAll[widget](ctx, s, persistence.Eq("pool_id", "p"))
	require.NoError(t, err)
	assert.Len(t, all, 250)
}

// --- UnitOfWork ---

func TestUnitOfWorkReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	base := persistence.NewMemoryStore()
	seed(t, base, &widget{ID: "a", PoolID: "p", Rank: 1})

	uow := persistence.NewUnitOfWork(base)
	require.NoError(t, uow.Save(ctx, &widget{ID: "a", PoolID: "p", Rank: 99}))
	require.NoError(t, uow.Save(ctx, &widget{ID: "b", PoolID: "p", Rank: 2}))

	got, err := persistence.Load[widget](ctx, uow, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Rank)

	// base untouched until commit
	inBase, err := persistence.Load[widget](ctx, base, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inBase.Rank)
	assert.Equal(t, 1, base.Count("widget"))

	require.NoError(t, uow.Commit(ctx))
	assert.Equal(t, 2, base.Count("widget"))
	inBase, err = persistence.Load[widget](ctx, base, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(99), inBase.Rank)
}

func TestUnitOfWorkMergesQueries(t *testing.T) {
	ctx := context.Background()
	base := persistence.NewMemoryStore()
	seed(t, base,
		&widget{ID: "a", PoolID: "p", Rank: 1},
		&widget{ID: "b", PoolID: "p", Rank: 2},
		&widget{ID: "c", PoolID: "p", Rank: 3},
	)

	uow := persistence.NewUnitOfWork(base)
	require.NoError(t, uow.Remove(ctx, "widget", "a"))
	require.NoError(t, uow.Save(ctx, &widget{ID: "b", PoolID: "p", Rank: 10}))
	require.NoError(t, uow.Save(ctx, &widget{ID: "z", PoolID: "p", Rank: 0}))

	page := persistence.Page{Limit: 2, OrderBy: []persistence.Order{{Field: "rank"}}}
	got, err := persistence.Find[widget](ctx, uow, []persistence.Filter{persistence.Eq("pool_id", "p")}, page)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "c"}, ids(got))

	uow.Discard()
	got, err = persistence.Find[widget](ctx, uow, []persistence.Filter{persistence.Eq("pool_id", "p")}, page)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}
