package persistence_test

import (
	"os"
	"testing"
	"testing/fstest"

	"PoolLedger/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_event_log.up.sql":   {Data: []byte("CREATE TABLE b ();")},
		"000001_entities.up.sql":    {Data: []byte("CREATE TABLE a ();")},
		"000001_entities.down.sql":  {Data: []byte("DROP TABLE a;")},
		"README.md":                 {Data: []byte("ignored")},
		"archive/000000_old.up.sql": {Data: []byte("ignored")},
	}

	migs, err := persistence.LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 2)

	assert.Equal(t, "000001", migs[0].Version)
	assert.Equal(t, "entities", migs[0].Name)
	assert.Equal(t, "DROP TABLE a;", migs[0].Down)
	assert.Len(t, migs[0].Checksum, 64)

	assert.Equal(t, "event_log", migs[1].Name)
	assert.Empty(t, migs[1].Down)
	assert.NotEqual(t, migs[0].Checksum, migs[1].Checksum)
}

func TestLoadMigrationsRejects(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"down without up": {"000003_x.down.sql": {Data: []byte("DROP")}},
		"no name":         {"000003.up.sql": {Data: []byte("SELECT 1")}},
		"version clash": {
			"000004_a.up.sql": {Data: []byte("SELECT 1")},
			"000004_b.up.sql": {Data: []byte("SELECT 2")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := persistence.LoadMigrations(fsys)
			assert.Error(t, err)
		})
	}
}

func TestRepoMigrationsPair(t *testing.T) {
	migs, err := persistence.LoadMigrations(os.DirFS("../../migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, migs)
	for _, m := range migs {
		assert.NotEmpty(t, m.Down, m.Version)
	}
}
