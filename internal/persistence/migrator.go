package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockID serializes migrators of different processes on one database.
const migrationLockID = 0x706f6f6c // "pool"

// Migration is one {version}_{name}.up.sql file and its optional .down.sql pair.
type Migration struct {
	Version  string
	Name     string
	Up       string
	Down     string
	Checksum string
}

// LoadMigrations reads and pairs the migration files at the root of fsys,
// ordered by version. Versions must be unique and every down file needs an up file.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, up := strings.CutSuffix(e.Name(), ".up.sql")
		if !up {
			var down bool
			if base, down = strings.CutSuffix(e.Name(), ".down.sql"); !down {
				continue
			}
		}
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: want {version}_{name}", e.Name())
		}
		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version, Name: name}
			byVersion[version] = mig
		} else if mig.Name != name {
			return nil, fmt.Errorf("migration version %s used by %s and %s", version, mig.Name, name)
		}
		if up {
			mig.Up = string(content)
			sum := sha256.Sum256(content)
			mig.Checksum = hex.EncodeToString(sum[:])
		} else {
			mig.Down = string(content)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.Checksum == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", mig.Version, mig.Name)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator applies migrations read from an fs.FS, each in its own transaction.
type Migrator struct {
	db         *sql.DB
	migrations fs.FS
	log        zerolog.Logger
}

// NewMigrator reads migrations from the root of fsys, e.g. os.DirFS("migrations").
func NewMigrator(db *sql.DB, fsys fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrations: fsys, log: logger}
}

// Up applies every pending migration. An applied migration whose file changed
// since is an error.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, err := LoadMigrations(m.migrations)
	if err != nil {
		return err
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		pending := 0
		for _, mig := range migrations {
			if sum, ok := applied[mig.Version]; ok {
				if sum != "" && sum != mig.Checksum {
					return fmt.Errorf("migration %s_%s changed after it was applied", mig.Version, mig.Name)
				}
				continue
			}
			if err := m.apply(ctx, conn, mig); err != nil {
				return err
			}
			pending++
		}
		m.log.Info().Int("applied", pending).Int("known", len(migrations)).Msg("migrations up to date")
		return nil
	})
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, mig Migration) error {
	return inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
			return fmt.Errorf("exec migration %s_%s: %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO public.schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
			mig.Version, mig.Version+"_"+mig.Name+".up.sql", mig.Checksum,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", mig.Version, err)
		}
		m.log.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
		return nil
	})
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, err := LoadMigrations(m.migrations)
	if err != nil {
		return err
	}
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get latest migration: %w", err)
		}

		idx := sort.Search(len(migrations), func(i int) bool { return migrations[i].Version >= version })
		if idx == len(migrations) || migrations[idx].Version != version || migrations[idx].Down == "" {
			return fmt.Errorf("no down migration for version %s", version)
		}
		mig := migrations[idx]

		return inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.Down); err != nil {
				return fmt.Errorf("exec down migration %s_%s: %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version); err != nil {
				return fmt.Errorf("remove migration record %s: %w", version, err)
			}
			m.log.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("rolled back migration")
			return nil
		})
	})
}

// locked runs f on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, f func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return f(conn)
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		applied[v] = sum
	}
	return applied, rows.Err()
}

func inTx(ctx context.Context, conn *sql.Conn, f func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MigrationStatus reports whether a known migration is applied and unchanged.
type MigrationStatus struct {
	Migration
	Applied  bool
	Modified bool
}

// Status lists every migration on disk with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := LoadMigrations(m.migrations)
	if err != nil {
		return nil, err
	}
	var out []MigrationStatus
	err = m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			sum, ok := applied[mig.Version]
			out = append(out, MigrationStatus{
				Migration: mig,
				Applied:   ok,
				Modified:  ok && sum != "" && sum != mig.Checksum,
			})
		}
		return nil
	})
	return out, err
}
