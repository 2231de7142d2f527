package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore keeps entities as JSONB documents in ledger.entities.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const upsertEntity = `
	INSERT INTO ledger.entities (name, id, data, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (name, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

func (s *PostgresStore) Get(ctx context.Context, name, id string, dst Entity) error {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ledger.entities WHERE name = $1 AND id = $2`, name, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", name, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", name, id, err)
	}
	return decode(data, dst)
}

func (s *PostgresStore) Save(ctx context.Context, e Entity) error {
	doc, err := encode(e)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertEntity, doc.Name, doc.ID, string(doc.Data)); err != nil {
		return fmt.Errorf("save %s %s: %w", doc.Name, doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, name, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger.entities WHERE name = $1 AND id = $2`, name, id,
	); err != nil {
		return fmt.Errorf("remove %s %s: %w", name, id, err)
	}
	return nil
}

// GetByFields filters on data->>field text and orders on numeric casts of data->>field,
// so ordered lot scans are served by the (name, owner, instrument) expression index.
func (s *PostgresStore) GetByFields(ctx context.Context, name string, filters []Filter, page Page) ([]Document, error) {
	if err := validateQuery(filters, page); err != nil {
		return nil, err
	}

	query, args := buildSelect(name, filters, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var data []byte
		if err := rows.Scan(&d.ID, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		d.Name = name
		d.Data = data
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func buildSelect(name string, filters []Filter, page Page) (string, []any) {
	var b strings.Builder
	args := []any{name}
	b.WriteString(`SELECT id, data FROM ledger.entities WHERE name = $1`)

	for _, f := range filters {
		args = append(args, f.Field, textOf(f.Value))
		field, value := len(args)-1, len(args)
		switch f.Op {
		case OpNe:
			fmt.Fprintf(&b, ` AND (data->>$%d::text) IS DISTINCT FROM $%d::text`, field, value)
		default:
			fmt.Fprintf(&b, ` AND (data->>$%d::text) = $%d::text`, field, value)
		}
	}

	b.WriteString(` ORDER BY `)
	for _, o := range page.OrderBy {
		args = append(args, o.Field)
		fmt.Fprintf(&b, `(data->>$%d::text)::numeric`, len(args))
		if o.Desc {
			b.WriteString(` DESC`)
		}
		b.WriteString(`, `)
	}
	b.WriteString(`id`)

	if page.Limit > 0 {
		args = append(args, page.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		fmt.Fprintf(&b, ` OFFSET $%d`, len(args))
	}
	return b.String(), args
}

// Apply writes a batch in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, d := range batch.Saves {
		if _, err := tx.ExecContext(ctx, upsertEntity, d.Name, d.ID, string(d.Data)); err != nil {
			return fmt.Errorf("save %s %s: %w", d.Name, d.ID, err)
		}
	}

	if len(batch.Removes) > 0 {
		byName := make(map[string][]string)
		for _, r := range batch.Removes {
			byName[r.Name] = append(byName[r.Name], r.ID)
		}
		for name, ids := range byName {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM ledger.entities WHERE name = $1 AND id = ANY($2)`, name, pq.Array(ids),
			); err != nil {
				return fmt.Errorf("remove %s: %w", name, err)
			}
		}
	}

	return tx.Commit()
}
