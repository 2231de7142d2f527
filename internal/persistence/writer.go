package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter appends processed events to event_log.events with multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one processed event in the log.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	ChainID        string
	PoolID         *string
	BlockNumber    uint64
	Payload        []byte // JSON-encoded event
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

const eventColumns = 10

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch inserts events inside tx. Rows already present are skipped.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, chain_id, pool_id, block_number, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*eventColumns)

	for i, e := range events {
		base := i * eventColumns
		placeholders := make([]string, eventColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.ChainID, e.PoolID,
			int64(e.BlockNumber), string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest logged sequence, or -1 for an empty log.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// RecentKeys loads the newest idempotency keys as "event_type:key" composites.
func (w *EventLogWriter) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT event_type, idempotency_key FROM event_log.events ORDER BY sequence DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, eventType+":"+key)
	}
	return keys, rows.Err()
}
