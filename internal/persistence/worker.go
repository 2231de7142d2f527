package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PoolLedger/internal/observability"

	"github.com/rs/zerolog"
)

const (
	retryInitialBackoff = 100 * time.Millisecond
	retryMaxBackoff     = 30 * time.Second
)

// PersistenceWorker appends processed-event rows to the event log in batches.
// Entity state is committed synchronously by the processor; the log trails it.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	rows         <-chan EventRow
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	rows <-chan EventRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		rows:         rows,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}
}

// Run writes a batch when it fills up or when flushTimeout passes with rows
// pending. It returns nil once the channel is closed and drained, or ctx.Err()
// after a last best-effort flush.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := make([]EventRow, 0, pw.batchSize)
	ticker := time.NewTicker(pw.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.finalFlush(pending)
			return ctx.Err()

		case row, ok := <-pw.rows:
			if !ok {
				pw.finalFlush(pending)
				return nil
			}
			pending = append(pending, row)
			if len(pending) < pw.batchSize {
				continue
			}
			pw.flushWithRetry(ctx, pending)
			pending = pending[:0]
			ticker.Reset(pw.flushTimeout)

		case <-ticker.C:
			if len(pending) > 0 {
				pw.flushWithRetry(ctx, pending)
				pending = pending[:0]
			}
		}
	}
}

func (pw *PersistenceWorker) finalFlush(rows []EventRow) {
	if len(rows) == 0 {
		return
	}
	if err := pw.flush(context.Background(), rows); err != nil {
		pw.log.Error().Err(err).Int("events", len(rows)).
			Int64("first_sequence", rows[0].Sequence).Msg("final event log flush failed")
	}
}

// flushWithRetry keeps retrying with capped exponential backoff. Once ctx is
// done it makes one last attempt outside ctx.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, rows []EventRow) {
	backoff := retryInitialBackoff
	for attempt := 1; ; attempt++ {
		err := pw.flush(ctx, rows)
		if err == nil {
			if attempt > 1 {
				pw.log.Info().Int("attempts", attempt).Msg("event log flush recovered")
			}
			return
		}
		pw.countError("retry")
		pw.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Int("events", len(rows)).Msg("event log flush failed")

		select {
		case <-ctx.Done():
			pw.finalFlush(rows)
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, retryMaxBackoff)
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, rows []EventRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return fmt.Errorf("begin event log tx: %w", err)
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, rows); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return fmt.Errorf("commit event log tx: %w", err)
	}

	if m := pw.metrics; m != nil {
		m.PersistBatchDur.Observe(time.Since(start).Seconds())
		m.PersistBatchSize.Observe(float64(len(rows)))
		m.PersistEventsWritten.Add(float64(len(rows)))
		m.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
