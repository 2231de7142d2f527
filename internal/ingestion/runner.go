package ingestion

import (
	"context"
	"errors"

	"PoolLedger/internal/core"
	"PoolLedger/internal/event"
	"PoolLedger/internal/observability"

	"github.com/rs/zerolog"
)

// EventProcessor applies one typed event.
type EventProcessor interface {
	Process(ctx context.Context, evt event.Event) error
}

// Runner parses raw messages, applies them in arrival order and settles each
// message afterwards. Acking after processing keeps a failed event on the
// stream for redelivery.
type Runner struct {
	proc    EventProcessor
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewRunner(proc EventProcessor, metrics *observability.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{proc: proc, metrics: metrics, log: logger}
}

// Run drains in until it closes or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			r.Handle(ctx, raw)
		}
	}
}

// Handle applies one message and settles it.
func (r *Runner) Handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IngestParseErrors.WithLabelValues(Reason(err)).Inc()
		}
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
		settle(raw.TermFunc)
		return
	}

	err = r.proc.Process(ctx, evt)
	switch {
	case err == nil:
		settle(raw.AckFunc)
	case errors.Is(err, core.ErrOutOfOrder), errors.Is(err, core.ErrInvalidEvent):
		r.log.Warn().Err(err).Str("event_type", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).Msg("rejected event")
		settle(raw.TermFunc)
	case ctx.Err() != nil:
		settle(raw.NakFunc)
	default:
		r.log.Error().Err(err).Str("event_type", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).Msg("event failed, requesting redelivery")
		settle(raw.NakFunc)
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}
