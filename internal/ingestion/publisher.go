package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PoolLedger/internal/persistence"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundStream  = "POOL_LEDGER_EVENTS"
	OutboundSubject = "pool.ledger.events.>"
)

// Publisher is the part of jetstream.JetStream the outbound side needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied events for downstream consumers.
// Subjects follow pool.ledger.events.{event_type}[.{pool_id}].
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan persistence.EventRow
	log       zerolog.Logger
}

// PublishableEvent is the outbound message body.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	ChainID        string          `json:"chain_id"`
	PoolID         *string         `json:"pool_id,omitempty"`
	BlockNumber    uint64          `json:"block"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan persistence.EventRow, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, log: logger}
}

// Run publishes until the input channel closes or ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case row, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, row); err != nil {
				// Non-fatal: downstream consumers can query the event log directly
				op.log.Warn().Err(err).Int64("sequence", row.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// OutboundSubjectFor returns the subject a row is published on.
func OutboundSubjectFor(row persistence.EventRow) string {
	subject := fmt.Sprintf("pool.ledger.events.%s", row.EventType)
	if row.PoolID != nil && *row.PoolID != "" {
		subject = fmt.Sprintf("%s.%s", subject, *row.PoolID)
	}
	return subject
}

func (op *OutboundPublisher) publish(ctx context.Context, row persistence.EventRow) error {
	data, err := json.Marshal(PublishableEvent{
		Sequence:       row.Sequence,
		EventType:      row.EventType,
		IdempotencyKey: row.IdempotencyKey,
		ChainID:        row.ChainID,
		PoolID:         row.PoolID,
		BlockNumber:    row.BlockNumber,
		Payload:        json.RawMessage(row.Payload),
		StateHash:      row.StateHash,
		Timestamp:      row.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, OutboundSubjectFor(row), data, jetstream.WithMsgID(row.IdempotencyKey))
	return err
}
