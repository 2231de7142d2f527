package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PoolLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// InboundStream holds every chain's events under pool.events.{chain}.{type}.
	InboundStream  = "POOL_EVENTS"
	InboundSubject = "pool.events.>"

	fetchBatch   = 64
	fetchMaxWait = time.Second
)

// RawEvent is one undecoded inbound message.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed or permanently skipped
	NakFunc   func() // redeliver later
	TermFunc  func() // never redeliver
}

// EventSubject is the inbound subject of one event type on one chain.
func EventSubject(chainID, eventType string) string {
	return fmt.Sprintf("pool.events.%s.%s", chainID, eventType)
}

// NATSSubscriber pulls one durable consumer per chain and feeds the events
// into out in stream order.
type NATSSubscriber struct {
	js       jetstream.JetStream
	out      chan<- RawEvent
	consumer string
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawEvent, consumer string, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, out: out, consumer: consumer, metrics: metrics, log: logger}
}

// consumerConfig allows one unacknowledged message at a time so a chain's
// events are never reordered by redelivery.
func (ns *NATSSubscriber) consumerConfig(chainID string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       fmt.Sprintf("%s-%s", ns.consumer, chainID),
		FilterSubject: fmt.Sprintf("pool.events.%s.>", chainID),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

// Run pulls every chain until ctx is cancelled. A fetch error other than
// cancellation stops all chains.
func (ns *NATSSubscriber) Run(ctx context.Context, chainIDs []string) error {
	errc := make(chan error, len(chainIDs))
	for _, chainID := range chainIDs {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, InboundStream, ns.consumerConfig(chainID))
		if err != nil {
			return fmt.Errorf("create consumer for chain %s: %w", chainID, err)
		}
		ns.log.Info().Str("chain_id", chainID).Str("consumer", consumer.CachedInfo().Name).Msg("subscribed")
		go func(chainID string, c jetstream.Consumer) {
			errc <- ns.pull(ctx, chainID, c)
		}(chainID, consumer)
	}
	for range chainIDs {
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return ctx.Err()
}

func (ns *NATSSubscriber) pull(ctx context.Context, chainID string, c jetstream.Consumer) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		start := time.Now()
		batch, err := c.Fetch(fetchBatch, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch chain %s: %w", chainID, err)
		}
		for msg := range batch.Messages() {
			if err := ns.forward(ctx, msg); err != nil {
				return err
			}
		}
		if ns.metrics != nil {
			ns.metrics.NATSPullLatency.Observe(time.Since(start).Seconds())
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			ns.log.Warn().Err(err).Str("chain_id", chainID).Msg("fetch ended early")
		}
	}
}

func (ns *NATSSubscriber) forward(ctx context.Context, msg jetstream.Msg) error {
	raw := RawEvent{
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		Timestamp: time.Now(),
		AckFunc:   func() { _ = msg.Ack() },
		NakFunc:   func() { _ = msg.Nak() },
		TermFunc:  func() { _ = msg.Term() },
	}
	select {
	case ns.out <- raw:
		return nil
	case <-ctx.Done():
		_ = msg.Nak()
		return ctx.Err()
	}
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound and outbound streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for _, cfg := range []jetstream.StreamConfig{
		streamConfig(InboundStream, InboundSubject),
		streamConfig(OutboundStream, OutboundSubject),
	} {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("poolledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
