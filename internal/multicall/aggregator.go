package multicall

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"PoolLedger/internal/observability"
	"PoolLedger/internal/state"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	DefaultBatchSize    = 30
	DefaultBatchTimeout = 30 * time.Second
)

// Call is one read-only contract call tagged with the logical key and kind
// its result is filed under.
type Call struct {
	Key      string
	Kind     string
	Target   common.Address
	CallData []byte
	method   abi.Method
}

// Prepare packs a call to method on target. The result is filed under
// (key, method).
func Prepare(contract abi.ABI, key string, method string, target common.Address, args ...any) (Call, error) {
	m, ok := contract.Methods[method]
	if !ok {
		return Call{}, fmt.Errorf("method %s not in abi: %w", method, state.ErrEncoding)
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return Call{Key: key, Kind: method, Target: target, CallData: data, method: m}, nil
}

// BatchReport summarizes one executed batch.
type BatchReport struct {
	Index int
	Calls int
	Err   error
}

type Option func(*Aggregator)

func WithBatchSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithBatchTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.batchTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// Aggregator chunks calls into fixed-size batches and runs each batch through an Executor.
type Aggregator struct {
	exec         Executor
	batchSize    int
	batchTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func New(exec Executor, opts ...Option) *Aggregator {
	a := &Aggregator{
		exec:         exec,
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) BatchSize() int { return a.batchSize }

// Execute runs all calls at block (nil for latest). A failed batch leaves its
// calls without results; the other batches are unaffected. The only error
// returned is cancellation of ctx.
func (a *Aggregator) Execute(ctx context.Context, calls []Call, block *big.Int) (*Results, error) {
	results := newResults()
	for i, batch := range Chunk(calls, a.batchSize) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		report := a.runBatch(ctx, i, batch, block, results)
		results.Batches = append(results.Batches, report)
	}
	return results, nil
}

func (a *Aggregator) runBatch(ctx context.Context, index int, batch []Call, block *big.Int, results *Results) BatchReport {
	start := time.Now()
	report := BatchReport{Index: index, Calls: len(batch)}

	requests := make([]Request, len(batch))
	for i, c := range batch {
		requests[i] = Request{Target: c.Target, CallData: c.CallData}
	}

	batchCtx, cancel := context.WithTimeout(ctx, a.batchTimeout)
	raw, err := a.exec.Aggregate(batchCtx, requests, block)
	cancel()
	if err == nil && len(raw) != len(batch) {
		err = fmt.Errorf("batch returned %d results for %d calls", len(raw), len(batch))
	}

	if a.metrics != nil {
		a.metrics.MulticallBatchDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		report.Err = err
		a.log.Warn().Err(err).Int("batch", index).Int("calls", len(batch)).Msg("multicall batch failed")
		if a.metrics != nil {
			a.metrics.MulticallBatches.WithLabelValues("failed").Inc()
		}
		return report
	}
	if a.metrics != nil {
		a.metrics.MulticallBatches.WithLabelValues("ok").Inc()
	}

	for i, c := range batch {
		values, err := c.method.Outputs.Unpack(raw[i])
		if err != nil {
			err = fmt.Errorf("decode %s for %s: %v: %w", c.Kind, c.Key, err, state.ErrEncoding)
			a.log.Warn().Err(err).Str("key", c.Key).Str("kind", c.Kind).Msg("multicall decode failed")
			if a.metrics != nil {
				a.metrics.MulticallDecodeErrors.Inc()
			}
		}
		results.put(c.Key, c.Kind, Outcome{Values: values, Err: err})
	}
	return report
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
