package core

import (
	"errors"
	"fmt"

	"PoolLedger/internal/observability"
)

var ErrOutOfOrder = errors.New("out-of-order event")

// Position orders events within one chain.
type Position struct {
	Block uint64
	Index uint32
}

func (p Position) Before(o Position) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	return p.Index < o.Index
}

// SequenceValidator enforces non-decreasing (block, index) per chain. Blocks may
// gap freely; only movement backwards is rejected.
// Not thread-safe; only the processor goroutine touches it.
type SequenceValidator struct {
	last    map[string]Position
	metrics *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		last:    make(map[string]Position),
		metrics: metrics,
	}
}

// ValidateSequence checks pos against the last applied position of the chain.
// Positions at or before it are fine only for duplicates.
func (sv *SequenceValidator) ValidateSequence(chainID string, pos Position, isDuplicate bool) error {
	last, seen := sv.last[chainID]
	if !seen || last.Before(pos) {
		return nil
	}
	if isDuplicate {
		return nil
	}
	if sv.metrics != nil {
		sv.metrics.EventOutOfOrder.WithLabelValues(chainID).Inc()
	}
	return fmt.Errorf("%w: chain=%s last=%d:%d got=%d:%d",
		ErrOutOfOrder, chainID, last.Block, last.Index, pos.Block, pos.Index)
}

// Advance records pos as applied.
func (sv *SequenceValidator) Advance(chainID string, pos Position) {
	if last, seen := sv.last[chainID]; !seen || last.Before(pos) {
		sv.last[chainID] = pos
	}
}

// Last returns the last applied position of a chain.
func (sv *SequenceValidator) Last(chainID string) (Position, bool) {
	p, ok := sv.last[chainID]
	return p, ok
}

// Restore sets the position during recovery.
func (sv *SequenceValidator) Restore(chainID string, pos Position) {
	sv.last[chainID] = pos
}
