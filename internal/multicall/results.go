package multicall

import (
	"fmt"
	"math/big"

	"PoolLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome is the decoded result of one call, or the reason it has none.
type Outcome struct {
	Values []any
	Err    error
}

// Results files call outcomes by logical key, then call kind. A call whose batch
// failed has no entry at all.
type Results struct {
	byKey   map[string]map[string]Outcome
	Batches []BatchReport
}

func newResults() *Results {
	return &Results{byKey: make(map[string]map[string]Outcome)}
}

func (r *Results) put(key, kind string, o Outcome) {
	kinds, ok := r.byKey[key]
	if !ok {
		kinds = make(map[string]Outcome)
		r.byKey[key] = kinds
	}
	kinds[kind] = o
}

// Lookup returns the decoded values of a call. ok is false when the call has no
// result or its result did not decode.
func (r *Results) Lookup(key, kind string) (values []any, ok bool) {
	o, found := r.byKey[key][kind]
	if !found || o.Err != nil {
		return nil, false
	}
	return o.Values, true
}

// Err explains why Lookup would fail, or returns nil when it would succeed.
func (r *Results) Err(key, kind string) error {
	o, found := r.byKey[key][kind]
	if !found {
		return fmt.Errorf("%s/%s: %w", key, kind, state.ErrMissingExternalData)
	}
	return o.Err
}

// FailedBatches counts batches that returned no data.
func (r *Results) FailedBatches() int {
	n := 0
	for _, b := range r.Batches {
		if b.Err != nil {
			n++
		}
	}
	return n
}

func (r *Results) value(key, kind string, index int) (any, bool) {
	values, ok := r.Lookup(key, kind)
	if !ok || index >= len(values) {
		return nil, false
	}
	return values[index], true
}

// Big returns output index of a call as an integer.
func (r *Results) Big(key, kind string, index int) (*big.Int, bool) {
	v, ok := r.value(key, kind, index)
	if !ok {
		return nil, false
	}
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), true
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	}
	return nil, false
}

func (r *Results) Bool(key, kind string, index int) (bool, bool) {
	v, ok := r.value(key, kind, index)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (r *Results) Address(key, kind string, index int) (common.Address, bool) {
	v, ok := r.value(key, kind, index)
	if !ok {
		return common.Address{}, false
	}
	a, ok := v.(common.Address)
	return a, ok
}

func (r *Results) Bytes32(key, kind string, index int) ([32]byte, bool) {
	v, ok := r.value(key, kind, index)
	if !ok {
		return [32]byte{}, false
	}
	b, ok := v.([32]byte)
	return b, ok
}
