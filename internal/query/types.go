package query

import (
	"math/big"

	"PoolLedger/internal/state"
)

// Every response carries as_of_sequence: the last event-log sequence written
// when the read started.

type PoolResponse struct {
	Pool         *state.Pool `json:"pool"`
	AsOfSequence int64       `json:"as_of_sequence"`
}

type TranchesResponse struct {
	PoolID       string           `json:"pool_id"`
	Tranches     []*state.Tranche `json:"tranches"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

type EpochResponse struct {
	Epoch *state.Epoch `json:"epoch"`
	// Per-tranche settlement state, most junior first
	Tranches     []*state.EpochState `json:"tranches"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

type AssetsResponse struct {
	PoolID       string         `json:"pool_id"`
	Assets       []*state.Asset `json:"assets"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type SnapshotsResponse struct {
	PoolID       string                `json:"pool_id"`
	Snapshots    []*state.PoolSnapshot `json:"snapshots"`
	AsOfSequence int64                 `json:"as_of_sequence"`
}

// PositionResponse is one FIFO queue: an investor in a tranche or a pool in an asset.
type PositionResponse struct {
	Owner        string               `json:"owner"`
	Instrument   string               `json:"instrument"`
	Holding      *big.Int             `json:"holding"`
	Lots         []*state.PositionLot `json:"lots"`
	AsOfSequence int64                `json:"as_of_sequence"`
}
