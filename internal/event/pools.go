package event

import "math/big"

// TrancheParams describes one tranche at pool creation or update, most junior first.
type TrancheParams struct {
	TrancheID          string   `json:"tranche_id"`
	Index              int      `json:"index"`
	InterestRatePerSec *big.Int `json:"interest_rate_per_sec,omitempty"`
	Supply             *big.Int `json:"supply,omitempty"`
	TokenPrice         *big.Int `json:"token_price,omitempty"`
}

type PoolCreated struct {
	Base
	PoolID           string        `json:"pool_id"`
	CurrencyID       string        `json:"currency_id"`
	CurrencySymbol   string        `json:"currency_symbol,omitempty"`
	CurrencyDecimals int           `json:"currency_decimals"`
	MaxReserve       *big.Int      `json:"max_reserve"`
	MaxNavAge        uint64        `json:"max_nav_age"`
	MinEpochTime     uint64        `json:"min_epoch_time"`
	Tranches         []TrancheParams `json:"tranches"`
}

func (e *PoolCreated) EventType() EventType { return EventTypePoolCreated }
func (e *PoolCreated) Pool() string         { return e.PoolID }

// PoolUpdated replaces the pool parameters and its tranche set.
type PoolUpdated struct {
	Base
	PoolID       string        `json:"pool_id"`
	MaxReserve   *big.Int      `json:"max_reserve,omitempty"`
	MaxNavAge    *uint64       `json:"max_nav_age,omitempty"`
	MinEpochTime *uint64       `json:"min_epoch_time,omitempty"`
	Tranches     []TrancheParams `json:"tranches"`
}

func (e *PoolUpdated) EventType() EventType { return EventTypePoolUpdated }
func (e *PoolUpdated) Pool() string         { return e.PoolID }

type MetadataSet struct {
	Base
	PoolID   string `json:"pool_id"`
	Metadata string `json:"metadata"`
}

func (e *MetadataSet) EventType() EventType { return EventTypeMetadataSet }
func (e *MetadataSet) Pool() string         { return e.PoolID }

type EpochClosed struct {
	Base
	PoolID string `json:"pool_id"`
	Epoch  uint64 `json:"epoch"`
}

func (e *EpochClosed) EventType() EventType { return EventTypeEpochClosed }
func (e *EpochClosed) Pool() string         { return e.PoolID }

// TrancheSolution is the executed outcome of one tranche. Fulfillment values are
// WAD-scaled fractions. Supply, when present, is the on-chain supply after execution.
type TrancheSolution struct {
	TrancheID         string   `json:"tranche_id"`
	TokenPrice        *big.Int `json:"token_price"`
	InvestFulfillment *big.Int `json:"invest_fulfillment"`
	RedeemFulfillment *big.Int `json:"redeem_fulfillment"`
	Supply            *big.Int `json:"supply,omitempty"`
}

type EpochExecuted struct {
	Base
	PoolID       string            `json:"pool_id"`
	Epoch        uint64            `json:"epoch"`
	Tranches     []TrancheSolution `json:"tranches"`
	PoolFeesPaid *big.Int          `json:"pool_fees_paid,omitempty"`
}

func (e *EpochExecuted) EventType() EventType { return EventTypeEpochExecuted }
func (e *EpochExecuted) Pool() string         { return e.PoolID }

// OracleFed is a price pushed for a key. Assets priced by that key pick it up.
type OracleFed struct {
	Base
	Feeder string   `json:"feeder"`
	Key    string   `json:"key"`
	Value  *big.Int `json:"value"`
}

func (e *OracleFed) EventType() EventType { return EventTypeOracleFed }
func (e *OracleFed) Pool() string         { return "" }

// BlockTick triggers the periodic work of a block: period snapshots and legacy pool sync.
type BlockTick struct {
	Base
}

func (e *BlockTick) EventType() EventType { return EventTypeBlockTick }
func (e *BlockTick) Pool() string         { return "" }
