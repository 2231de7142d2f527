package event

import (
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolCreated
	EventTypePoolUpdated
	EventTypeMetadataSet
	EventTypeEpochClosed
	EventTypeEpochExecuted
	EventTypeLoanCreated
	EventTypeLoanBorrowed
	EventTypeLoanRepaid
	EventTypeLoanWrittenOff
	EventTypeLoanClosed
	EventTypeLoanDebtTransferred
	EventTypeLoanDebtTransferredLegacy
	EventTypeLoanDebtIncreased
	EventTypeLoanDebtDecreased
	EventTypeOracleFed
	EventTypeInvestOrderUpdated
	EventTypeRedeemOrderUpdated
	EventTypeEVMTransfer
	EventTypeEVMDeployTranche
	EventTypeBlockTick
)

var eventTypeNames = map[EventType]string{
	EventTypePoolCreated:               "PoolCreated",
	EventTypePoolUpdated:               "PoolUpdated",
	EventTypeMetadataSet:               "MetadataSet",
	EventTypeEpochClosed:               "EpochClosed",
	EventTypeEpochExecuted:             "EpochExecuted",
	EventTypeLoanCreated:               "LoanCreated",
	EventTypeLoanBorrowed:              "LoanBorrowed",
	EventTypeLoanRepaid:                "LoanRepaid",
	EventTypeLoanWrittenOff:            "LoanWrittenOff",
	EventTypeLoanClosed:                "LoanClosed",
	EventTypeLoanDebtTransferred:       "LoanDebtTransferred",
	EventTypeLoanDebtTransferredLegacy: "LoanDebtTransferredLegacy",
	EventTypeLoanDebtIncreased:         "LoanDebtIncreased",
	EventTypeLoanDebtDecreased:         "LoanDebtDecreased",
	EventTypeOracleFed:                 "OracleFed",
	EventTypeInvestOrderUpdated:        "InvestOrderUpdated",
	EventTypeRedeemOrderUpdated:        "RedeemOrderUpdated",
	EventTypeEVMTransfer:               "EVMTransfer",
	EventTypeEVMDeployTranche:          "EVMDeployTranche",
	EventTypeBlockTick:                 "BlockTick",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType maps a wire name back to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// Context is the chain position and origin of one event, resolved once and
// passed to every handler.
type Context struct {
	ChainID     string    `json:"chain_id"`
	BlockNumber uint64    `json:"block"`
	EventIndex  uint32    `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	SpecVersion uint32    `json:"spec_version,omitempty"`
	TxHash      string    `json:"hash,omitempty"`
	Signer      string    `json:"signer,omitempty"`
}

// Key is the stable position of the event on its chain.
func (c Context) Key() string {
	return fmt.Sprintf("%s:%d:%d", c.ChainID, c.BlockNumber, c.EventIndex)
}

// Hash returns the transaction hash, falling back to the chain position for
// events emitted outside a transaction.
func (c Context) Hash() string {
	if c.TxHash != "" {
		return c.TxHash
	}
	return c.Key()
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Pool returns the pool the event mutates ("" when not pool-scoped)
	Pool() string

	Meta() Context
	SetMeta(Context)
}

// Base carries the Context shared by every event kind.
type Base struct {
	Ctx Context `json:"-"`
}

func (b *Base) Meta() Context          { return b.Ctx }
func (b *Base) SetMeta(c Context)      { b.Ctx = c }
func (b *Base) IdempotencyKey() string { return b.Ctx.Key() }
