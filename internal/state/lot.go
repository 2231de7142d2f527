package state

import (
	"fmt"
	"math/big"
	"time"
)

const (
	EntityPositionLot = "position_lot"
	EntityLotCursor   = "position_lot_cursor"
)

// LotKey identifies one FIFO queue: an investor account in a tranche, or a pool in an asset.
type LotKey struct {
	Owner      string
	Instrument string
}

func (k LotKey) String() string {
	return fmt.Sprintf("%s/%s", k.Owner, k.Instrument)
}

// PositionLot is one acquisition in a FIFO queue.
type PositionLot struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Instrument string `json:"instrument"`
	Hash       string `json:"hash"`

	Quantity *big.Int `json:"quantity"`
	Price    *big.Int `json:"price"`

	Timestamp     time.Time `json:"timestamp"`
	TimestampNano int64     `json:"timestamp_nano"`
	// Seq breaks ties between lots with equal timestamps
	Seq int64 `json:"seq"`
}

func (l *PositionLot) EntityName() string { return EntityPositionLot }
func (l *PositionLot) EntityID() string   { return l.ID }

func (l *PositionLot) Key() LotKey {
	return LotKey{Owner: l.Owner, Instrument: l.Instrument}
}

// LotCursor hands out lot sequence numbers per queue.
type LotCursor struct {
	ID      string `json:"id"`
	NextSeq int64  `json:"next_seq"`
}

func (c *LotCursor) EntityName() string { return EntityLotCursor }
func (c *LotCursor) EntityID() string   { return c.ID }
