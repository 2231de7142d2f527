package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
)

// ErrInsufficientLots means a sell asked for more than the queue ever held.
var ErrInsufficientLots = fmt.Errorf("insufficient lots: %w", state.ErrDataConsistency)

const defaultLotPage = 50

// Ledger keeps persisted FIFO lot queues.
type Ledger struct {
	store    persistence.Store
	pageSize int
}

func New(store persistence.Store) *Ledger {
	return &Ledger{store: store, pageSize: defaultLotPage}
}

// WithPageSize returns a copy of the ledger that reads lots in pages of n.
func (l *Ledger) WithPageSize(n int) *Ledger {
	cp := *l
	if n > 0 {
		cp.pageSize = n
	}
	return &cp
}

func LotID(key state.LotKey, hash string, seq int64) string {
	return fmt.Sprintf("%s-%s-%s-%d", key.Owner, key.Instrument, hash, seq)
}

// Buy appends a lot. A zero quantity is a no-op.
func (l *Ledger) Buy(ctx context.Context, key state.LotKey, hash string, ts time.Time, quantity, price *big.Int) (*state.PositionLot, error) {
	if fpmath.OrZero(quantity).Sign() < 0 {
		return nil, state.Inconsistent("buy of negative quantity %s on %s", quantity, key)
	}
	if fpmath.IsZero(quantity) {
		return nil, nil
	}

	cursor, err := persistence.LoadOrNil[state.LotCursor](ctx, l.store, key.String())
	if err != nil {
		return nil, fmt.Errorf("load lot cursor %s: %w", key, err)
	}
	if cursor == nil {
		cursor = &state.LotCursor{ID: key.String()}
	}
	seq := cursor.NextSeq
	cursor.NextSeq++

	lot := &state.PositionLot{
		ID:            LotID(key, hash, seq),
		Owner:         key.Owner,
		Instrument:    key.Instrument,
		Hash:          hash,
		Quantity:      fpmath.Clone(quantity),
		Price:         fpmath.Clone(price),
		Timestamp:     ts.UTC(),
		TimestampNano: ts.UnixNano(),
		Seq:           seq,
	}
	if err := l.store.Save(ctx, lot); err != nil {
		return nil, err
	}
	if err := l.store.Save(ctx, cursor); err != nil {
		return nil, err
	}
	return lot, nil
}

// SellFIFO consumes quantity from the oldest lots and returns the realized profit
// Σ consumed·(price − lotPrice) / WAD. If the queue holds less than quantity it
// returns ErrInsufficientLots and leaves storage untouched.
func (l *Ledger) SellFIFO(ctx context.Context, key state.LotKey, quantity, price *big.Int) (*big.Int, error) {
	if fpmath.OrZero(quantity).Sign() < 0 {
		return nil, state.Inconsistent("sell of negative quantity %s on %s", quantity, key)
	}
	if fpmath.IsZero(quantity) {
		return new(big.Int), nil
	}

	fill := Fill{Filled: new(big.Int), Remaining: fpmath.Clone(quantity), profitNumerator: new(big.Int)}
	for offset := 0; fill.Remaining.Sign() > 0; {
		page, err := l.page(ctx, key, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)
		fill.merge(NewQueue(page...).Consume(fill.Remaining, price))
		if len(page) < l.pageSize {
			break
		}
	}

	if fill.Remaining.Sign() > 0 {
		return nil, fmt.Errorf("sell %s of %s, %s available: %w", quantity, key, fill.Filled, ErrInsufficientLots)
	}

	for _, lot := range fill.Emptied {
		if err := l.store.Remove(ctx, state.EntityPositionLot, lot.ID); err != nil {
			return nil, err
		}
	}
	if fill.Partial != nil {
		if err := l.store.Save(ctx, fill.Partial); err != nil {
			return nil, err
		}
	}
	return fill.Profit(), nil
}

// Lots returns the whole queue oldest first.
func (l *Ledger) Lots(ctx context.Context, key state.LotKey) ([]*state.PositionLot, error) {
	var all []*state.PositionLot
	for offset := 0; ; {
		page, err := l.page(ctx, key, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < l.pageSize {
			return all, nil
		}
		offset += len(page)
	}
}

// Holding is the quantity left in a queue.
func (l *Ledger) Holding(ctx context.Context, key state.LotKey) (*big.Int, error) {
	lots, err := l.Lots(ctx, key)
	if err != nil {
		return nil, err
	}
	return NewQueue(lots...).Total(), nil
}

func (l *Ledger) page(ctx context.Context, key state.LotKey, offset int) ([]*state.PositionLot, error) {
	lots, err := persistence.Find[state.PositionLot](ctx, l.store,
		[]persistence.Filter{
			persistence.Eq("owner", key.Owner),
			persistence.Eq("instrument", key.Instrument),
		},
		persistence.Page{
			Limit:  l.pageSize,
			Offset: offset,
			OrderBy: []persistence.Order{
				{Field: "timestamp_nano"},
				{Field: "seq"},
			},
		})
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load lots %s: %w", key, err)
	}
	return lots, nil
}
