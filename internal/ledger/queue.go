package ledger

import (
	"math/big"

	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/state"

	"github.com/google/btree"
)

const btreeDegree = 16

// lotLess orders lots oldest first. Seq breaks timestamp ties, id breaks the rest.
func lotLess(a, b *state.PositionLot) bool {
	if a.TimestampNano != b.TimestampNano {
		return a.TimestampNano < b.TimestampNano
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// Queue is an in-memory FIFO of lots for one (owner, instrument) pair.
type Queue struct {
	tree *btree.BTreeG[*state.PositionLot]
}

func NewQueue(lots ...*state.PositionLot) *Queue {
	q := &Queue{tree: btree.NewG(btreeDegree, lotLess)}
	for _, l := range lots {
		q.Push(l)
	}
	return q
}

// Push adds a lot. Empty lots are ignored.
func (q *Queue) Push(lot *state.PositionLot) {
	if !fpmath.IsPositive(lot.Quantity) {
		return
	}
	q.tree.ReplaceOrInsert(lot)
}

func (q *Queue) Len() int { return q.tree.Len() }

// Total is the quantity held across all lots.
func (q *Queue) Total() *big.Int {
	total := new(big.Int)
	q.tree.Ascend(func(l *state.PositionLot) bool {
		total.Add(total, l.Quantity)
		return true
	})
	return total
}

// Lots returns the lots oldest first.
func (q *Queue) Lots() []*state.PositionLot {
	lots := make([]*state.PositionLot, 0, q.tree.Len())
	q.tree.Ascend(func(l *state.PositionLot) bool {
		lots = append(lots, l)
		return true
	})
	return lots
}

// Fill is the outcome of consuming a queue.
type Fill struct {
	// Emptied lots were fully consumed and left the queue
	Emptied []*state.PositionLot
	// Partial is the lot consumed in part, with its quantity already decremented
	Partial *state.PositionLot

	Filled    *big.Int
	Remaining *big.Int

	// Σ consumed * (price - lotPrice), still WAD-scaled
	profitNumerator *big.Int
}

// Profit is the realized profit of the fill, truncated to whole units once.
func (f Fill) Profit() *big.Int {
	return fpmath.Div(f.profitNumerator, fpmath.Wad, fpmath.RoundDown)
}

func (f *Fill) merge(other Fill) {
	f.Emptied = append(f.Emptied, other.Emptied...)
	if other.Partial != nil {
		f.Partial = other.Partial
	}
	f.Filled = fpmath.Add(f.Filled, other.Filled)
	f.Remaining = other.Remaining
	f.profitNumerator = fpmath.Add(f.profitNumerator, other.profitNumerator)
}

// Consume takes up to quantity from the oldest lots at the given sell price.
// Remaining is the part the queue could not cover.
func (q *Queue) Consume(quantity, price *big.Int) Fill {
	fill := Fill{
		Filled:          new(big.Int),
		Remaining:       fpmath.Clone(quantity),
		profitNumerator: new(big.Int),
	}

	for fill.Remaining.Sign() > 0 {
		oldest, ok := q.tree.Min()
		if !ok {
			break
		}

		taken := fpmath.Min(oldest.Quantity, fill.Remaining)
		spread := fpmath.Sub(price, oldest.Price)
		fill.profitNumerator.Add(fill.profitNumerator, fpmath.Mul(taken, spread))
		fill.Filled.Add(fill.Filled, taken)
		fill.Remaining.Sub(fill.Remaining, taken)

		if taken.Cmp(oldest.Quantity) == 0 {
			q.tree.DeleteMin()
			fill.Emptied = append(fill.Emptied, oldest)
			continue
		}

		decremented := *oldest
		decremented.Quantity = fpmath.Sub(oldest.Quantity, taken)
		q.tree.ReplaceOrInsert(&decremented)
		fill.Partial = &decremented
	}

	return fill
}
