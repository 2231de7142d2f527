package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"PoolLedger/internal/ledger"
	fpmath "PoolLedger/internal/math"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

var (
	investor = state.LotKey{Owner: "0xabc", Instrument: "pool1-senior"}
	t0       = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// ============================================================================
// Test: Queue
// ============================================================================

func TestQueue_ConsumesOldestFirst(t *testing.T) {
	q := ledger.NewQueue(
		&state.PositionLot{ID: "c", Quantity: big.NewInt(5), Price: wad(3), TimestampNano: 30},
		&state.PositionLot{ID: "a", Quantity: big.NewInt(5), Price: wad(1), TimestampNano: 10},
		&state.PositionLot{ID: "b", Quantity: big.NewInt(5), Price: wad(2), TimestampNano: 10, Seq: 1},
	)

	fill := q.Consume(big.NewInt(7), wad(4))
	if len(fill.Emptied) != 1 || fill.Emptied[0].ID != "a" {
		t.Fatalf("expected lot a emptied first, got %+v", fill.Emptied)
	}
	if fill.Partial == nil || fill.Partial.ID != "b" || fill.Partial.Quantity.Int64() != 3 {
		t.Fatalf("expected lot b left with 3, got %+v", fill.Partial)
	}
	// 5*(4-1) + 2*(4-2)
	if got := fill.Profit().Int64(); got != 19 {
		t.Errorf("profit = %d, want 19", got)
	}
	if q.Total().Int64() != 8 {
		t.Errorf("total = %s, want 8", q.Total())
	}
}

func TestQueue_ShortFill(t *testing.T) {
	q := ledger.NewQueue(&state.PositionLot{ID: "a", Quantity: big.NewInt(5), Price: wad(1)})
	fill := q.Consume(big.NewInt(8), wad(1))
	if fill.Remaining.Int64() != 3 {
		t.Errorf("remaining = %s, want 3", fill.Remaining)
	}
	if q.Len() != 0 {
		t.Errorf("queue should be empty")
	}
}

// ============================================================================
// Test: Ledger
// ============================================================================

func TestLedger_BuySellProfit(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(persistence.NewMemoryStore())

	if _, err := l.Buy(ctx, investor, "0x01", t0, big.NewInt(100), wad(2)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	profit, err := l.SellFIFO(ctx, investor, big.NewInt(60), wad(3))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if profit.Int64() != 60 {
		t.Errorf("profit = %s, want 60", profit)
	}

	lots, err := l.Lots(ctx, investor)
	if err != nil {
		t.Fatalf("lots: %v", err)
	}
	if len(lots) != 1 || lots[0].Quantity.Int64() != 40 || lots[0].Price.Cmp(wad(2)) != 0 {
		t.Fatalf("remaining lots = %+v, want one lot of 40 @ 2", lots)
	}
}

func TestLedger_RoundTripAtEqualPriceIsZero(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(persistence.NewMemoryStore())

	price := fpmath.MustParse("1234567890123456789")
	for i := 0; i < 3; i++ {
		if _, err := l.Buy(ctx, investor, "0x01", t0.Add(time.Duration(i)*time.Minute), big.NewInt(333), price); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}
	profit, err := l.SellFIFO(ctx, investor, big.NewInt(999), price)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if profit.Sign() != 0 {
		t.Errorf("profit = %s, want 0", profit)
	}
	holding, _ := l.Holding(ctx, investor)
	if holding.Sign() != 0 {
		t.Errorf("holding = %s, want 0", holding)
	}
}

func TestLedger_InsufficientLotsMutatesNothing(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	l := ledger.New(store)

	if _, err := l.Buy(ctx, investor, "0x01", t0, big.NewInt(10), wad(1)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	_, err := l.SellFIFO(ctx, investor, big.NewInt(11), wad(2))
	if !errors.Is(err, ledger.ErrInsufficientLots) {
		t.Fatalf("expected ErrInsufficientLots, got %v", err)
	}
	if !errors.Is(err, state.ErrDataConsistency) {
		t.Errorf("insufficient lots must be a data consistency fault")
	}

	holding, _ := l.Holding(ctx, investor)
	if holding.Int64() != 10 {
		t.Errorf("holding = %s, want 10 untouched", holding)
	}
}

func TestLedger_SameTimestampKeepsBuyOrder(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(persistence.NewMemoryStore()).WithPageSize(2)

	prices := []int64{5, 1, 9, 2, 7}
	for _, p := range prices {
		if _, err := l.Buy(ctx, investor, "0x01", t0, big.NewInt(1), wad(p)); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}

	// Crosses page boundaries; consumes the first four buys in order
	profit, err := l.SellFIFO(ctx, investor, big.NewInt(4), wad(10))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if want := int64((10 - 5) + (10 - 1) + (10 - 9) + (10 - 2)); profit.Int64() != want {
		t.Errorf("profit = %s, want %d", profit, want)
	}

	lots, _ := l.Lots(ctx, investor)
	if len(lots) != 1 || lots[0].Price.Cmp(wad(7)) != 0 {
		t.Fatalf("expected the last lot @ 7 to remain, got %+v", lots)
	}
}

func TestLedger_QueuesAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(persistence.NewMemoryStore())
	other := state.LotKey{Owner: "0xdef", Instrument: investor.Instrument}

	if _, err := l.Buy(ctx, investor, "0x01", t0, big.NewInt(10), wad(1)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := l.SellFIFO(ctx, other, big.NewInt(1), wad(1)); !errors.Is(err, ledger.ErrInsufficientLots) {
		t.Fatalf("expected other owner to hold nothing, got %v", err)
	}
}

func TestLedger_NegativeProfitTruncatesOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(persistence.NewMemoryStore())

	// Two lots each losing 0.5 per unit: truncating per lot would lose the sum
	half := new(big.Int).Div(fpmath.Wad, big.NewInt(2))
	buyPrice := new(big.Int).Add(fpmath.Wad, half)
	l.Buy(ctx, investor, "0x01", t0, big.NewInt(1), buyPrice)
	l.Buy(ctx, investor, "0x02", t0.Add(time.Second), big.NewInt(1), buyPrice)

	profit, err := l.SellFIFO(ctx, investor, big.NewInt(2), fpmath.Wad)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if profit.Int64() != -1 {
		t.Errorf("profit = %s, want -1", profit)
	}
}
