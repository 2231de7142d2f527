package state

import (
	"fmt"
	"math/big"
	"time"
)

const (
	EntityPoolSnapshot   = "pool_snapshot"
	EntityTimekeeper     = "timekeeper"
	EntityProcessedEvent = "processed_event"
)

// PoolSnapshot freezes the pool aggregates at an epoch execution or period boundary.
type PoolSnapshot struct {
	ID          string    `json:"id"`
	PoolID      string    `json:"pool_id"`
	Ref         string    `json:"ref"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`

	SumDebt                           *big.Int `json:"sum_debt"`
	SumBorrowedAmount                 *big.Int `json:"sum_borrowed_amount"`
	SumBorrowedAmountByPeriod         *big.Int `json:"sum_borrowed_amount_by_period"`
	SumRepaidAmount                   *big.Int `json:"sum_repaid_amount"`
	SumRepaidAmountByPeriod           *big.Int `json:"sum_repaid_amount_by_period"`
	SumBorrowsCount                   uint64   `json:"sum_borrows_count"`
	SumRepaysCount                    uint64   `json:"sum_repays_count"`
	WeightedAverageInterestRatePerSec *big.Int `json:"weighted_average_interest_rate_per_sec"`
	PortfolioValuation                *big.Int `json:"portfolio_valuation"`
	TotalReserve                      *big.Int `json:"total_reserve"`
	OffchainCashValue                 *big.Int `json:"offchain_cash_value"`
	NetAssetValue                     *big.Int `json:"net_asset_value"`
	NormalizedNAV                     *big.Int `json:"normalized_nav"`
	SumInvestedAmount                 *big.Int `json:"sum_invested_amount"`
	SumRedeemedAmount                 *big.Int `json:"sum_redeemed_amount"`
	SumRealizedProfitFifo             *big.Int `json:"sum_realized_profit_fifo"`
	CurrentEpoch                      uint64   `json:"current_epoch"`
}

func (s *PoolSnapshot) EntityName() string { return EntityPoolSnapshot }
func (s *PoolSnapshot) EntityID() string   { return s.ID }

// SnapshotOf copies the pool's figures; ref names the epoch or period the snapshot belongs to.
func SnapshotOf(p *Pool, ref string, block uint64, ts time.Time) *PoolSnapshot {
	return &PoolSnapshot{
		ID:                                fmt.Sprintf("%s-%s", p.ID, ref),
		PoolID:                            p.ID,
		Ref:                               ref,
		BlockNumber:                       block,
		Timestamp:                         ts,
		SumDebt:                           p.SumDebt,
		SumBorrowedAmount:                 p.SumBorrowedAmount,
		SumBorrowedAmountByPeriod:         p.SumBorrowedAmountByPeriod,
		SumRepaidAmount:                   p.SumRepaidAmount,
		SumRepaidAmountByPeriod:           p.SumRepaidAmountByPeriod,
		SumBorrowsCount:                   p.SumBorrowsCount,
		SumRepaysCount:                    p.SumRepaysCount,
		WeightedAverageInterestRatePerSec: p.WeightedAverageInterestRatePerSec,
		PortfolioValuation:                p.PortfolioValuation,
		TotalReserve:                      p.TotalReserve,
		OffchainCashValue:                 p.OffchainCashValue,
		NetAssetValue:                     p.NetAssetValue,
		NormalizedNAV:                     p.NormalizedNAV,
		SumInvestedAmount:                 p.SumInvestedAmount,
		SumRedeemedAmount:                 p.SumRedeemedAmount,
		SumRealizedProfitFifo:             p.SumRealizedProfitFifo,
		CurrentEpoch:                      p.CurrentEpoch,
	}
}

// Timekeeper is the per-chain checkpoint: the last period boundary and the
// last applied event position, committed together with the state it produced.
type Timekeeper struct {
	ID                 string    `json:"id"`
	LastPeriodStart    time.Time `json:"last_period_start"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	LastEventIndex     uint32    `json:"last_event_index"`
	LastSequence       int64     `json:"last_sequence"`
	LastStateHash      []byte    `json:"last_state_hash,omitempty"`
}

func (t *Timekeeper) EntityName() string { return EntityTimekeeper }
func (t *Timekeeper) EntityID() string   { return t.ID }

// ProcessedEvent marks one applied event. It is written in the same unit of
// work as the event's effects.
type ProcessedEvent struct {
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	Key         string `json:"key"`
	ChainID     string `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	Sequence    int64  `json:"sequence"`
}

func (e *ProcessedEvent) EntityName() string { return EntityProcessedEvent }
func (e *ProcessedEvent) EntityID() string   { return e.ID }

func ProcessedEventKey(eventType, key string) string {
	return fmt.Sprintf("%s:%s", eventType, key)
}

// PeriodRef names a period snapshot.
func PeriodRef(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// PeriodStart truncates ts to its UTC day.
func PeriodStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(24 * time.Hour)
}
