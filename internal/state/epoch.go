package state

import (
	"fmt"
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
)

const (
	EntityEpoch      = "epoch"
	EntityEpochState = "epoch_state"
)

// EpochStatus is the settlement lifecycle of an epoch.
type EpochStatus string

const (
	EpochStatusOpen     EpochStatus = "OPEN"
	EpochStatusClosed   EpochStatus = "CLOSED"
	EpochStatusExecuted EpochStatus = "EXECUTED"
)

// CanTransitionTo validates epoch status transitions
func (s EpochStatus) CanTransitionTo(next EpochStatus) bool {
	validTransitions := map[EpochStatus][]EpochStatus{
		EpochStatusOpen:   {EpochStatusClosed},
		EpochStatusClosed: {EpochStatusExecuted},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Epoch struct {
	ID     string      `json:"id"`
	PoolID string      `json:"pool_id"`
	Index  uint64      `json:"index"`
	Status EpochStatus `json:"status"`

	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	SumBorrowedAmount     *big.Int `json:"sum_borrowed_amount"`
	SumRepaidAmount       *big.Int `json:"sum_repaid_amount"`
	SumInvestedAmount     *big.Int `json:"sum_invested_amount"`
	SumRedeemedAmount     *big.Int `json:"sum_redeemed_amount"`
	SumPoolFeesPaidAmount *big.Int `json:"sum_pool_fees_paid_amount"`
}

func (e *Epoch) EntityName() string { return EntityEpoch }
func (e *Epoch) EntityID() string   { return e.ID }

func EpochKey(poolID string, index uint64) string {
	return fmt.Sprintf("%s-%d", poolID, index)
}

func NewEpoch(poolID string, index uint64, ts time.Time) *Epoch {
	return &Epoch{
		ID:                    EpochKey(poolID, index),
		PoolID:                poolID,
		Index:                 index,
		Status:                EpochStatusOpen,
		OpenedAt:              ts,
		SumBorrowedAmount:     new(big.Int),
		SumRepaidAmount:       new(big.Int),
		SumInvestedAmount:     new(big.Int),
		SumRedeemedAmount:     new(big.Int),
		SumPoolFeesPaidAmount: new(big.Int),
	}
}

func (e *Epoch) transition(next EpochStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return Inconsistent("epoch %s cannot move from %s to %s", e.ID, e.Status, next)
	}
	e.Status = next
	return nil
}

func (e *Epoch) Close(ts time.Time) error {
	if err := e.transition(EpochStatusClosed); err != nil {
		return err
	}
	closed := ts
	e.ClosedAt = &closed
	return nil
}

func (e *Epoch) Execute(ts time.Time) error {
	if err := e.transition(EpochStatusExecuted); err != nil {
		return err
	}
	executed := ts
	e.ExecutedAt = &executed
	return nil
}

func (e *Epoch) IncreaseBorrowings(amount *big.Int) {
	e.SumBorrowedAmount = fpmath.Add(e.SumBorrowedAmount, amount)
}

func (e *Epoch) IncreaseRepayments(amount *big.Int) {
	e.SumRepaidAmount = fpmath.Add(e.SumRepaidAmount, amount)
}

// EpochState is the per-tranche order book summary of one epoch.
type EpochState struct {
	ID        string `json:"id"`
	EpochID   string `json:"epoch_id"`
	PoolID    string `json:"pool_id"`
	TrancheID string `json:"tranche_id"`

	TokenPrice *big.Int `json:"token_price"`

	SumOutstandingInvestOrders         *big.Int `json:"sum_outstanding_invest_orders"`
	SumOutstandingRedeemOrders         *big.Int `json:"sum_outstanding_redeem_orders"`
	SumOutstandingRedeemOrdersCurrency *big.Int `json:"sum_outstanding_redeem_orders_currency"`
	SumFulfilledInvestOrders           *big.Int `json:"sum_fulfilled_invest_orders"`
	SumFulfilledRedeemOrders           *big.Int `json:"sum_fulfilled_redeem_orders"`
	SumFulfilledRedeemOrdersCurrency   *big.Int `json:"sum_fulfilled_redeem_orders_currency"`

	// WAD-scaled fractions in [0, 1]
	InvestFulfillmentPercentage *big.Int `json:"invest_fulfillment_percentage"`
	RedeemFulfillmentPercentage *big.Int `json:"redeem_fulfillment_percentage"`
}

func (s *EpochState) EntityName() string { return EntityEpochState }
func (s *EpochState) EntityID() string   { return s.ID }

func NewEpochState(poolID string, index uint64, trancheID string) *EpochState {
	return &EpochState{
		ID:                                 fmt.Sprintf("%s-%s", EpochKey(poolID, index), trancheID),
		EpochID:                            EpochKey(poolID, index),
		PoolID:                             poolID,
		TrancheID:                          trancheID,
		TokenPrice:                         new(big.Int),
		SumOutstandingInvestOrders:         new(big.Int),
		SumOutstandingRedeemOrders:         new(big.Int),
		SumOutstandingRedeemOrdersCurrency: new(big.Int),
		SumFulfilledInvestOrders:           new(big.Int),
		SumFulfilledRedeemOrders:           new(big.Int),
		SumFulfilledRedeemOrdersCurrency:   new(big.Int),
		InvestFulfillmentPercentage:        new(big.Int),
		RedeemFulfillmentPercentage:        new(big.Int),
	}
}

// AddOutstandingInvest shifts the outstanding invest sum by newAmount - oldAmount.
func (s *EpochState) AddOutstandingInvest(newAmount, oldAmount *big.Int) {
	s.SumOutstandingInvestOrders = fpmath.Max0(fpmath.Add(s.SumOutstandingInvestOrders, fpmath.Sub(newAmount, oldAmount)))
}

// AddOutstandingRedeem shifts the outstanding redeem sum and its currency value at price.
func (s *EpochState) AddOutstandingRedeem(newAmount, oldAmount, price *big.Int) {
	s.SumOutstandingRedeemOrders = fpmath.Max0(fpmath.Add(s.SumOutstandingRedeemOrders, fpmath.Sub(newAmount, oldAmount)))
	s.SumOutstandingRedeemOrdersCurrency = fpmath.MulWad(s.SumOutstandingRedeemOrders, price)
}

// ApplyFulfillment fixes the epoch's price and fulfillment fractions and derives the fulfilled sums.
func (s *EpochState) ApplyFulfillment(price, investPct, redeemPct *big.Int) {
	s.TokenPrice = fpmath.Clone(price)
	s.InvestFulfillmentPercentage = fpmath.Clone(investPct)
	s.RedeemFulfillmentPercentage = fpmath.Clone(redeemPct)
	s.SumFulfilledInvestOrders = fpmath.ApplyFraction(s.SumOutstandingInvestOrders, investPct)
	s.SumFulfilledRedeemOrders = fpmath.ApplyFraction(s.SumOutstandingRedeemOrders, redeemPct)
	s.SumFulfilledRedeemOrdersCurrency = fpmath.MulWad(s.SumFulfilledRedeemOrders, price)
}

// CarryInvest is the unfulfilled invest volume passed to the next epoch.
func (s *EpochState) CarryInvest() *big.Int {
	return fpmath.Sub(s.SumOutstandingInvestOrders, s.SumFulfilledInvestOrders)
}

// CarryRedeem is the unfulfilled redeem volume passed to the next epoch.
func (s *EpochState) CarryRedeem() *big.Int {
	return fpmath.Sub(s.SumOutstandingRedeemOrders, s.SumFulfilledRedeemOrders)
}
