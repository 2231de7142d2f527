package event

import (
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
)

// PrincipalAmount is either an internal currency amount or an external
// quantity settled at a price.
type PrincipalAmount struct {
	Amount          *big.Int `json:"amount,omitempty"`
	Quantity        *big.Int `json:"quantity,omitempty"`
	SettlementPrice *big.Int `json:"settlement_price,omitempty"`
}

func (p PrincipalAmount) IsExternal() bool { return p.Quantity != nil }

// Value is the currency amount. External amounts without one are worth quantity·price/WAD.
func (p PrincipalAmount) Value() *big.Int {
	if p.Amount != nil {
		return fpmath.Clone(p.Amount)
	}
	if p.IsExternal() {
		return fpmath.MulWad(p.Quantity, p.SettlementPrice)
	}
	return new(big.Int)
}

type RepaidAmount struct {
	Principal   PrincipalAmount `json:"principal"`
	Interest    *big.Int        `json:"interest"`
	Unscheduled *big.Int        `json:"unscheduled"`
}

// Total is principal + interest + unscheduled.
func (r RepaidAmount) Total() *big.Int {
	return fpmath.Sum(r.Principal.Value(), r.Interest, r.Unscheduled)
}

// LoanPricing describes how a loan is valued.
type LoanPricing struct {
	Internal        bool     `json:"internal"`
	ValuationMethod string   `json:"valuation_method,omitempty"`
	PriceID         string   `json:"price_id,omitempty"`
	Notional        *big.Int `json:"notional,omitempty"`
}

type LoanCreated struct {
	Base
	PoolID          string      `json:"pool_id"`
	LoanID          string      `json:"loan_id"`
	Pricing         LoanPricing `json:"pricing"`
	CollateralClass string      `json:"collateral_class,omitempty"`
	CollateralItem  string      `json:"collateral_item,omitempty"`
	MaturityDate    *time.Time  `json:"maturity_date,omitempty"`
}

func (e *LoanCreated) EventType() EventType { return EventTypeLoanCreated }
func (e *LoanCreated) Pool() string         { return e.PoolID }

type LoanBorrowed struct {
	Base
	PoolID string          `json:"pool_id"`
	LoanID string          `json:"loan_id"`
	Amount PrincipalAmount `json:"amount"`
}

func (e *LoanBorrowed) EventType() EventType { return EventTypeLoanBorrowed }
func (e *LoanBorrowed) Pool() string         { return e.PoolID }

type LoanRepaid struct {
	Base
	PoolID string       `json:"pool_id"`
	LoanID string       `json:"loan_id"`
	Amount RepaidAmount `json:"amount"`
}

func (e *LoanRepaid) EventType() EventType { return EventTypeLoanRepaid }
func (e *LoanRepaid) Pool() string         { return e.PoolID }

type LoanWrittenOff struct {
	Base
	PoolID     string   `json:"pool_id"`
	LoanID     string   `json:"loan_id"`
	Percentage *big.Int `json:"percentage"`
	Penalty    *big.Int `json:"penalty"`
}

func (e *LoanWrittenOff) EventType() EventType { return EventTypeLoanWrittenOff }
func (e *LoanWrittenOff) Pool() string         { return e.PoolID }

type LoanClosed struct {
	Base
	PoolID string `json:"pool_id"`
	LoanID string `json:"loan_id"`
}

func (e *LoanClosed) EventType() EventType { return EventTypeLoanClosed }
func (e *LoanClosed) Pool() string         { return e.PoolID }

type LoanDebtTransferred struct {
	Base
	PoolID     string          `json:"pool_id"`
	FromLoanID string          `json:"from_loan_id"`
	ToLoanID   string          `json:"to_loan_id"`
	Repaid     RepaidAmount    `json:"repaid"`
	Borrowed   PrincipalAmount `json:"borrowed"`
}

func (e *LoanDebtTransferred) EventType() EventType { return EventTypeLoanDebtTransferred }
func (e *LoanDebtTransferred) Pool() string         { return e.PoolID }

// LoanDebtTransferredLegacy is the single-amount variant emitted by older runtimes.
type LoanDebtTransferredLegacy struct {
	Base
	PoolID     string   `json:"pool_id"`
	FromLoanID string   `json:"from_loan_id"`
	ToLoanID   string   `json:"to_loan_id"`
	Amount     *big.Int `json:"amount"`
}

func (e *LoanDebtTransferredLegacy) EventType() EventType { return EventTypeLoanDebtTransferredLegacy }
func (e *LoanDebtTransferredLegacy) Pool() string         { return e.PoolID }

type LoanDebtIncreased struct {
	Base
	PoolID string          `json:"pool_id"`
	LoanID string          `json:"loan_id"`
	Amount PrincipalAmount `json:"amount"`
}

func (e *LoanDebtIncreased) EventType() EventType { return EventTypeLoanDebtIncreased }
func (e *LoanDebtIncreased) Pool() string         { return e.PoolID }

type LoanDebtDecreased struct {
	Base
	PoolID string       `json:"pool_id"`
	LoanID string       `json:"loan_id"`
	Amount RepaidAmount `json:"amount"`
}

func (e *LoanDebtDecreased) EventType() EventType { return EventTypeLoanDebtDecreased }
func (e *LoanDebtDecreased) Pool() string         { return e.PoolID }
