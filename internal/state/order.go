package state

import (
	"fmt"
	"math/big"
	"time"

	fpmath "PoolLedger/internal/math"
)

const (
	EntityOutstandingOrder    = "outstanding_order"
	EntityInvestorTransaction = "investor_transaction"
)

// OutstandingOrder is an investor's pending invest/redeem volume for one tranche.
type OutstandingOrder struct {
	ID          string    `json:"id"`
	PoolID      string    `json:"pool_id"`
	TrancheID   string    `json:"tranche_id"`
	AccountID   string    `json:"account_id"`
	Hash        string    `json:"hash"`
	EpochNumber uint64    `json:"epoch_number"`
	Timestamp   time.Time `json:"timestamp"`

	// Currency amount
	InvestAmount *big.Int `json:"invest_amount"`
	// Token amount
	RedeemAmount *big.Int `json:"redeem_amount"`
}

func (o *OutstandingOrder) EntityName() string { return EntityOutstandingOrder }
func (o *OutstandingOrder) EntityID() string   { return o.ID }

func OutstandingOrderKey(poolID, trancheID, accountID string) string {
	return fmt.Sprintf("%s-%s-%s", poolID, trancheID, accountID)
}

func NewOutstandingOrder(poolID, trancheID, accountID string) *OutstandingOrder {
	return &OutstandingOrder{
		ID:           OutstandingOrderKey(poolID, trancheID, accountID),
		PoolID:       poolID,
		TrancheID:    trancheID,
		AccountID:    accountID,
		InvestAmount: new(big.Int),
		RedeemAmount: new(big.Int),
	}
}

func (o *OutstandingOrder) UpdateUnfulfilledInvest(executedCurrency *big.Int) {
	o.InvestAmount = fpmath.Max0(fpmath.Sub(o.InvestAmount, executedCurrency))
}

func (o *OutstandingOrder) UpdateUnfulfilledRedeem(executedTokens *big.Int) {
	o.RedeemAmount = fpmath.Max0(fpmath.Sub(o.RedeemAmount, executedTokens))
}

// IsSettled reports whether nothing is left to fulfill.
func (o *OutstandingOrder) IsSettled() bool {
	return fpmath.IsZero(o.InvestAmount) && fpmath.IsZero(o.RedeemAmount)
}

type InvestorTransactionType string

const (
	InvestorTxExecuteInvest   InvestorTransactionType = "EXECUTE_INVEST"
	InvestorTxExecuteRedeem   InvestorTransactionType = "EXECUTE_REDEEM"
	InvestorTxInvestOrder     InvestorTransactionType = "INVEST_ORDER_UPDATE"
	InvestorTxRedeemOrder     InvestorTransactionType = "REDEEM_ORDER_UPDATE"
	InvestorTxTransferIn      InvestorTransactionType = "TRANSFER_IN"
	InvestorTxTransferOut     InvestorTransactionType = "TRANSFER_OUT"
	InvestorTxInvestLpCollect InvestorTransactionType = "INVEST_LP_COLLECT"
)

type InvestorTransaction struct {
	ID          string                  `json:"id"`
	Type        InvestorTransactionType `json:"type"`
	PoolID      string                  `json:"pool_id"`
	TrancheID   string                  `json:"tranche_id"`
	AccountID   string                  `json:"account_id"`
	EpochNumber uint64                  `json:"epoch_number"`
	Hash        string                  `json:"hash"`
	Timestamp   time.Time               `json:"timestamp"`

	TokenPrice     *big.Int `json:"token_price"`
	CurrencyAmount *big.Int `json:"currency_amount"`
	TokenAmount    *big.Int `json:"token_amount"`

	RealizedProfitFifo *big.Int `json:"realized_profit_fifo,omitempty"`
}

func (t *InvestorTransaction) EntityName() string { return EntityInvestorTransaction }
func (t *InvestorTransaction) EntityID() string   { return t.ID }

func InvestorTransactionKey(hash, accountID, trancheID string, epoch uint64, txType InvestorTransactionType) string {
	return fmt.Sprintf("%s-%s-%s-%d-%s", hash, accountID, trancheID, epoch, txType)
}
