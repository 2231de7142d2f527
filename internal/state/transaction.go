package state

import (
	"fmt"
	"math/big"
	"time"
)

const (
	EntityAssetTransaction  = "asset_transaction"
	EntityOracleTransaction = "oracle_transaction"
)

type AssetTransactionType string

const (
	AssetTxCreated                  AssetTransactionType = "CREATED"
	AssetTxBorrowed                 AssetTransactionType = "BORROWED"
	AssetTxRepaid                   AssetTransactionType = "REPAID"
	AssetTxClosed                   AssetTransactionType = "CLOSED"
	AssetTxCashTransfer             AssetTransactionType = "CASH_TRANSFER"
	AssetTxDepositFromInvestments   AssetTransactionType = "DEPOSIT_FROM_INVESTMENTS"
	AssetTxWithdrawalForRedemptions AssetTransactionType = "WITHDRAWAL_FOR_REDEMPTIONS"
	AssetTxWithdrawalForFees        AssetTransactionType = "WITHDRAWAL_FOR_FEES"
	AssetTxIncreaseDebt             AssetTransactionType = "INCREASE_DEBT"
	AssetTxDecreaseDebt             AssetTransactionType = "DECREASE_DEBT"
)

// AssetTransaction is the audit record of one movement on an asset.
type AssetTransaction struct {
	ID          string               `json:"id"`
	Type        AssetTransactionType `json:"type"`
	PoolID      string               `json:"pool_id"`
	AssetID     string               `json:"asset_id"`
	EpochNumber uint64               `json:"epoch_number"`
	Hash        string               `json:"hash"`
	Timestamp   time.Time            `json:"timestamp"`

	Amount            *big.Int `json:"amount,omitempty"`
	PrincipalAmount   *big.Int `json:"principal_amount,omitempty"`
	InterestAmount    *big.Int `json:"interest_amount,omitempty"`
	UnscheduledAmount *big.Int `json:"unscheduled_amount,omitempty"`
	Quantity          *big.Int `json:"quantity,omitempty"`
	SettlementPrice   *big.Int `json:"settlement_price,omitempty"`

	FromAssetID        string   `json:"from_asset_id,omitempty"`
	ToAssetID          string   `json:"to_asset_id,omitempty"`
	RealizedProfitFifo *big.Int `json:"realized_profit_fifo,omitempty"`
}

func (t *AssetTransaction) EntityName() string { return EntityAssetTransaction }
func (t *AssetTransaction) EntityID() string   { return t.ID }

func AssetTransactionKey(hash string, epoch uint64, txType AssetTransactionType, assetID string) string {
	return fmt.Sprintf("%s-%d-%s-%s", hash, epoch, txType, assetID)
}

// OracleTransaction records one value pushed by an oracle feeder.
type OracleTransaction struct {
	ID        string    `json:"id"`
	Feeder    string    `json:"feeder"`
	Key       string    `json:"key"`
	Value     *big.Int  `json:"value"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

func (t *OracleTransaction) EntityName() string { return EntityOracleTransaction }
func (t *OracleTransaction) EntityID() string   { return t.ID }
