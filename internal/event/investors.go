package event

import "math/big"

// InvestOrderUpdated sets an investor's pending invest amount (currency) for a tranche.
type InvestOrderUpdated struct {
	Base
	PoolID    string   `json:"pool_id"`
	TrancheID string   `json:"tranche_id"`
	AccountID string   `json:"account_id"`
	Amount    *big.Int `json:"amount"`
}

func (e *InvestOrderUpdated) EventType() EventType { return EventTypeInvestOrderUpdated }
func (e *InvestOrderUpdated) Pool() string         { return e.PoolID }

// RedeemOrderUpdated sets an investor's pending redeem amount (tokens) for a tranche.
type RedeemOrderUpdated struct {
	Base
	PoolID    string   `json:"pool_id"`
	TrancheID string   `json:"tranche_id"`
	AccountID string   `json:"account_id"`
	Amount    *big.Int `json:"amount"`
}

func (e *RedeemOrderUpdated) EventType() EventType { return EventTypeRedeemOrderUpdated }
func (e *RedeemOrderUpdated) Pool() string         { return e.PoolID }

// EVMTransfer is an ERC-20 Transfer log of a tranche token.
type EVMTransfer struct {
	Base
	Token  string   `json:"token"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Amount *big.Int `json:"amount"`
}

func (e *EVMTransfer) EventType() EventType { return EventTypeEVMTransfer }
func (e *EVMTransfer) Pool() string         { return "" }

// EVMDeployTranche is a PoolManager DeployTranche log.
type EVMDeployTranche struct {
	Base
	PoolManager string `json:"pool_manager"`
	PoolID      string `json:"pool_id"`
	TrancheID   string `json:"tranche_id"`
	Token       string `json:"token"`
}

func (e *EVMDeployTranche) EventType() EventType { return EventTypeEVMDeployTranche }
func (e *EVMDeployTranche) Pool() string         { return e.PoolID }
