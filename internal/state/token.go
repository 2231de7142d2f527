package state

import (
	"fmt"
	"strings"
)

const (
	EntityCurrency     = "currency"
	EntityTrancheToken = "tranche_token"
)

type Currency struct {
	ID       string `json:"id"`
	ChainID  string `json:"chain_id"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals"`
}

func (c *Currency) EntityName() string { return EntityCurrency }
func (c *Currency) EntityID() string   { return c.ID }

func CurrencyKey(chainID, currencyID string) string {
	return fmt.Sprintf("%s-%s", chainID, currencyID)
}

// TrancheToken maps a deployed EVM tranche token to its pool and tranche.
type TrancheToken struct {
	ID            string `json:"id"`
	ChainID       string `json:"chain_id"`
	PoolID        string `json:"pool_id"`
	TrancheID     string `json:"tranche_id"`
	PoolManager   string `json:"pool_manager"`
	EscrowAddress string `json:"escrow_address,omitempty"`
}

func (t *TrancheToken) EntityName() string { return EntityTrancheToken }
func (t *TrancheToken) EntityID() string   { return t.ID }

func TrancheTokenKey(address string) string {
	return strings.ToLower(address)
}
