package evmsync

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ContractVersion is one deployment of a contract, effective from StartBlock.
type ContractVersion struct {
	Address    string `toml:"address"`
	StartBlock uint64 `toml:"start_block"`
}

// ContractVersions lists the deployments of one contract over time.
type ContractVersions []ContractVersion

// At returns the deployment with the greatest start block not after block. A
// single deployment is used from any block.
func (v ContractVersions) At(block uint64) (common.Address, bool) {
	if len(v) == 1 {
		if v[0].Address == "" {
			return common.Address{}, false
		}
		return common.HexToAddress(v[0].Address), true
	}
	sorted := append(ContractVersions(nil), v...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartBlock > sorted[j].StartBlock })
	for _, c := range sorted {
		if c.StartBlock <= block {
			if c.Address == "" {
				return common.Address{}, false
			}
			return common.HexToAddress(c.Address), true
		}
	}
	return common.Address{}, false
}

// Contracts are the contract sets of one legacy pool.
type Contracts struct {
	NavFeed  ContractVersions `toml:"nav_feed"`
	Reserve  ContractVersions `toml:"reserve"`
	Assessor ContractVersions `toml:"assessor"`
	Shelf    ContractVersions `toml:"shelf"`
	Pile     ContractVersions `toml:"pile"`
}

// LegacyPool is one pool read from contracts instead of events.
type LegacyPool struct {
	ID         string `toml:"id"`
	ShortName  string `toml:"short_name"`
	StartBlock uint64 `toml:"start_block"`

	// RAY per-second rate of the senior tranche
	SeniorInterestRate string `toml:"senior_interest_rate"`

	// Past this block the pool is zeroed and closed. 0 disables.
	CloseAfterBlock uint64 `toml:"close_after_block"`
	// Skip maturityDate lookups for new loans.
	SkipMaturity bool `toml:"skip_maturity"`

	Contracts Contracts `toml:"contracts"`
}

func (p LegacyPool) seniorRate() (*big.Int, error) {
	if p.SeniorInterestRate == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(p.SeniorInterestRate, 10)
	if !ok {
		return nil, fmt.Errorf("pool %s: invalid senior_interest_rate %q", p.ID, p.SeniorInterestRate)
	}
	return v, nil
}

func (p LegacyPool) closedAt(block uint64) bool {
	return p.CloseAfterBlock > 0 && block > p.CloseAfterBlock
}

// LegacyCurrency is the currency every legacy pool is denominated in.
type LegacyCurrency struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
}

// Registry is the legacy pool configuration of one chain.
type Registry struct {
	ChainID  string         `toml:"chain_id"`
	Currency LegacyCurrency `toml:"currency"`
	Pools    []LegacyPool   `toml:"pools"`
}

// Validate checks ids, rates and contract addresses.
func (r Registry) Validate() error {
	if len(r.Pools) > 0 && r.ChainID == "" {
		return fmt.Errorf("legacy registry: chain_id is required")
	}
	seen := make(map[string]bool, len(r.Pools))
	for _, p := range r.Pools {
		id := strings.ToLower(p.ID)
		if id == "" {
			return fmt.Errorf("legacy registry: pool without id")
		}
		if seen[id] {
			return fmt.Errorf("legacy registry: duplicate pool %s", p.ID)
		}
		seen[id] = true
		if _, err := p.seniorRate(); err != nil {
			return err
		}
		for name, versions := range map[string]ContractVersions{
			"nav_feed": p.Contracts.NavFeed, "reserve": p.Contracts.Reserve, "assessor": p.Contracts.Assessor,
			"shelf": p.Contracts.Shelf, "pile": p.Contracts.Pile,
		} {
			for _, v := range versions {
				if v.Address != "" && !common.IsHexAddress(v.Address) {
					return fmt.Errorf("legacy registry: pool %s %s: invalid address %q", p.ID, name, v.Address)
				}
			}
		}
	}
	return nil
}
