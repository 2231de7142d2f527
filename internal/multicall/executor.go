package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3Address is the canonical Multicall3 deployment, identical on every EVM chain.
const Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

const aggregateABI = `[{
	"inputs": [
		{
			"components": [
				{"internalType": "address", "name": "target", "type": "address"},
				{"internalType": "bytes", "name": "callData", "type": "bytes"}
			],
			"internalType": "struct Multicall3.Call[]",
			"name": "calls",
			"type": "tuple[]"
		}
	],
	"name": "aggregate",
	"outputs": [
		{"internalType": "uint256", "name": "blockNumber", "type": "uint256"},
		{"internalType": "bytes[]", "name": "returnData", "type": "bytes[]"}
	],
	"stateMutability": "payable",
	"type": "function"
}]`

// AggregateABI is the parsed Multicall3 aggregate ABI.
var AggregateABI = mustParseABI(aggregateABI)

// Request is one encoded call inside an aggregate read.
type Request struct {
	Target   common.Address
	CallData []byte
}

// Executor runs one batch as a single atomic read. Either every call returns
// data in order or the whole batch fails.
type Executor interface {
	Aggregate(ctx context.Context, requests []Request, block *big.Int) ([][]byte, error)
}

// ContractCaller is the read side of ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthExecutor sends aggregate reads to a Multicall3 contract.
type EthExecutor struct {
	client  ContractCaller
	address common.Address
}

var _ Executor = (*EthExecutor)(nil)

func NewEthExecutor(client ContractCaller, address common.Address) *EthExecutor {
	return &EthExecutor{client: client, address: address}
}

func (e *EthExecutor) Aggregate(ctx context.Context, requests []Request, block *big.Int) ([][]byte, error) {
	if len(requests) == 0 {
		return [][]byte{}, nil
	}

	data, err := AggregateABI.Pack("aggregate", requests)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	to := e.address
	raw, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call multicall: %w", err)
	}

	out, err := AggregateABI.Unpack("aggregate", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("unpack aggregate: %d outputs", len(out))
	}
	returnData, ok := out[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unpack aggregate: unexpected %T", out[1])
	}
	if len(returnData) != len(requests) {
		return nil, fmt.Errorf("aggregate returned %d results for %d calls", len(returnData), len(requests))
	}
	return returnData, nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// ParseABI parses a JSON ABI definition. It panics on malformed input and is
// meant for package-level ABI constants.
func ParseABI(def string) abi.ABI {
	return mustParseABI(def)
}
