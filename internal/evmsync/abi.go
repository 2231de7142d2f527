package evmsync

import "PoolLedger/internal/multicall"

// Read-only fragments of the legacy pool contracts.

const navFeedABI = `[
	{"name":"currentNAV","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"nftID","type":"function","stateMutability":"view","inputs":[{"name":"loan","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"name":"maturityDate","type":"function","stateMutability":"view","inputs":[{"name":"nft_","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const reserveABI = `[
	{"name":"totalBalance","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const assessorABI = `[
	{"name":"calcSeniorTokenPrice","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"calcJuniorTokenPrice","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const shelfABI = `[
	{"name":"token","type":"function","stateMutability":"view","inputs":[{"name":"loan","type":"uint256"}],"outputs":[{"name":"registry","type":"address"},{"name":"nft","type":"uint256"}]},
	{"name":"nftLocked","type":"function","stateMutability":"view","inputs":[{"name":"loan","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const pileABI = `[
	{"name":"debt","type":"function","stateMutability":"view","inputs":[{"name":"loan","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"loanRates","type":"function","stateMutability":"view","inputs":[{"name":"loan","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"rates","type":"function","stateMutability":"view","inputs":[{"name":"rate","type":"uint256"}],"outputs":[
		{"name":"pie","type":"uint256"},
		{"name":"chi","type":"uint256"},
		{"name":"ratePerSecond","type":"uint256"},
		{"name":"lastUpdated","type":"uint48"},
		{"name":"fixedRate","type":"uint256"}
	]}
]`

var (
	NavFeedABI  = multicall.ParseABI(navFeedABI)
	ReserveABI  = multicall.ParseABI(reserveABI)
	AssessorABI = multicall.ParseABI(assessorABI)
	ShelfABI    = multicall.ParseABI(shelfABI)
	PileABI     = multicall.ParseABI(pileABI)
)

const (
	methodCurrentNAV    = "currentNAV"
	methodTotalBalance  = "totalBalance"
	methodSeniorPrice   = "calcSeniorTokenPrice"
	methodJuniorPrice   = "calcJuniorTokenPrice"
	methodNftID         = "nftID"
	methodMaturityDate  = "maturityDate"
	methodToken         = "token"
	methodNftLocked     = "nftLocked"
	methodDebt          = "debt"
	methodLoanRates     = "loanRates"
	methodRates         = "rates"
	ratesRatePerSecond  = 2
	tokenRegistryOutput = 0
)
