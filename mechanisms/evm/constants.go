package evm

import "math/big"

const (
	// USDC uses 6 decimals on every supported network.
	USDCDecimals = 6

	// keccak256("Transfer(address,address,uint256)")
	TransferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

	// Receipt status values.
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Default gas limit for an ERC-20 transfer.
	DefaultTransferGasLimit = 100_000
)

// NetworkConfig describes a supported settlement chain.
type NetworkConfig struct {
	ChainID     *big.Int
	USDCAddress string
	RPCURL      string
}

// NetworkConfigs maps IVXP network names to chain parameters. USDC contract
// addresses are the canonical Circle deployments on Base.
var NetworkConfigs = map[string]NetworkConfig{
	"base-mainnet": {
		ChainID:     big.NewInt(8453),
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		RPCURL:      "https://mainnet.base.org",
	},
	"base-sepolia": {
		ChainID:     big.NewInt(84532),
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		RPCURL:      "https://sepolia.base.org",
	},
}

// IsValidNetwork reports whether network names a supported chain.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}
