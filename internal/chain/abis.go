package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs, restricted to the functions the orchestrator calls.

const VaultABI = `[
{"type":"function","name":"asset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"poolPrincipal","stateMutability":"view","inputs":[{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"depositQueueLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"depositQueueAt","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"controller","type":"address"},{"name":"assets","type":"uint256"}]},
{"type":"function","name":"depositRequests","stateMutability":"view","inputs":[{"name":"controller","type":"address"}],"outputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"exists","type":"bool"}]},
{"type":"function","name":"pendingWithdrawers","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"withdrawalRequests","stateMutability":"view","inputs":[{"name":"controller","type":"address"}],"outputs":[{"name":"shares","type":"uint256"},{"name":"assetsAtRequest","type":"uint256"},{"name":"exists","type":"bool"}]},
{"type":"function","name":"userShares","stateMutability":"view","inputs":[{"name":"controller","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const AIAgentABI = `[
{"type":"function","name":"EXECUTOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"fullfillBatchDeposits","stateMutability":"nonpayable","inputs":[{"name":"batchSize","type":"uint256"},{"name":"pool","type":"address"}],"outputs":[]},
{"type":"function","name":"fulfillBatchWithdrawals","stateMutability":"nonpayable","inputs":[{"name":"batchSize","type":"uint256"}],"outputs":[]},
{"type":"function","name":"withdrawFromPool","stateMutability":"nonpayable","inputs":[{"name":"pool","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"depositToPool","stateMutability":"nonpayable","inputs":[{"name":"pool","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const WhitelistRegistryABI = `[
{"type":"function","name":"isWhitelisted","stateMutability":"view","inputs":[{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getWhitelistedPools","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"getPoolKind","stateMutability":"view","inputs":[{"name":"pool","type":"address"}],"outputs":[{"name":"","type":"uint8"}]}
]`

const ERC20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const ERC4626ABI = `[
{"type":"function","name":"maxWithdraw","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"convertToAssets","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// MustParseABI parses a JSON ABI known at compile time.
func MustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}

var (
	vaultABI             = MustParseABI(VaultABI)
	aiAgentABI           = MustParseABI(AIAgentABI)
	whitelistRegistryABI = MustParseABI(WhitelistRegistryABI)
	erc20ABI             = MustParseABI(ERC20ABI)
	erc4626ABI           = MustParseABI(ERC4626ABI)
)
