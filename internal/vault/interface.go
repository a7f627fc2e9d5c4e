package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

// VaultManager defines the interface for interacting with the vault contracts.
// This interface abstracts away the specific implementation details of vault operations,
// allowing for different vault implementations (live, dry-run, in-memory for tests).
//
// Reads hit the vault, the whitelist registry, the asset and the pools directly. Writes are
// always routed through the AIAgent, which holds EXECUTOR on the vault.
type VaultManager interface {
	// VaultAddress is the managed vault.
	VaultAddress() common.Address

	// Asset returns the underlying ERC20 with symbol/decimals fallbacks applied.
	Asset(ctx context.Context) (types.Asset, error)

	// IdleBalance is asset.balanceOf(vault).
	IdleBalance(ctx context.Context) (sdkmath.Int, error)
	TotalAssets(ctx context.Context) (sdkmath.Int, error)
	TotalSupply(ctx context.Context) (sdkmath.Int, error)
	TotalAssetsAt(ctx context.Context, block uint64) (sdkmath.Int, error)
	TotalSupplyAt(ctx context.Context, block uint64) (sdkmath.Int, error)

	// WhitelistedPools lists pools from the whitelist registry.
	WhitelistedPools(ctx context.Context) ([]common.Address, error)
	IsWhitelisted(ctx context.Context, pool common.Address) (bool, error)
	PoolPrincipal(ctx context.Context, pool common.Address) (sdkmath.Int, error)
	PoolKind(ctx context.Context, pool common.Address) (types.PoolKind, error)
	// MaxWithdraw is pool.maxWithdraw(vault) for ERC4626 pools.
	MaxWithdraw(ctx context.Context, pool common.Address) (sdkmath.Int, error)

	DepositQueueLength(ctx context.Context) (int, error)
	// DepositQueueAt returns the controller at index i joined with its depositRequests entry.
	DepositQueueAt(ctx context.Context, index int) (types.QueueEntry, error)
	// PendingWithdrawer returns the controller at index i; the zero address ends the queue.
	PendingWithdrawer(ctx context.Context, index int) (common.Address, error)
	// WithdrawalRequest returns assetsAtRequest and userShares for a controller.
	WithdrawalRequest(ctx context.Context, controller common.Address) (types.QueueEntry, error)

	// ExecutorRoles reports whether the executor holds EXECUTOR on the AIAgent and whether the
	// AIAgent holds it on the vault.
	ExecutorRoles(ctx context.Context) (executorOnAgent bool, agentOnVault bool, err error)

	FulfillBatchDeposits(ctx context.Context, batchSize int, pool common.Address) (*chain.Receipt, error)
	FulfillBatchWithdrawals(ctx context.Context, batchSize int) (*chain.Receipt, error)
	WithdrawFromPool(ctx context.Context, pool common.Address, amount sdkmath.Int) (*chain.Receipt, error)
	DepositToPool(ctx context.Context, pool common.Address, amount sdkmath.Int) (*chain.Receipt, error)
}
