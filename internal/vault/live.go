package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAddress    = errors.New("contract address is invalid")
	ErrInvalidConnection = errors.New("connection is invalid")
	ErrInvalidAmount     = errors.New("amount is invalid")
	ErrInvalidResponse   = errors.New("response data is invalid")
)

var vaultLogger = logger.GetForComponent("vault_client")

// Config wires the live client to its contracts.
type Config struct {
	Vault             common.Address
	AIAgent           common.Address
	WhitelistRegistry common.Address
	// FallbackSymbol is used when the asset does not answer symbol().
	FallbackSymbol string
}

// VaultClient implements VaultManager over a chain Reader and Submitter. Passing a dry-run
// submitter makes every write a simulation.
type VaultClient struct {
	reader    chain.Reader
	submitter chain.Submitter

	vault    *chain.Contract
	agent    *chain.Contract
	registry *chain.Contract

	fallbackSymbol string
	assetAddress   common.Address
}

// NewVaultClient creates a new vault client with input validation
func NewVaultClient(reader chain.Reader, submitter chain.Submitter, cfg Config) (*VaultClient, error) {
	if reader == nil || submitter == nil {
		return nil, errors.Join(ErrInvalidConnection, errors.New("reader and submitter are required"))
	}
	zero := common.Address{}
	if cfg.Vault == zero || cfg.AIAgent == zero || cfg.WhitelistRegistry == zero {
		return nil, errors.Join(ErrInvalidAddress, errors.New("vault, AIAgent and whitelist registry addresses are required"))
	}

	v := &VaultClient{
		reader:         reader,
		submitter:      submitter,
		vault:          chain.NewVault(cfg.Vault),
		agent:          chain.NewAIAgent(cfg.AIAgent),
		registry:       chain.NewWhitelistRegistry(cfg.WhitelistRegistry),
		fallbackSymbol: cfg.FallbackSymbol,
	}

	vaultLogger.Info().
		Str("vault", cfg.Vault.Hex()).
		Str("aiAgent", cfg.AIAgent.Hex()).
		Str("registry", cfg.WhitelistRegistry.Hex()).
		Str("executor", submitter.From().Hex()).
		Msg("Vault client initialized")

	return v, nil
}

func (v *VaultClient) VaultAddress() common.Address {
	return v.vault.Address
}

func (v *VaultClient) assetContract(ctx context.Context) (*chain.Contract, error) {
	if v.assetAddress == (common.Address{}) {
		out, err := v.reader.Call(ctx, v.vault, "asset")
		if err != nil {
			return nil, err
		}
		addr, err := chain.AsAddress(out, 0)
		if err != nil {
			return nil, err
		}
		v.assetAddress = addr
	}
	return chain.NewERC20(v.assetAddress), nil
}

// Asset reads asset metadata. Symbol and decimals fall back to configuration and 18 when the
// token does not answer.
func (v *VaultClient) Asset(ctx context.Context) (types.Asset, error) {
	token, err := v.assetContract(ctx)
	if err != nil {
		return types.Asset{}, fmt.Errorf("failed to read vault asset: %w", err)
	}

	asset := types.Asset{Address: token.Address, Symbol: v.fallbackSymbol, Decimals: types.DefaultAssetDecimals}

	if out, err := v.reader.Call(ctx, token, "symbol"); err == nil {
		if s, err := chain.AsString(out, 0); err == nil && s != "" {
			asset.Symbol = s
		}
	} else {
		vaultLogger.Warn().Err(err).Str("asset", token.Address.Hex()).Msg("Asset: symbol() unavailable, using configured symbol")
	}

	if out, err := v.reader.Call(ctx, token, "decimals"); err == nil {
		if d, err := chain.AsUint8(out, 0); err == nil {
			asset.Decimals = d
		}
	} else {
		vaultLogger.Warn().Err(err).Str("asset", token.Address.Hex()).Msg("Asset: decimals() unavailable, assuming 18")
	}

	return asset, nil
}

func (v *VaultClient) IdleBalance(ctx context.Context) (sdkmath.Int, error) {
	token, err := v.assetContract(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return v.callInt(ctx, token, nil, "balanceOf", v.vault.Address)
}

func (v *VaultClient) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	return v.callInt(ctx, v.vault, nil, "totalAssets")
}

func (v *VaultClient) TotalSupply(ctx context.Context) (sdkmath.Int, error) {
	return v.callInt(ctx, v.vault, nil, "totalSupply")
}

func (v *VaultClient) TotalAssetsAt(ctx context.Context, block uint64) (sdkmath.Int, error) {
	return v.callInt(ctx, v.vault, new(big.Int).SetUint64(block), "totalAssets")
}

func (v *VaultClient) TotalSupplyAt(ctx context.Context, block uint64) (sdkmath.Int, error) {
	return v.callInt(ctx, v.vault, new(big.Int).SetUint64(block), "totalSupply")
}

func (v *VaultClient) WhitelistedPools(ctx context.Context) ([]common.Address, error) {
	out, err := v.reader.Call(ctx, v.registry, "getWhitelistedPools")
	if err != nil {
		return nil, err
	}
	return chain.AsAddresses(out, 0)
}

func (v *VaultClient) IsWhitelisted(ctx context.Context, pool common.Address) (bool, error) {
	out, err := v.reader.Call(ctx, v.registry, "isWhitelisted", pool)
	if err != nil {
		return false, err
	}
	return chain.AsBool(out, 0)
}

func (v *VaultClient) PoolPrincipal(ctx context.Context, pool common.Address) (sdkmath.Int, error) {
	return v.callInt(ctx, v.vault, nil, "poolPrincipal", pool)
}

// PoolKind asks the whitelist registry, which owns the pool classification.
func (v *VaultClient) PoolKind(ctx context.Context, pool common.Address) (types.PoolKind, error) {
	out, err := v.reader.Call(ctx, v.registry, "getPoolKind", pool)
	if err != nil {
		return types.PoolKindAave, err
	}
	raw, err := chain.AsUint8(out, 0)
	if err != nil {
		return types.PoolKindAave, err
	}
	return types.PoolKindFromContract(raw), nil
}

func (v *VaultClient) MaxWithdraw(ctx context.Context, pool common.Address) (sdkmath.Int, error) {
	return v.callInt(ctx, chain.NewERC4626(pool), nil, "maxWithdraw", v.vault.Address)
}

func (v *VaultClient) DepositQueueLength(ctx context.Context) (int, error) {
	n, err := v.callInt(ctx, v.vault, nil, "depositQueueLength")
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, errors.Join(ErrInvalidResponse, fmt.Errorf("deposit queue length %s out of range", n))
	}
	return int(n.Int64()), nil
}

func (v *VaultClient) DepositQueueAt(ctx context.Context, index int) (types.QueueEntry, error) {
	out, err := v.reader.Call(ctx, v.vault, "depositQueueAt", big.NewInt(int64(index)))
	if err != nil {
		return types.QueueEntry{}, err
	}
	controller, err := chain.AsAddress(out, 0)
	if err != nil {
		return types.QueueEntry{}, err
	}

	req, err := v.reader.Call(ctx, v.vault, "depositRequests", controller)
	if err != nil {
		return types.QueueEntry{}, err
	}
	assets, err := chain.AsInt(req, 0)
	if err != nil {
		return types.QueueEntry{}, err
	}
	exists, err := chain.AsBool(req, 2)
	if err != nil {
		return types.QueueEntry{}, err
	}
	return types.QueueEntry{Controller: controller, Assets: assets, Shares: sdkmath.ZeroInt(), Exists: exists}, nil
}

func (v *VaultClient) PendingWithdrawer(ctx context.Context, index int) (common.Address, error) {
	out, err := v.reader.Call(ctx, v.vault, "pendingWithdrawers", big.NewInt(int64(index)))
	if err != nil {
		return common.Address{}, err
	}
	return chain.AsAddress(out, 0)
}

func (v *VaultClient) WithdrawalRequest(ctx context.Context, controller common.Address) (types.QueueEntry, error) {
	req, err := v.reader.Call(ctx, v.vault, "withdrawalRequests", controller)
	if err != nil {
		return types.QueueEntry{}, err
	}
	assets, err := chain.AsInt(req, 1)
	if err != nil {
		return types.QueueEntry{}, err
	}
	shares, err := v.callInt(ctx, v.vault, nil, "userShares", controller)
	if err != nil {
		return types.QueueEntry{}, err
	}
	return types.QueueEntry{Controller: controller, Assets: assets, Shares: shares, Exists: true}, nil
}

func (v *VaultClient) ExecutorRoles(ctx context.Context) (bool, bool, error) {
	out, err := v.reader.Call(ctx, v.agent, "EXECUTOR")
	if err != nil {
		return false, false, fmt.Errorf("failed to read EXECUTOR role id: %w", err)
	}
	role, err := chain.AsBytes32(out, 0)
	if err != nil {
		return false, false, err
	}

	out, err = v.reader.Call(ctx, v.agent, "hasRole", role, v.submitter.From())
	if err != nil {
		return false, false, err
	}
	onAgent, err := chain.AsBool(out, 0)
	if err != nil {
		return false, false, err
	}

	out, err = v.reader.Call(ctx, v.vault, "hasRole", role, v.agent.Address)
	if err != nil {
		return onAgent, false, err
	}
	onVault, err := chain.AsBool(out, 0)
	if err != nil {
		return onAgent, false, err
	}
	return onAgent, onVault, nil
}

func (v *VaultClient) FulfillBatchDeposits(ctx context.Context, batchSize int, pool common.Address) (*chain.Receipt, error) {
	if batchSize <= 0 {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("batch size %d", batchSize))
	}
	// The contract selector is spelled fullfill.
	return v.submitter.Submit(ctx, v.agent, "fullfillBatchDeposits", big.NewInt(int64(batchSize)), pool)
}

func (v *VaultClient) FulfillBatchWithdrawals(ctx context.Context, batchSize int) (*chain.Receipt, error) {
	if batchSize <= 0 {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("batch size %d", batchSize))
	}
	return v.submitter.Submit(ctx, v.agent, "fulfillBatchWithdrawals", big.NewInt(int64(batchSize)))
}

func (v *VaultClient) WithdrawFromPool(ctx context.Context, pool common.Address, amount sdkmath.Int) (*chain.Receipt, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("withdraw amount %v", amount))
	}
	return v.submitter.Submit(ctx, v.agent, "withdrawFromPool", pool, amount.BigInt())
}

func (v *VaultClient) DepositToPool(ctx context.Context, pool common.Address, amount sdkmath.Int) (*chain.Receipt, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, errors.Join(ErrInvalidAmount, fmt.Errorf("deposit amount %v", amount))
	}
	return v.submitter.Submit(ctx, v.agent, "depositToPool", pool, amount.BigInt())
}

func (v *VaultClient) callInt(ctx context.Context, contract *chain.Contract, block *big.Int, method string, args ...any) (sdkmath.Int, error) {
	out, err := v.reader.CallAt(ctx, contract, block, method, args...)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return chain.AsInt(out, 0)
}
