package ledger

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrNegativeAllocation = errors.New("total assets below idle balance")
	ErrSnapshotFailed     = errors.New("ledger snapshot failed")
)

var ledgerLogger = logger.GetForComponent("asset_ledger")

// HeaderReader supplies the block number a snapshot was taken at. Optional.
type HeaderReader interface {
	LatestHeader(ctx context.Context) (*coretypes.Header, error)
}

// Ledger reads the vault's accounting state.
type Ledger struct {
	vault   vault.VaultManager
	headers HeaderReader
}

func New(v vault.VaultManager, headers HeaderReader) *Ledger {
	return &Ledger{vault: v, headers: headers}
}

// Snapshot reads idle balance, total assets, total supply and one position per whitelisted pool.
// A totalAssets below the idle balance is an invariant violation and is never clamped.
func (l *Ledger) Snapshot(ctx context.Context) (types.LedgerSnapshot, error) {
	asset, err := l.vault.Asset(ctx)
	if err != nil {
		return types.LedgerSnapshot{}, errors.Join(ErrSnapshotFailed, err)
	}

	snap := types.LedgerSnapshot{Asset: asset}

	if l.headers != nil {
		if header, err := l.headers.LatestHeader(ctx); err == nil && header.Number != nil {
			snap.BlockNumber = header.Number.Uint64()
		} else if err != nil {
			ledgerLogger.Warn().Err(err).Msg("Snapshot: latest header unavailable")
		}
	}

	if snap.IdleBalance, err = l.vault.IdleBalance(ctx); err != nil {
		return types.LedgerSnapshot{}, errors.Join(ErrSnapshotFailed, fmt.Errorf("idle balance: %w", err))
	}
	if snap.TotalAssets, err = l.vault.TotalAssets(ctx); err != nil {
		return types.LedgerSnapshot{}, errors.Join(ErrSnapshotFailed, fmt.Errorf("total assets: %w", err))
	}
	if snap.TotalSupply, err = l.vault.TotalSupply(ctx); err != nil {
		return types.LedgerSnapshot{}, errors.Join(ErrSnapshotFailed, fmt.Errorf("total supply: %w", err))
	}

	snap.Allocated = snap.TotalAssets.Sub(snap.IdleBalance)
	if snap.Allocated.IsNegative() {
		return snap, errors.Join(ErrNegativeAllocation, fmt.Errorf("totalAssets %s < idle %s", snap.TotalAssets, snap.IdleBalance))
	}

	pools, err := l.vault.WhitelistedPools(ctx)
	if err != nil {
		return snap, errors.Join(ErrSnapshotFailed, fmt.Errorf("whitelisted pools: %w", err))
	}

	totalPrincipal := sdkmath.ZeroInt()
	for _, addr := range pools {
		principal, err := l.vault.PoolPrincipal(ctx, addr)
		if err != nil {
			return snap, errors.Join(ErrSnapshotFailed, fmt.Errorf("principal of %s: %w", addr.Hex(), err))
		}
		protocol := config.ProtocolName(addr)
		kind, err := l.vault.PoolKind(ctx, addr)
		if err != nil {
			kind = types.PoolKindAave
			if config.IsFelixPool(addr, protocol) {
				kind = types.PoolKindERC4626
			}
			ledgerLogger.Warn().Err(err).Str("pool", addr.Hex()).Str("kind", kind.String()).
				Msg("Snapshot: getPoolKind failed, inferred from registry")
		}
		snap.Positions = append(snap.Positions, types.PoolPosition{
			Pool:      types.Pool{Address: addr, Protocol: protocol, Kind: kind, Whitelisted: true},
			Principal: principal,
		})
		totalPrincipal = totalPrincipal.Add(principal)
	}

	if totalPrincipal.IsPositive() {
		for i := range snap.Positions {
			pct, _ := utils.LegacyRatio(snap.Positions[i].Principal, totalPrincipal).MulInt64(100).Float64()
			snap.Positions[i].PercentOfPrincipal = pct
		}
	}

	ledgerLogger.Info().
		Str("asset", asset.Symbol).
		Str("idle", utils.FormatUnits(snap.IdleBalance, asset.Decimals)).
		Str("totalAssets", utils.FormatUnits(snap.TotalAssets, asset.Decimals)).
		Str("allocated", utils.FormatUnits(snap.Allocated, asset.Decimals)).
		Int("pools", len(snap.Positions)).
		Msg("Snapshot: vault state read")

	return snap, nil
}

// YieldSnapshot derives yield from a ledger snapshot in integer math. Principal is the idle
// balance plus recorded pool principal; yield is whatever totalAssets holds above it.
func YieldSnapshot(snap types.LedgerSnapshot) types.YieldSnapshot {
	idle := snap.IdleBalance
	if idle.IsNil() {
		idle = sdkmath.ZeroInt()
	}
	total := snap.TotalAssets
	if total.IsNil() {
		total = sdkmath.ZeroInt()
	}

	y := types.YieldSnapshot{
		TotalPrincipal:    idle,
		CurrentTotalValue: total,
		TotalYield:        sdkmath.ZeroInt(),
		IdleBalance:       idle,
		PoolPrincipals:    snap.PositionMap(),
	}
	for _, p := range snap.Positions {
		y.TotalPrincipal = y.TotalPrincipal.Add(p.Principal)
	}

	if total.GT(y.TotalPrincipal) {
		y.TotalYield = total.Sub(y.TotalPrincipal)
	}
	if y.TotalPrincipal.IsPositive() {
		if bps := y.TotalYield.MulRaw(10000).Quo(y.TotalPrincipal); bps.IsInt64() {
			y.YieldBps = bps.Int64()
		}
	}
	return y
}
