/*

This file contains the default thresholds for the orchestrator.

Each value balances gas spend against the value moved. Every threshold can be overridden
through the environment at startup; thresholds are never reloaded mid-cycle.

*/

package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Thresholds are the tunables consumed by the cycle phases.
type Thresholds struct {
	BatchSize         int
	MinGainBps        float64
	YieldThresholdBps float64
	MinClaimUSD       float64
	MaxGasUSD         float64
	GasEstimateLimit  uint64
	MinRebalanceUnits int64
	MaxWithdrawalScan int
	LoopInterval      time.Duration
	AssetPriceUSD     float64
	NativePriceUSD    float64
	NativeSymbol      string
}

// DefaultThresholds is the baseline used when no override is present in the environment.
var DefaultThresholds = Thresholds{
	BatchSize: 10, // Deposit requests fulfilled per batch.
	// Rationale: keeps a single fullfillBatchDeposits call well below the block gas limit.

	MinGainBps: 50, // Minimum APY improvement before a reallocation is worth it.
	// Rationale: below 50 bps the two transactions cost more than the extra yield earns.

	YieldThresholdBps: 0.1, // Minimum accrued yield, relative to principal.
	// Rationale: harvest frequently; the USD gates below are the real filter.

	MinClaimUSD: 1.0, // Minimum yield value worth claiming.

	MaxGasUSD: 5.0, // Maximum gas spend for a harvest.
	// Rationale: a spike in gas price should postpone harvesting, not eat the yield.

	GasEstimateLimit: 200000, // Gas units assumed per harvest transaction when pricing the gas gate.

	MinRebalanceUnits: 1, // Moves below one whole unit of the asset are skipped.

	MaxWithdrawalScan: 256, // Upper bound on pendingWithdrawers indices scanned per cycle.
	// Rationale: the contract exposes no length, so the scan must be bounded.

	LoopInterval: 10 * time.Minute,

	AssetPriceUSD: 1.0, // Fallback when no spot price is available. The asset is a dollar stablecoin.

	NativePriceUSD: 4500, // Fallback for pricing gas. Deliberately high so the gas gate fails closed.

	NativeSymbol: "HYPE",
}

// Active is the threshold set in force after LoadConfig.
var Active = DefaultThresholds

// KnownFelixPools are ERC4626 (Morpho style) pools whose maxWithdraw must be honored even when
// the vault cannot report a pool kind.
var KnownFelixPools = map[common.Address]bool{
	common.HexToAddress("0x835FEBF893c6DdDee5CF762B0f8e31C5B06938ab"): true, // Felix USDe
	common.HexToAddress("0xfc5126377f0efc0041c0969ef9ba903ce67d151e"): true, // Felix USDT0
}

// IsFelixPool matches either a known Felix address or a protocol name containing "felix".
func IsFelixPool(address common.Address, protocol string) bool {
	if KnownFelixPools[address] {
		return true
	}
	return strings.Contains(strings.ToLower(protocol), "felix")
}

// loadThresholds applies environment overrides on top of DefaultThresholds.
func loadThresholds() error {
	t := DefaultThresholds

	batch, err := getEnvAsUint64OrDefault("BATCH_SIZE", uint64(t.BatchSize))
	if err != nil {
		return err
	}
	t.BatchSize = int(batch)

	if t.MinGainBps, err = getEnvAsFloat64OrDefault("MIN_GAIN_BPS", t.MinGainBps); err != nil {
		return err
	}
	if t.YieldThresholdBps, err = getEnvAsFloat64OrDefault("YIELD_THRESHOLD_BPS", t.YieldThresholdBps); err != nil {
		return err
	}
	if t.MinClaimUSD, err = getEnvAsFloat64OrDefault("MIN_CLAIM_AMOUNT_USD", t.MinClaimUSD); err != nil {
		return err
	}
	if t.MaxGasUSD, err = getEnvAsFloat64OrDefault("MAX_GAS_COST_USD", t.MaxGasUSD); err != nil {
		return err
	}
	if t.GasEstimateLimit, err = getEnvAsUint64OrDefault("GAS_ESTIMATE_LIMIT", t.GasEstimateLimit); err != nil {
		return err
	}

	minUnits, err := getEnvAsUint64OrDefault("MIN_REBALANCE_UNITS", uint64(t.MinRebalanceUnits))
	if err != nil {
		return err
	}
	t.MinRebalanceUnits = int64(minUnits)

	scan, err := getEnvAsUint64OrDefault("MAX_WITHDRAWAL_SCAN", uint64(t.MaxWithdrawalScan))
	if err != nil {
		return err
	}
	t.MaxWithdrawalScan = int(scan)

	intervalSecs, err := getEnvAsUint64OrDefault("LOOP_INTERVAL_SECONDS", uint64(t.LoopInterval/time.Second))
	if err != nil {
		return err
	}
	t.LoopInterval = time.Duration(intervalSecs) * time.Second

	if t.AssetPriceUSD, err = getEnvAsFloat64OrDefault("ASSET_PRICE_USD", t.AssetPriceUSD); err != nil {
		return err
	}
	if t.NativePriceUSD, err = getEnvAsFloat64OrDefault("NATIVE_PRICE_USD", t.NativePriceUSD); err != nil {
		return err
	}
	t.NativeSymbol = getEnvOrDefault("NATIVE_SYMBOL", t.NativeSymbol)

	Active = t
	return nil
}
