/*

This file contains the ledger view of the vault: idle assets, per-pool principal and the
yield derived from them. All amounts are raw base units.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PoolPosition is the vault's recorded principal in a pool. Principal is vault bookkeeping and
// can trail the pool's real asset value; the difference is yield.
type PoolPosition struct {
	Pool               Pool        `json:"pool"`
	Principal          sdkmath.Int `json:"principal"`
	PercentOfPrincipal float64     `json:"percent_of_principal"`
}

// LedgerSnapshot is the vault state read at the start of a cycle.
type LedgerSnapshot struct {
	Asset       Asset          `json:"asset"`
	BlockNumber uint64         `json:"block_number"`
	IdleBalance sdkmath.Int    `json:"idle_balance"`
	TotalAssets sdkmath.Int    `json:"total_assets"`
	TotalSupply sdkmath.Int    `json:"total_supply"`
	Allocated   sdkmath.Int    `json:"allocated"`
	Positions   []PoolPosition `json:"positions"`
}

// PositionMap returns principal by pool address, the shape the optimizer consumes.
func (s LedgerSnapshot) PositionMap() map[common.Address]sdkmath.Int {
	out := make(map[common.Address]sdkmath.Int, len(s.Positions))
	for _, p := range s.Positions {
		out[p.Pool.Address] = p.Principal
	}
	return out
}

// Position finds the position for a pool address.
func (s LedgerSnapshot) Position(address common.Address) (PoolPosition, bool) {
	for _, p := range s.Positions {
		if p.Pool.Address == address {
			return p, true
		}
	}
	return PoolPosition{}, false
}

// YieldSnapshot is computed fresh each cycle and only persisted inside a run record.
type YieldSnapshot struct {
	TotalPrincipal    sdkmath.Int                    `json:"total_principal"`
	CurrentTotalValue sdkmath.Int                    `json:"current_total_value"`
	TotalYield        sdkmath.Int                    `json:"total_yield"`
	YieldBps          int64                          `json:"yield_bps"`
	IdleBalance       sdkmath.Int                    `json:"idle_balance"`
	PoolPrincipals    map[common.Address]sdkmath.Int `json:"pool_principals"`
}

// YieldPercent is the yield as a percentage for reporting.
func (y YieldSnapshot) YieldPercent() float64 {
	return float64(y.YieldBps) / 100.0
}

// QueueEntry is a pending deposit or withdrawal request read straight from contract storage.
type QueueEntry struct {
	Controller common.Address `json:"controller"`
	Assets     sdkmath.Int    `json:"assets"`
	Shares     sdkmath.Int    `json:"shares,omitempty"`
	Exists     bool           `json:"exists"`
}

// SharePricePoint is a price-per-share observation used by the APY calculator.
type SharePricePoint struct {
	BlockNumber uint64      `json:"block_number"`
	Timestamp   uint64      `json:"timestamp"`
	TotalAssets sdkmath.Int `json:"total_assets"`
	TotalSupply sdkmath.Int `json:"total_supply"`
}
