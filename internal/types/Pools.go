/*

Pool types describe the lending pools the vault can allocate into and the interest-rate curve
parameters reported for them.

*/

package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolKind determines withdrawal semantics. ERC4626 pools expose a hard maxWithdraw cap.
type PoolKind uint8

const (
	PoolKindAave    PoolKind = 0
	PoolKindERC4626 PoolKind = 1
)

func (k PoolKind) String() string {
	if k == PoolKindAave {
		return "AAVE"
	}
	return "ERC4626"
}

// PoolKindFromContract maps the whitelist registry's getPoolKind value; anything but 0 is ERC4626.
func PoolKindFromContract(v uint8) PoolKind {
	if v == 0 {
		return PoolKindAave
	}
	return PoolKindERC4626
}

type Pool struct {
	Address     common.Address `json:"address"`
	Protocol    string         `json:"protocol"` // e.g., "HyperLend", "Felix"
	Kind        PoolKind       `json:"kind"`
	Whitelisted bool           `json:"whitelisted"`
}

// CurveModel identifies the interest-rate model used to project a pool's supply rate.
type CurveModel string

const (
	CurveModelAave  CurveModel = "aave"
	CurveModelFelix CurveModel = "felix"
)

// AaveCurve is a two-slope kinked utilization curve.
type AaveCurve struct {
	BaseRate      float64 `json:"base_rate"`
	Slope1        float64 `json:"slope1"`
	Slope2        float64 `json:"slope2"`
	Kink          float64 `json:"kink"`
	ReserveFactor float64 `json:"reserve_factor"`
}

// FelixCurve is an adaptive target-rate curve.
type FelixCurve struct {
	RateAtTarget      float64 `json:"rate_at_target"`
	CurveSteepness    float64 `json:"curve_steepness"`
	AdjustmentSpeed   float64 `json:"adjustment_speed"`
	TargetUtilization float64 `json:"target_utilization"`
	ReserveFactor     float64 `json:"reserve_factor"`
}

// CurvePoolParams is the optimizer input for a single pool. APY/APR values are fractions (0.05 == 5%).
type CurvePoolParams struct {
	Address     common.Address `json:"address"`
	Protocol    string         `json:"protocol"`
	Model       CurveModel     `json:"model"`
	CurrentAPY  float64        `json:"current_apy"`
	CurrentAPR  float64        `json:"current_apr"`
	TVL         float64        `json:"tvl"`
	Utilization float64        `json:"utilization"`
	Aave        *AaveCurve     `json:"aave,omitempty"`
	Felix       *FelixCurve    `json:"felix,omitempty"`
	ReportedAt  time.Time      `json:"reported_at"`
}

// TotalBorrow derives the borrowed amount from TVL and utilization.
func (p CurvePoolParams) TotalBorrow() float64 {
	return p.TVL * p.Utilization
}
