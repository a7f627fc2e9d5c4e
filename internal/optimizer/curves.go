/*

Interest-rate curve models. They project a pool's supply APY at a given utilization and are used
to break ties between equally ranked pools and to report the projected rate after a move.

*/

package optimizer

import (
	"math"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
)

const (
	minUtilization = 0.01
	maxUtilization = 0.99
)

func clampUtilization(u float64) float64 {
	if math.IsNaN(u) {
		return minUtilization
	}
	return math.Max(minUtilization, math.Min(maxUtilization, u))
}

// aprToAPY compounds continuously.
func aprToAPY(apr float64) float64 {
	return math.Exp(apr) - 1
}

// AaveBorrowRate is the two-slope kinked borrow rate at utilization u.
func AaveBorrowRate(c types.AaveCurve, u float64) float64 {
	u = clampUtilization(u)
	if c.Kink <= 0 || c.Kink >= 1 {
		return c.BaseRate + u*c.Slope1
	}
	if u <= c.Kink {
		return c.BaseRate + u/c.Kink*c.Slope1
	}
	return c.BaseRate + c.Slope1 + (u-c.Kink)/(1-c.Kink)*c.Slope2
}

// AaveSupplyAPY is borrow × u × (1 − reserve factor), compounded.
func AaveSupplyAPY(c types.AaveCurve, u float64) float64 {
	u = clampUtilization(u)
	apr := AaveBorrowRate(c, u) * u * (1 - c.ReserveFactor)
	return aprToAPY(apr)
}

// FelixBorrowRate is the adaptive curve rate at utilization u after elapsed years of adjustment.
// elapsed = 0 gives the instantaneous rate.
func FelixBorrowRate(c types.FelixCurve, u float64, elapsed float64) float64 {
	u = clampUtilization(u)
	target := c.TargetUtilization
	if target <= 0 || target >= 1 {
		target = 0.9
	}
	steepness := c.CurveSteepness
	if steepness <= 1 {
		steepness = 4
	}

	var errNorm float64
	if u > target {
		errNorm = (u - target) / (1 - target)
	} else {
		errNorm = (u - target) / target
	}

	coeff := steepness - 1
	if errNorm < 0 {
		coeff = 1 - 1/steepness
	}

	rateAtTarget := c.RateAtTarget * math.Exp(c.AdjustmentSpeed*errNorm*elapsed)
	return rateAtTarget * (coeff*errNorm + 1)
}

func FelixSupplyAPY(c types.FelixCurve, u float64) float64 {
	u = clampUtilization(u)
	apr := FelixBorrowRate(c, u, 0) * u * (1 - c.ReserveFactor)
	return aprToAPY(apr)
}

// ProjectedUtilization is the utilization after supplying extra, with borrows unchanged.
func ProjectedUtilization(p types.CurvePoolParams, extra float64) float64 {
	supply := p.TVL + extra
	if supply <= 0 {
		return p.Utilization
	}
	return p.TotalBorrow() / supply
}

// ProjectedAPY is the modelled supply APY after adding extra. A pool without curve
// parameters reports its current APY.
func ProjectedAPY(p types.CurvePoolParams, extra float64) float64 {
	u := ProjectedUtilization(p, extra)
	switch {
	case p.Model == types.CurveModelFelix && p.Felix != nil:
		return FelixSupplyAPY(*p.Felix, u)
	case p.Aave != nil:
		return AaveSupplyAPY(*p.Aave, u)
	default:
		return p.CurrentAPY
	}
}
