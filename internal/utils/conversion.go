/*
This file contains common utility functions for converting between raw base-unit token
amounts and human-readable values. Amount math stays in sdkmath.Int; these conversions are
only used for logging, USD valuation and thresholds expressed in whole units.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// maxPrecision bounds decimals for ERC20 assets.
const maxPrecision = 36

// Pow10 returns 10^decimals as an sdkmath.Int.
func Pow10(decimals uint8) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

// DustThreshold is 0.01 whole units of an asset with the given decimals.
func DustThreshold(decimals uint8) sdkmath.Int {
	return Pow10(decimals).QuoRaw(100)
}

// WholeUnits converts a whole-unit count into base units.
func WholeUnits(units int64, decimals uint8) sdkmath.Int {
	return Pow10(decimals).MulRaw(units)
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > maxPrecision {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, maxPrecision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := decimal.NewFromBigInt(amount.BigInt(), int32(-precision))
	resultFloat, _ := result.Float64()

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// Float64ToSDKInt converts a float64 to SDK Int with proper precision handling
func Float64ToSDKInt(amount float64, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > maxPrecision {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, maxPrecision)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Go through the decimal string to avoid binary float artifacts.
	dec, err := decimal.NewFromString(decimal.NewFromFloat(amount).String())
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from float: %w", ErrConversionFailed, err)
	}
	return sdkmath.NewIntFromBigInt(dec.Shift(int32(precision)).Truncate(0).BigInt()), nil
}

// FormatUnits renders a base-unit amount as a decimal string, e.g. 1500000 with 6 decimals is "1.5".
func FormatUnits(amount sdkmath.Int, decimals uint8) string {
	if amount.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(amount.BigInt(), -int32(decimals)).String()
}

// ToUSD values a base-unit amount at a unit price.
func ToUSD(amount sdkmath.Int, decimals uint8, priceUSD float64) float64 {
	if amount.IsNil() {
		return 0
	}
	v, _ := decimal.NewFromBigInt(amount.BigInt(), -int32(decimals)).
		Mul(decimal.NewFromFloat(priceUSD)).
		Float64()
	return v
}

// LegacyRatio returns a/b as a LegacyDec, used for price-per-share. b must be positive.
func LegacyRatio(a, b sdkmath.Int) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromInt(a).Quo(sdkmath.LegacyNewDecFromInt(b))
}

// BigOrZero converts a possibly nil *big.Int.
func BigOrZero(v *big.Int) sdkmath.Int {
	if v == nil {
		return sdkmath.ZeroInt()
	}
	return sdkmath.NewIntFromBigInt(v)
}
