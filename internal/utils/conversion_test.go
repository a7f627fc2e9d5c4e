package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDustThreshold(t *testing.T) {
	assert.Equal(t, "10000", DustThreshold(6).String())
	assert.Equal(t, "10000000000000000", DustThreshold(18).String())
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		amount   int64
		decimals uint8
		want     string
	}{
		{1500000, 6, "1.5"},
		{0, 18, "0"},
		{123, 0, "123"},
		{1, 6, "0.000001"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUnits(sdkmath.NewInt(tt.amount), tt.decimals))
	}
	assert.Equal(t, "0", FormatUnits(sdkmath.Int{}, 6))
}

func TestSDKIntToFloat64(t *testing.T) {
	f, err := SDKIntToFloat64(sdkmath.NewInt(2500000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, f, 1e-12)

	_, err = SDKIntToFloat64(sdkmath.Int{}, 6)
	require.ErrorIs(t, err, ErrAmountNil)

	_, err = SDKIntToFloat64(sdkmath.NewInt(-1), 6)
	require.ErrorIs(t, err, ErrAmountNegative)

	_, err = SDKIntToFloat64(sdkmath.NewInt(1), 40)
	require.ErrorIs(t, err, ErrInvalidPrecision)
}

func TestFloat64ToSDKInt(t *testing.T) {
	v, err := Float64ToSDKInt(1.25, 6)
	require.NoError(t, err)
	assert.Equal(t, "1250000", v.String())

	v, err = Float64ToSDKInt(0, 18)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = Float64ToSDKInt(-2, 6)
	require.ErrorIs(t, err, ErrAmountNegative)
}

func TestToUSD(t *testing.T) {
	assert.InDelta(t, 3.0, ToUSD(sdkmath.NewInt(1500000), 6, 2.0), 1e-9)
	assert.Equal(t, 0.0, ToUSD(sdkmath.Int{}, 6, 2.0))
}
