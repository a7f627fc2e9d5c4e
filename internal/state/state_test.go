package state

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "0", want: "0"},
		{raw: "", want: "0"},
		{raw: "1000000000000000000000000000000", want: "1000000000000000000000000000000"},
		{raw: "42.000", want: "42"},
		{raw: " 7 ", want: "7"},
		{raw: "1.5", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseNumeric(tt.raw)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidNumeric, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got.String())
	}
}

func TestNumericArg(t *testing.T) {
	assert.Equal(t, "0", numericArg(sdkmath.Int{}))
	assert.Equal(t, "123", numericArg(sdkmath.NewInt(123)))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("0xabc").Valid)

	assert.False(t, addressArg(nil).Valid)
	pool := common.HexToAddress("0x835FEBF893c6DdDee5CF762B0f8e31C5B06938ab")
	assert.Equal(t, pool.Hex(), addressArg(&pool).String)

	assert.False(t, nullUint(0).Valid)
	assert.Equal(t, int64(9), nullUint(9).Int64)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 100))
	assert.Equal(t, 10, clampLimit(-3, 10, 100))
	assert.Equal(t, 25, clampLimit(25, 10, 100))
	assert.Equal(t, 100, clampLimit(1000, 10, 100))
}

func TestValidRebalanceStatus(t *testing.T) {
	for _, s := range []types.RebalanceStatus{types.RebalancePending, types.RebalanceCompleted, types.RebalanceFailed, types.RebalanceUnknown} {
		assert.True(t, validRebalanceStatus(string(s)))
	}
	assert.False(t, validRebalanceStatus("settled"))
}

func TestDecodeRunKeepsRowID(t *testing.T) {
	run, err := decodeRun(17, []byte(`{"run_id":"abc","status":"partial","total_yield":"5"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(17), run.ID)
	assert.Equal(t, types.RunPartial, run.Status)
	assert.Equal(t, "5", run.TotalYield.String())
}

func TestDBConfigDSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "vaults", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=vaults sslmode=disable", cfg.DSN())
}

func TestStoresRequireDB(t *testing.T) {
	DB = nil
	_, err := NewRunStore().SaveRun(context.Background(), types.RunResult{})
	assert.ErrorIs(t, err, ErrDBNotInitialized)
	_, err = NewRebalanceStore().StrandedUnits(context.Background())
	assert.ErrorIs(t, err, ErrDBNotInitialized)
}
