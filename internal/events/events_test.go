package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenRecorder struct{ err error }

func (b brokenRecorder) SaveRun(context.Context, types.RunResult) (int64, error) { return 0, b.err }

func (b brokenRecorder) SaveTransaction(context.Context, string, types.TransactionRecord) error {
	return b.err
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "run.partial", routingKey(EventRun, "partial"))
	assert.Equal(t, "tx.withdrawal_queue.reverted", routingKey(EventTransaction, types.PhaseWithdrawal, "Reverted"))
	assert.Equal(t, "tx.a_b", routingKey("tx", "", "a.b"))
}

func TestEncodeEnvelope(t *testing.T) {
	vault := common.HexToAddress("0x00000000000000000000000000000000000000a0")
	run := types.NewRunResult("run-1", vault, time.Unix(1700000000, 0).UTC())
	run.TotalYield = sdkmath.NewInt(1234)

	body, err := encodeEnvelope(EventRun, run.RunID, vault.Hex(), time.Time{}, run)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, EventRun, env.Type)
	assert.Equal(t, "run-1", env.RunID)
	assert.False(t, env.OccurredAt.IsZero())

	var decoded types.RunResult
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "1234", decoded.TotalYield.String())
}

func TestFanoutReturnsPrimaryID(t *testing.T) {
	primary := NewMemoryRecorder()
	secondary := NewMemoryRecorder()
	f := NewFanout(primary, secondary, nil)

	id, err := f.SaveRun(context.Background(), types.RunResult{RunID: "r"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Len(t, secondary.Runs(), 1)

	require.NoError(t, f.SaveTransaction(context.Background(), "r", types.TransactionRecord{TxHash: "0x1"}))
	assert.Len(t, primary.Transactions("r"), 1)
	assert.Len(t, secondary.Transactions("r"), 1)
}

func TestFanoutToleratesSecondaryFailure(t *testing.T) {
	primary := NewMemoryRecorder()
	f := NewFanout(primary, brokenRecorder{err: errors.New("broker down")})

	_, err := f.SaveRun(context.Background(), types.RunResult{RunID: "r"})
	assert.NoError(t, err)
	assert.Len(t, primary.Runs(), 1)
}

func TestFanoutSurfacesPrimaryFailure(t *testing.T) {
	dbErr := errors.New("db down")
	secondary := NewMemoryRecorder()
	f := NewFanout(brokenRecorder{err: dbErr}, secondary)

	_, err := f.SaveRun(context.Background(), types.RunResult{RunID: "r"})
	assert.ErrorIs(t, err, dbErr)
	assert.Len(t, secondary.Runs(), 1)
}
