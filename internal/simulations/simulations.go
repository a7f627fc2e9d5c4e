package simulations

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var dryRunLogger = logger.GetForComponent("dry_run_simulator")

// Simulator executes a state-changing call without broadcasting it.
type Simulator interface {
	Simulate(ctx context.Context, contract *chain.Contract, method string, args ...any) error
	From() common.Address
}

// SimulatedCall is one submission the dry run intercepted.
type SimulatedCall struct {
	Contract string
	Method   string
	Args     []any
	Reverted bool
	Error    string
}

// DryRunSubmitter implements chain.Submitter by running every submission as an eth_call from
// the executor. Nothing is broadcast. Reverts come back as reverted receipts so they are
// recorded exactly like live reverts; successes carry a synthetic hash and zero gas.
type DryRunSubmitter struct {
	sim Simulator

	mu    sync.Mutex
	seq   uint64
	calls []SimulatedCall
}

func NewDryRunSubmitter(sim Simulator) *DryRunSubmitter {
	return &DryRunSubmitter{sim: sim}
}

var _ chain.Submitter = (*DryRunSubmitter)(nil)

func (d *DryRunSubmitter) From() common.Address {
	return d.sim.From()
}

func (d *DryRunSubmitter) Submit(ctx context.Context, contract *chain.Contract, method string, args ...any) (*chain.Receipt, error) {
	d.mu.Lock()
	d.seq++
	hash := syntheticHash(contract.Address, method, d.seq)
	d.mu.Unlock()

	log := dryRunLogger.With().Str("contract", contract.Name).Str("method", method).Str("txHash", hash.Hex()).Logger()
	call := SimulatedCall{Contract: contract.Name, Method: method, Args: args}

	err := d.sim.Simulate(ctx, contract, method, args...)
	switch {
	case err == nil:
		log.Info().Msg("Submit: dry run succeeded, transaction not broadcast")
		d.record(call)
		return &chain.Receipt{TxHash: hash, Status: types.TxSuccess, GasPrice: big.NewInt(0)}, nil

	case errors.Is(err, chain.ErrCallReverted) || chain.IsRevert(err):
		call.Reverted = true
		call.Error = err.Error()
		log.Warn().Err(err).Msg("Submit: dry run reverted")
		d.record(call)
		return &chain.Receipt{TxHash: hash, Status: types.TxReverted, GasPrice: big.NewInt(0)},
			errors.Join(chain.ErrTransactionReverted, fmt.Errorf("simulated %s.%s: %w", contract.Name, method, err))

	default:
		call.Error = err.Error()
		log.Error().Err(err).Msg("Submit: dry run could not be simulated")
		d.record(call)
		return nil, errors.Join(chain.ErrSubmitFailed, fmt.Errorf("simulate %s.%s: %w", contract.Name, method, err))
	}
}

func (d *DryRunSubmitter) record(call SimulatedCall) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

// Calls returns every intercepted submission in order.
func (d *DryRunSubmitter) Calls() []SimulatedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SimulatedCall(nil), d.calls...)
}

// syntheticHash is keccak(address ‖ method ‖ seq). It cannot collide with a real transaction
// hash in practice and lets dry-run records be told apart.
func syntheticHash(to common.Address, method string, seq uint64) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	return crypto.Keccak256Hash(to.Bytes(), []byte(method), n[:])
}
