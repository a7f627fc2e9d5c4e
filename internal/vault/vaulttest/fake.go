// Package vaulttest provides an in-memory VaultManager whose writes move balances the way the
// contracts do, so queue, rebalance and harvest scenarios can run end to end in tests.
package vaulttest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Pool is one lending pool as seen by the fake vault. Value is what the vault could redeem;
// Principal is the vault's bookkeeping.
type Pool struct {
	Principal   sdkmath.Int
	Value       sdkmath.Int
	Kind        types.PoolKind
	KindErr     error
	MaxWithdraw *sdkmath.Int
	Whitelisted bool
}

type DepositRequest struct {
	Controller common.Address
	Assets     sdkmath.Int
}

type WithdrawalRequest struct {
	Controller common.Address
	Assets     sdkmath.Int
	Shares     sdkmath.Int
}

// Call is a write the fake received.
type Call struct {
	Method    string
	Pool      common.Address
	Amount    sdkmath.Int
	BatchSize int
}

// Outcome forces the result of the next write to a method.
type Outcome int

const (
	OutcomeRevert Outcome = iota + 1
	OutcomeTimeout
	OutcomeSubmitError
	// OutcomeNoop mines successfully without moving any funds.
	OutcomeNoop
)

// Vault is the in-memory implementation. All fields may be set directly before use.
type Vault struct {
	mu sync.Mutex

	Address     common.Address
	AssetInfo   types.Asset
	Idle        sdkmath.Int
	Supply      sdkmath.Int
	Pools       map[common.Address]*Pool
	PoolOrder   []common.Address
	Deposits    []DepositRequest
	Withdrawals []WithdrawalRequest
	RoleOnAgent bool
	RoleOnVault bool
	GasPriceWei *big.Int
	RegistryErr error

	// TotalAssetsDelta is added to totalAssets, e.g. to model accrued but unrealized yield.
	TotalAssetsDelta sdkmath.Int

	// Failures maps a method to a queue of forced outcomes, consumed one per call.
	Failures map[string][]Outcome
	Calls    []Call

	block uint64
}

// New returns a vault with an 18-decimal asset and both executor roles granted.
func New() *Vault {
	return &Vault{
		Address:          common.HexToAddress("0x00000000000000000000000000000000000000a0"),
		AssetInfo:        types.Asset{Address: common.HexToAddress("0x00000000000000000000000000000000000000a1"), Symbol: "USDe", Decimals: 18},
		Idle:             sdkmath.ZeroInt(),
		Supply:           sdkmath.ZeroInt(),
		Pools:            make(map[common.Address]*Pool),
		RoleOnAgent:      true,
		RoleOnVault:      true,
		GasPriceWei:      big.NewInt(1_000_000_000),
		TotalAssetsDelta: sdkmath.ZeroInt(),
		Failures:         make(map[string][]Outcome),
		block:            1000,
	}
}

// AddPool registers a whitelisted pool whose value equals its principal.
func (v *Vault) AddPool(addr common.Address, kind types.PoolKind, principal sdkmath.Int) *Pool {
	p := &Pool{Principal: principal, Value: principal, Kind: kind, Whitelisted: true}
	v.Pools[addr] = p
	v.PoolOrder = append(v.PoolOrder, addr)
	return p
}

// Fail queues a forced outcome for the next call to method.
func (v *Vault) Fail(method string, outcome Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Failures[method] = append(v.Failures[method], outcome)
}

// CallsTo filters recorded writes by method.
func (v *Vault) CallsTo(method string) []Call {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []Call
	for _, c := range v.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (v *Vault) VaultAddress() common.Address { return v.Address }

func (v *Vault) Asset(context.Context) (types.Asset, error) { return v.AssetInfo, nil }

func (v *Vault) IdleBalance(context.Context) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Idle, nil
}

func (v *Vault) TotalAssets(context.Context) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	total := v.Idle.Add(v.TotalAssetsDelta)
	for _, p := range v.Pools {
		total = total.Add(p.Value)
	}
	return total, nil
}

func (v *Vault) TotalSupply(context.Context) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Supply, nil
}

func (v *Vault) TotalAssetsAt(ctx context.Context, _ uint64) (sdkmath.Int, error) {
	return v.TotalAssets(ctx)
}

func (v *Vault) TotalSupplyAt(ctx context.Context, _ uint64) (sdkmath.Int, error) {
	return v.TotalSupply(ctx)
}

func (v *Vault) WhitelistedPools(context.Context) ([]common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.RegistryErr != nil {
		return nil, v.RegistryErr
	}
	var out []common.Address
	for _, addr := range v.PoolOrder {
		if v.Pools[addr].Whitelisted {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (v *Vault) IsWhitelisted(_ context.Context, pool common.Address) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.Pools[pool]
	return ok && p.Whitelisted, nil
}

func (v *Vault) PoolPrincipal(_ context.Context, pool common.Address) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.Pools[pool]; ok {
		return p.Principal, nil
	}
	return sdkmath.ZeroInt(), nil
}

func (v *Vault) PoolKind(_ context.Context, pool common.Address) (types.PoolKind, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.Pools[pool]
	if !ok {
		return types.PoolKindAave, nil
	}
	return p.Kind, p.KindErr
}

func (v *Vault) MaxWithdraw(_ context.Context, pool common.Address) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.Pools[pool]
	if !ok || p.Kind != types.PoolKindERC4626 {
		return sdkmath.ZeroInt(), errors.Join(chain.ErrCallReverted, fmt.Errorf("maxWithdraw not supported by %s", pool.Hex()))
	}
	if p.MaxWithdraw != nil {
		return *p.MaxWithdraw, nil
	}
	return p.Value, nil
}

func (v *Vault) DepositQueueLength(context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.Deposits), nil
}

func (v *Vault) DepositQueueAt(_ context.Context, index int) (types.QueueEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if index < 0 || index >= len(v.Deposits) {
		return types.QueueEntry{}, errors.Join(chain.ErrCallReverted, fmt.Errorf("deposit index %d out of range", index))
	}
	d := v.Deposits[index]
	return types.QueueEntry{Controller: d.Controller, Assets: d.Assets, Shares: sdkmath.ZeroInt(), Exists: true}, nil
}

func (v *Vault) PendingWithdrawer(_ context.Context, index int) (common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if index < 0 || index >= len(v.Withdrawals) {
		return common.Address{}, nil
	}
	return v.Withdrawals[index].Controller, nil
}

func (v *Vault) WithdrawalRequest(_ context.Context, controller common.Address) (types.QueueEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, w := range v.Withdrawals {
		if w.Controller == controller {
			return types.QueueEntry{Controller: controller, Assets: w.Assets, Shares: w.Shares, Exists: true}, nil
		}
	}
	return types.QueueEntry{Controller: controller, Assets: sdkmath.ZeroInt(), Shares: sdkmath.ZeroInt()}, nil
}

func (v *Vault) ExecutorRoles(context.Context) (bool, bool, error) {
	return v.RoleOnAgent, v.RoleOnVault, nil
}

func (v *Vault) GasPrice(context.Context) (*big.Int, error) {
	return v.GasPriceWei, nil
}

func (v *Vault) FulfillBatchDeposits(_ context.Context, batchSize int, pool common.Address) (*chain.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, Call{Method: "fullfillBatchDeposits", Pool: pool, BatchSize: batchSize, Amount: sdkmath.ZeroInt()})
	if forced, r, err := v.forced("fullfillBatchDeposits"); forced {
		return r, err
	}
	p, ok := v.Pools[pool]
	if !ok || !p.Whitelisted {
		return v.revert("pool not whitelisted")
	}
	n := batchSize
	if n > len(v.Deposits) {
		n = len(v.Deposits)
	}
	for _, d := range v.Deposits[:n] {
		p.Principal = p.Principal.Add(d.Assets)
		p.Value = p.Value.Add(d.Assets)
		v.Supply = v.Supply.Add(d.Assets)
	}
	v.Deposits = v.Deposits[n:]
	return v.success(), nil
}

func (v *Vault) FulfillBatchWithdrawals(_ context.Context, batchSize int) (*chain.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, Call{Method: "fulfillBatchWithdrawals", BatchSize: batchSize, Amount: sdkmath.ZeroInt()})
	if forced, r, err := v.forced("fulfillBatchWithdrawals"); forced {
		return r, err
	}
	n := batchSize
	if n > len(v.Withdrawals) {
		n = len(v.Withdrawals)
	}
	need := sdkmath.ZeroInt()
	for _, w := range v.Withdrawals[:n] {
		need = need.Add(w.Assets)
	}
	if v.Idle.LT(need) {
		return v.revert("insufficient idle assets")
	}
	for _, w := range v.Withdrawals[:n] {
		v.Idle = v.Idle.Sub(w.Assets)
		v.Supply = v.Supply.Sub(w.Shares)
	}
	v.Withdrawals = v.Withdrawals[n:]
	return v.success(), nil
}

func (v *Vault) WithdrawFromPool(_ context.Context, pool common.Address, amount sdkmath.Int) (*chain.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, Call{Method: "withdrawFromPool", Pool: pool, Amount: amount})
	if forced, r, err := v.forced("withdrawFromPool"); forced {
		return r, err
	}
	p, ok := v.Pools[pool]
	if !ok {
		return v.revert("unknown pool")
	}
	if amount.GT(p.Value) {
		return v.revert("amount exceeds pool value")
	}
	if p.Kind == types.PoolKindERC4626 && p.MaxWithdraw != nil && amount.GT(*p.MaxWithdraw) {
		return v.revert("amount exceeds maxWithdraw")
	}
	p.Value = p.Value.Sub(amount)
	p.Principal = p.Principal.Sub(sdkmath.MinInt(amount, p.Principal))
	if p.MaxWithdraw != nil {
		left := p.MaxWithdraw.Sub(amount)
		p.MaxWithdraw = &left
	}
	v.Idle = v.Idle.Add(amount)
	return v.success(), nil
}

func (v *Vault) DepositToPool(_ context.Context, pool common.Address, amount sdkmath.Int) (*chain.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, Call{Method: "depositToPool", Pool: pool, Amount: amount})
	if forced, r, err := v.forced("depositToPool"); forced {
		return r, err
	}
	p, ok := v.Pools[pool]
	if !ok || !p.Whitelisted {
		return v.revert("pool not whitelisted")
	}
	if amount.GT(v.Idle) {
		return v.revert("insufficient idle assets")
	}
	v.Idle = v.Idle.Sub(amount)
	p.Value = p.Value.Add(amount)
	p.Principal = p.Principal.Add(amount)
	return v.success(), nil
}

func (v *Vault) forced(method string) (bool, *chain.Receipt, error) {
	queue := v.Failures[method]
	if len(queue) == 0 {
		return false, nil, nil
	}
	outcome := queue[0]
	v.Failures[method] = queue[1:]
	switch outcome {
	case OutcomeRevert:
		r, err := v.revert("forced revert")
		return true, r, err
	case OutcomeTimeout:
		r := v.receipt(types.TxUnknown)
		return true, r, errors.Join(chain.ErrConfirmationTimeout, fmt.Errorf("tx %s", r.TxHash.Hex()))
	case OutcomeNoop:
		return true, v.success(), nil
	default:
		return true, nil, errors.Join(chain.ErrSubmitFailed, errors.New("forced submit error"))
	}
}

func (v *Vault) success() *chain.Receipt {
	return v.receipt(types.TxSuccess)
}

func (v *Vault) revert(reason string) (*chain.Receipt, error) {
	r := v.receipt(types.TxReverted)
	return r, errors.Join(chain.ErrTransactionReverted, fmt.Errorf("tx %s: %s", r.TxHash.Hex(), reason))
}

func (v *Vault) receipt(status types.TxStatus) *chain.Receipt {
	v.block++
	hash := crypto.Keccak256Hash(new(big.Int).SetUint64(v.block).Bytes())
	r := &chain.Receipt{TxHash: hash, Status: status, GasPrice: v.GasPriceWei}
	if status != types.TxUnknown {
		r.BlockNumber = v.block
		r.GasUsed = 150000
	}
	return r
}
