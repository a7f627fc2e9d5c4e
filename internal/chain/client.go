package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidConfig       = errors.New("invalid chain client configuration")
	ErrChainIDMismatch     = errors.New("node chain id does not match configuration")
	ErrCallFailed          = errors.New("contract call failed")
	ErrCallReverted        = errors.New("contract call reverted")
	ErrPackFailed          = errors.New("failed to encode contract call")
	ErrUnpackFailed        = errors.New("failed to decode contract result")
	ErrSubmitFailed        = errors.New("transaction submission failed")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

var chainLogger = logger.GetForComponent("protocol_client")

// Backend is the subset of ethclient.Client the protocol client depends on.
type Backend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// Reader performs read-only calls and header lookups.
type Reader interface {
	Call(ctx context.Context, contract *Contract, method string, args ...any) ([]any, error)
	CallAt(ctx context.Context, contract *Contract, block *big.Int, method string, args ...any) ([]any, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	LatestHeader(ctx context.Context) (*coretypes.Header, error)
	HeaderByNumber(ctx context.Context, number uint64) (*coretypes.Header, error)
}

// Submitter sends state-changing transactions and waits for their receipts.
type Submitter interface {
	Submit(ctx context.Context, contract *Contract, method string, args ...any) (*Receipt, error)
	From() common.Address
}

// Config describes how to construct the protocol client.
type Config struct {
	RPCURL              string
	ChainID             uint64
	PrivateKeyHex       string
	GasPriceGwei        float64
	DefaultGasLimit     uint64
	GasAdjustment       float64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	MaxPollInterval     time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultGasLimit == 0 {
		c.DefaultGasLimit = 500000
	}
	if c.GasAdjustment <= 0 {
		c.GasAdjustment = 1.2
	}
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = 300 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = 30 * time.Second
	}
}

// Receipt is the outcome of a submitted transaction. Status is unknown when the confirmation
// wait timed out; TxHash is always set once the transaction was broadcast.
type Receipt struct {
	TxHash      common.Hash
	Status      types.TxStatus
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    *big.Int
}

// Client implements Reader and Submitter over JSON-RPC.
type Client struct {
	backend Backend
	rpc     *gethrpc.Client
	cfg     Config
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  coretypes.Signer

	mu        sync.Mutex
	hasNonce  bool
	lastNonce uint64
}

// Dial connects to the configured RPC endpoint and verifies the chain id.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("rpc url is empty"))
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	eth := ethclient.NewClient(rpcClient)

	nodeChainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if nodeChainID.Uint64() != cfg.ChainID {
		rpcClient.Close()
		return nil, errors.Join(ErrChainIDMismatch, fmt.Errorf("node reports %s, configured %d", nodeChainID, cfg.ChainID))
	}

	client, err := NewClient(eth, cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpc = rpcClient

	chainLogger.Info().
		Str("rpc", rpcURL).
		Uint64("chainID", cfg.ChainID).
		Str("executor", client.from.Hex()).
		Msg("Dial: protocol client connected")

	return client, nil
}

// NewClient wraps an existing backend. Used directly by tests.
func NewClient(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("backend cannot be nil"))
	}
	if cfg.ChainID == 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("chain id cannot be zero"))
	}
	if math.IsNaN(cfg.GasAdjustment) || math.IsInf(cfg.GasAdjustment, 0) {
		return nil, errors.Join(ErrInvalidConfig, errors.New("gas adjustment is not finite"))
	}
	cfg.applyDefaults()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("invalid executor key: %w", err))
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	return &Client{
		backend: backend,
		cfg:     cfg,
		chainID: chainID,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  coretypes.LatestSignerForChainID(chainID),
	}, nil
}

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// From returns the executor address.
func (c *Client) From() common.Address {
	return c.from
}

// Call performs a read-only call at the latest block.
func (c *Client) Call(ctx context.Context, contract *Contract, method string, args ...any) ([]any, error) {
	return c.CallAt(ctx, contract, nil, method, args...)
}

// CallAt performs a read-only call at a historical block; nil means latest.
func (c *Client) CallAt(ctx context.Context, contract *Contract, block *big.Int, method string, args ...any) ([]any, error) {
	return c.call(ctx, common.Address{}, contract, block, method, args...)
}

// Simulate executes a state-changing method as an eth_call from the executor.
func (c *Client) Simulate(ctx context.Context, contract *Contract, method string, args ...any) error {
	_, err := c.call(ctx, c.from, contract, nil, method, args...)
	return err
}

func (c *Client) call(ctx context.Context, from common.Address, contract *Contract, block *big.Int, method string, args ...any) ([]any, error) {
	data, err := contract.ABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Join(ErrPackFailed, fmt.Errorf("%s.%s: %w", contract.Name, method, err))
	}

	msg := gethcore.CallMsg{From: from, To: &contract.Address, Data: data}
	out, err := c.backend.CallContract(ctx, msg, block)
	if err != nil {
		if IsRevert(err) {
			return nil, errors.Join(ErrCallReverted, fmt.Errorf("%s.%s: %w", contract.Name, method, err))
		}
		return nil, errors.Join(ErrCallFailed, fmt.Errorf("%s.%s: %w", contract.Name, method, err))
	}

	abiMethod := contract.ABI.Methods[method]
	if len(abiMethod.Outputs) == 0 {
		return nil, nil
	}
	if len(out) == 0 {
		return nil, errors.Join(ErrCallReverted, fmt.Errorf("%s.%s: empty return data", contract.Name, method))
	}
	values, err := contract.ABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Join(ErrUnpackFailed, fmt.Errorf("%s.%s: %w", contract.Name, method, err))
	}
	return values, nil
}

// GasPrice returns the configured override or the node's suggestion.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if c.cfg.GasPriceGwei > 0 {
		wei, err := utils.Float64ToSDKInt(c.cfg.GasPriceGwei, 9)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		return wei.BigInt(), nil
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return price, nil
}

// LatestHeader returns the head block header.
func (c *Client) LatestHeader(ctx context.Context) (*coretypes.Header, error) {
	return c.backend.HeaderByNumber(ctx, nil)
}

// HeaderByNumber returns the header at a height.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*coretypes.Header, error) {
	return c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
}

// Submit packs, signs and broadcasts a transaction, then blocks until it is mined or the
// confirmation timeout elapses. The wait ignores ctx cancellation: a broadcast transaction is
// always awaited so its outcome can be recorded.
func (c *Client) Submit(ctx context.Context, contract *Contract, method string, args ...any) (*Receipt, error) {
	data, err := contract.ABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Join(ErrPackFailed, fmt.Errorf("%s.%s: %w", contract.Name, method, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return nil, errors.Join(ErrSubmitFailed, err)
	}

	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return nil, errors.Join(ErrSubmitFailed, err)
	}

	gasLimit := c.gasLimit(ctx, contract, method, data, gasPrice)

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &contract.Address,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, errors.Join(ErrSubmitFailed, fmt.Errorf("failed to sign transaction: %w", err))
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		chainLogger.Error().Err(err).
			Str("contract", contract.Name).
			Str("method", method).
			Uint64("nonce", nonce).
			Msg("Submit: failed to broadcast transaction")
		return nil, errors.Join(ErrSubmitFailed, fmt.Errorf("%s.%s: %w", contract.Name, method, err))
	}
	c.hasNonce = true
	c.lastNonce = nonce

	chainLogger.Info().
		Str("contract", contract.Name).
		Str("method", method).
		Str("txHash", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Uint64("gasLimit", gasLimit).
		Str("gasPrice", gasPrice.String()).
		Msg("Submit: transaction sent")

	return c.waitForReceipt(context.WithoutCancel(ctx), signed.Hash(), gasPrice)
}

// nextNonce never hands out a nonce at or below the last one this process broadcast.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	pending, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	if c.hasNonce && pending <= c.lastNonce {
		return c.lastNonce + 1, nil
	}
	return pending, nil
}

func (c *Client) gasLimit(ctx context.Context, contract *Contract, method string, data []byte, gasPrice *big.Int) uint64 {
	estimated, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:     c.from,
		To:       &contract.Address,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil || estimated == 0 {
		chainLogger.Warn().Err(err).
			Str("contract", contract.Name).
			Str("method", method).
			Uint64("defaultGasLimit", c.cfg.DefaultGasLimit).
			Msg("Submit: gas estimation failed, using default gas limit")
		return c.cfg.DefaultGasLimit
	}
	return uint64(math.Ceil(float64(estimated) * c.cfg.GasAdjustment))
}

// waitForReceipt polls with exponential backoff until the receipt appears or the timeout elapses.
func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash, gasPrice *big.Int) (*Receipt, error) {
	deadline := time.Now().Add(c.cfg.ConfirmationTimeout)

	for attempt := 1; ; attempt++ {
		delay := time.Duration(float64(c.cfg.PollInterval) * math.Pow(1.5, float64(attempt-1)))
		if delay > c.cfg.MaxPollInterval {
			delay = c.cfg.MaxPollInterval
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if delay > remaining {
			delay = remaining
		}
		time.Sleep(delay)

		queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		raw, err := c.backend.TransactionReceipt(queryCtx, hash)
		cancel()
		if err != nil {
			if !errors.Is(err, gethcore.NotFound) {
				chainLogger.Debug().Err(err).Str("txHash", hash.Hex()).Int("attempt", attempt).
					Msg("waitForReceipt: receipt query failed, will retry")
			}
			continue
		}
		if raw == nil {
			continue
		}

		receipt := &Receipt{
			TxHash:   hash,
			Status:   types.TxSuccess,
			GasUsed:  raw.GasUsed,
			GasPrice: gasPrice,
		}
		if raw.BlockNumber != nil {
			receipt.BlockNumber = raw.BlockNumber.Uint64()
		}
		if raw.EffectiveGasPrice != nil {
			receipt.GasPrice = raw.EffectiveGasPrice
		}
		if raw.Status == coretypes.ReceiptStatusFailed {
			receipt.Status = types.TxReverted
			chainLogger.Warn().Str("txHash", hash.Hex()).Uint64("block", receipt.BlockNumber).
				Msg("waitForReceipt: transaction reverted")
			return receipt, errors.Join(ErrTransactionReverted, fmt.Errorf("tx %s", hash.Hex()))
		}

		chainLogger.Info().Str("txHash", hash.Hex()).Uint64("block", receipt.BlockNumber).
			Uint64("gasUsed", receipt.GasUsed).Int("attempt", attempt).
			Msg("waitForReceipt: transaction confirmed")
		return receipt, nil
	}

	chainLogger.Error().Str("txHash", hash.Hex()).Dur("timeout", c.cfg.ConfirmationTimeout).
		Msg("waitForReceipt: no receipt before timeout")
	return &Receipt{TxHash: hash, Status: types.TxUnknown, GasPrice: gasPrice},
		errors.Join(ErrConfirmationTimeout, fmt.Errorf("tx %s after %s", hash.Hex(), c.cfg.ConfirmationTimeout))
}

// IsRevert reports whether an RPC error is an EVM revert.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) && strings.Contains(strings.ToLower(dataErr.Error()), "revert") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
