package chain

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrUnexpectedResult = errors.New("unexpected contract result")

// Contract binds an address to its ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

func NewVault(address common.Address) *Contract {
	return &Contract{Name: "Vault", Address: address, ABI: vaultABI}
}

func NewAIAgent(address common.Address) *Contract {
	return &Contract{Name: "AIAgent", Address: address, ABI: aiAgentABI}
}

func NewWhitelistRegistry(address common.Address) *Contract {
	return &Contract{Name: "WhitelistRegistry", Address: address, ABI: whitelistRegistryABI}
}

func NewERC20(address common.Address) *Contract {
	return &Contract{Name: "ERC20", Address: address, ABI: erc20ABI}
}

func NewERC4626(address common.Address) *Contract {
	return &Contract{Name: "ERC4626", Address: address, ABI: erc4626ABI}
}

// Result decoders. Each checks the arity and type of a single return value.

func AsBigInt(values []any, index int) (*big.Int, error) {
	if index >= len(values) {
		return nil, errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].(*big.Int)
	if !ok || v == nil {
		return nil, errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want *big.Int", index, values[index]))
	}
	return v, nil
}

func AsInt(values []any, index int) (sdkmath.Int, error) {
	v, err := AsBigInt(values, index)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return sdkmath.NewIntFromBigInt(v), nil
}

func AsAddress(values []any, index int) (common.Address, error) {
	if index >= len(values) {
		return common.Address{}, errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].(common.Address)
	if !ok {
		return common.Address{}, errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want address", index, values[index]))
	}
	return v, nil
}

func AsAddresses(values []any, index int) ([]common.Address, error) {
	if index >= len(values) {
		return nil, errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].([]common.Address)
	if !ok {
		return nil, errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want address[]", index, values[index]))
	}
	return v, nil
}

func AsBool(values []any, index int) (bool, error) {
	if index >= len(values) {
		return false, errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].(bool)
	if !ok {
		return false, errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want bool", index, values[index]))
	}
	return v, nil
}

func AsUint8(values []any, index int) (uint8, error) {
	if index >= len(values) {
		return 0, errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].(uint8)
	if !ok {
		return 0, errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want uint8", index, values[index]))
	}
	return v, nil
}

func AsString(values []any, index int) (string, error) {
	if index >= len(values) {
		return "", errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].(string)
	if !ok {
		return "", errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want string", index, values[index]))
	}
	return v, nil
}

func AsBytes32(values []any, index int) ([32]byte, error) {
	if index >= len(values) {
		return [32]byte{}, errors.Join(ErrUnexpectedResult, fmt.Errorf("missing output %d", index))
	}
	v, ok := values[index].([32]byte)
	if !ok {
		return [32]byte{}, errors.Join(ErrUnexpectedResult, fmt.Errorf("output %d is %T, want bytes32", index, values[index]))
	}
	return v, nil
}

// TxRecord converts a submission outcome into a run transaction record. A nil receipt means
// the transaction never left the process.
func TxRecord(phase, method string, pool *common.Address, amount sdkmath.Int, receipt *Receipt, err error) types.TransactionRecord {
	if amount.IsNil() {
		amount = sdkmath.ZeroInt()
	}
	rec := types.TransactionRecord{
		Phase:    phase,
		Method:   method,
		Pool:     pool,
		Status:   types.TxFailed,
		GasPrice: sdkmath.ZeroInt(),
		Amount:   amount,
	}
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
		rec.Status = receipt.Status
		rec.GasUsed = receipt.GasUsed
		if receipt.GasPrice != nil {
			rec.GasPrice = sdkmath.NewIntFromBigInt(receipt.GasPrice)
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
