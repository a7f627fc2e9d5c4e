package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPoolRegistry = errors.New("pool registry is invalid")

// PoolInfo is static metadata for a pool the vault may allocate into.
type PoolInfo struct {
	Address  string `yaml:"address"`
	Protocol string `yaml:"protocol"`
	Model    string `yaml:"model"` // "aave" or "felix"
}

type poolRegistryFile struct {
	Pools []PoolInfo `yaml:"pools"`
}

// PoolRegistry maps pool addresses to metadata. Built-in entries cover the known HyperEVM pools;
// a POOL_REGISTRY_FILE adds to or overrides them.
var PoolRegistry = map[common.Address]PoolInfo{
	common.HexToAddress("0x00A89d7a5A02160f20150EbEA7a2b5E4879A1A8b"): {Protocol: "HyperLend", Model: string(types.CurveModelAave)},
	common.HexToAddress("0xceCcE0EB9DD2Ef7996e01e25DD70e461F918A14b"): {Protocol: "HypurrFi", Model: string(types.CurveModelAave)},
	common.HexToAddress("0x835FEBF893c6DdDee5CF762B0f8e31C5B06938ab"): {Protocol: "Felix", Model: string(types.CurveModelFelix)},
	common.HexToAddress("0xfc5126377f0efc0041c0969ef9ba903ce67d151e"): {Protocol: "Felix", Model: string(types.CurveModelFelix)},
}

// LoadPoolRegistry merges a YAML registry file into PoolRegistry.
//
//	pools:
//	  - address: "0x00A8..."
//	    protocol: HyperLend
//	    model: aave
func LoadPoolRegistry(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Join(ErrInvalidPoolRegistry, fmt.Errorf("read %s: %w", path, err))
	}
	entries, err := ParsePoolRegistry(raw)
	if err != nil {
		return err
	}
	for addr, info := range entries {
		PoolRegistry[addr] = info
	}
	return nil
}

// ParsePoolRegistry decodes registry YAML without touching the global registry.
func ParsePoolRegistry(raw []byte) (map[common.Address]PoolInfo, error) {
	var file poolRegistryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrInvalidPoolRegistry, err)
	}
	out := make(map[common.Address]PoolInfo, len(file.Pools))
	for i, p := range file.Pools {
		if !common.IsHexAddress(p.Address) {
			return nil, errors.Join(ErrInvalidPoolRegistry, fmt.Errorf("entry %d: invalid address %q", i, p.Address))
		}
		model := strings.ToLower(p.Model)
		switch model {
		case "":
			model = string(types.CurveModelAave)
		case string(types.CurveModelAave), string(types.CurveModelFelix):
		default:
			return nil, errors.Join(ErrInvalidPoolRegistry, fmt.Errorf("entry %d: unknown model %q", i, p.Model))
		}
		p.Model = model
		out[common.HexToAddress(p.Address)] = p
	}
	return out, nil
}

// ProtocolName returns the registered protocol for a pool, or its short address.
func ProtocolName(address common.Address) string {
	if info, ok := PoolRegistry[address]; ok && info.Protocol != "" {
		return info.Protocol
	}
	hex := address.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
