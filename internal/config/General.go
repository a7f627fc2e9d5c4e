package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Orchestrator modes. Only ModeLive broadcasts transactions.
const (
	ModeDryRun = "dry-run"
	ModeLive   = "live"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// ChainID is the EVM chain id used for EIP-155 signing.
	ChainID uint64

	// VaultAddress is the ERC-7540 style vault this orchestrator instance manages.
	VaultAddress common.Address
	// AIAgentAddress is the agent contract holding EXECUTOR_ROLE on the vault.
	AIAgentAddress common.Address
	// WhitelistRegistryAddress is the registry of pools the vault may allocate into.
	WhitelistRegistryAddress common.Address

	// ExecutorPrivateKey is the hex private key used to sign agent transactions.
	ExecutorPrivateKey string

	// AssetSymbol is used when the asset contract does not answer symbol().
	AssetSymbol string

	// GasPriceGwei overrides eth_gasPrice when non-zero.
	GasPriceGwei float64
	// DefaultGasLimit is the fallback gas limit if estimation fails.
	DefaultGasLimit uint64
	// GasAdjustment is the multiplier for estimated gas to ensure sufficient headroom.
	GasAdjustment float64
	// ConfirmationTimeout bounds the wait for a transaction receipt.
	ConfirmationTimeout time.Duration

	// Mode is ModeDryRun or ModeLive.
	Mode string

	// PoolRegistryFile is an optional YAML file describing known pools.
	PoolRegistryFile string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Chain identity, contract addresses and the executor key are required; everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	ChainID, err = getEnvAsUint64("CHAIN_ID")
	if err != nil {
		return err
	}

	VaultAddress, err = getEnvAsAddress("VAULT_ADDRESS")
	if err != nil {
		return err
	}

	AIAgentAddress, err = getEnvAsAddress("AI_AGENT_ADDRESS")
	if err != nil {
		return err
	}

	WhitelistRegistryAddress, err = getEnvAsAddress("WHITELIST_REGISTRY_ADDRESS")
	if err != nil {
		return err
	}

	ExecutorPrivateKey, err = getEnv("EXECUTOR_PRIVATE_KEY")
	if err != nil {
		return err
	}
	ExecutorPrivateKey = strings.TrimPrefix(ExecutorPrivateKey, "0x")

	AssetSymbol = getEnvOrDefault("ASSET_SYMBOL", "USDe")

	GasPriceGwei, err = getEnvAsFloat64OrDefault("GAS_PRICE_GWEI", 0)
	if err != nil {
		return err
	}

	DefaultGasLimit, err = getEnvAsUint64OrDefault("GAS_DEFAULT_LIMIT", 500000)
	if err != nil {
		return err
	}

	GasAdjustment, err = getEnvAsFloat64OrDefault("GAS_ADJUSTMENT", 1.2)
	if err != nil {
		return err
	}

	timeoutSecs, err := getEnvAsUint64OrDefault("CONFIRMATION_TIMEOUT", 300)
	if err != nil {
		return err
	}
	ConfirmationTimeout = time.Duration(timeoutSecs) * time.Second

	Mode = getEnvOrDefault("ORCHESTRATOR_MODE", ModeDryRun)
	if Mode != ModeDryRun && Mode != ModeLive {
		return errors.New("environment variable ORCHESTRATOR_MODE must be '" + ModeDryRun + "' or '" + ModeLive + "', got: " + Mode)
	}

	PoolRegistryFile = getEnvOrDefault("POOL_REGISTRY_FILE", "")

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	// Load threshold overrides
	if err := loadThresholds(); err != nil {
		return err
	}

	log.Debug().
		Uint64("ChainID", ChainID).
		Str("Vault", VaultAddress.Hex()).
		Str("AIAgent", AIAgentAddress.Hex()).
		Str("Mode", Mode).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsUint64OrDefault is getEnvAsUint64 for optional variables.
func getEnvAsUint64OrDefault(key string, fallback uint64) (uint64, error) {
	if _, exists := os.LookupEnv(key); !exists {
		return fallback, nil
	}
	return getEnvAsUint64(key)
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64OrDefault is getEnvAsFloat64 for optional variables.
func getEnvAsFloat64OrDefault(key string, fallback float64) (float64, error) {
	if _, exists := os.LookupEnv(key); !exists {
		return fallback, nil
	}
	return getEnvAsFloat64(key)
}

// getEnvAsAddress retrieves a required hex address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}
