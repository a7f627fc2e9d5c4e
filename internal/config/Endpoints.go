package config

import (
	"strconv"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// RPCURL is the JSON-RPC endpoint of the EVM node.
	RPCURL string

	// Postgres connection for the run log, rebalance log and pool yield reports.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// RedisAddr enables the single-instance lock when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AMQPURL enables run event publishing when set.
	AMQPURL      string
	AMQPExchange string

	// PriceAPI is the CryptoCompare base URL; PriceAPIKey is optional.
	PriceAPI    string
	PriceAPIKey string

	// WebPort serves the read API and /metrics.
	WebPort string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	RPCURL, err = getEnv("RPC_URL")
	if err != nil {
		return err
	}

	DBHost = getEnvOrDefault("DB_HOST", "localhost")
	DBPort = atoiOrDefault(getEnvOrDefault("DB_PORT", ""), 5432)
	DBUser = getEnvOrDefault("DB_USER", "postgres")
	DBPassword = getEnvOrDefault("DB_PASSWORD", "")
	DBName = getEnvOrDefault("DB_NAME", "vault_orchestrator")
	DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	RedisDB = atoiOrDefault(getEnvOrDefault("REDIS_DB", ""), 0)

	AMQPURL = getEnvOrDefault("AMQP_URL", "")
	AMQPExchange = getEnvOrDefault("AMQP_EXCHANGE", "vault.runs")

	PriceAPI = getEnvOrDefault("PRICE_API", "https://min-api.cryptocompare.com")
	PriceAPIKey = getEnvOrDefault("PRICE_API_KEY", "")

	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	log.Debug().
		Str("RPCURL", RPCURL).
		Str("DBHost", DBHost).
		Bool("redisLock", RedisAddr != "").
		Bool("amqpEvents", AMQPURL != "").
		Str("WebPort", WebPort).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// atoiOrDefault converts string to int with a default value
func atoiOrDefault(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
