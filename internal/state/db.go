// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

var ErrDBNotInitialized = errors.New("database not initialized")

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq keyword/value connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	var err error
	DB, err = sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(10)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err = DB.Ping(); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the DDL for every table the orchestrator owns. pool_yield_reports is
// written by the yield collectors; it is created here so a fresh database can start.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL UNIQUE,
			cycle_number BIGINT NOT NULL,
			vault_address VARCHAR(42) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			processed_count INTEGER NOT NULL DEFAULT 0,
			total_yield NUMERIC(78, 0) NOT NULL DEFAULT 0,
			total_withdrawn NUMERIC(78, 0) NOT NULL DEFAULT 0,
			total_reinvested NUMERIC(78, 0) NOT NULL DEFAULT 0,
			tx_hashes TEXT[],
			errors TEXT[],
			result JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_vault_started ON runs(vault_address, started_at DESC);

		CREATE TABLE IF NOT EXISTS run_transactions (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			phase VARCHAR(32) NOT NULL,
			method VARCHAR(64) NOT NULL,
			pool_address VARCHAR(42),
			tx_hash VARCHAR(66),
			status VARCHAR(16) NOT NULL,
			gas_used BIGINT NOT NULL DEFAULT 0,
			gas_price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			amount NUMERIC(78, 0) NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_run_transactions_run ON run_transactions(run_id);

		CREATE TABLE IF NOT EXISTS rebalance_records (
			id BIGSERIAL PRIMARY KEY,
			rebalance_id UUID NOT NULL,
			leg VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			pool_address VARCHAR(42) NOT NULL,
			protocol VARCHAR(64) NOT NULL DEFAULT '',
			amount NUMERIC(78, 0) NOT NULL,
			requested_amount NUMERIC(78, 0) NOT NULL,
			tx_hash VARCHAR(66),
			block_number BIGINT,
			gas_used BIGINT,
			gas_price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			error TEXT,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		ALTER TABLE rebalance_records ADD COLUMN IF NOT EXISTS dry_run BOOLEAN NOT NULL DEFAULT FALSE;
		CREATE INDEX IF NOT EXISTS idx_rebalance_records_unit ON rebalance_records(rebalance_id, leg, status);
		CREATE INDEX IF NOT EXISTS idx_rebalance_records_status ON rebalance_records(status, created_at DESC);

		CREATE TABLE IF NOT EXISTS pool_yield_reports (
			id BIGSERIAL PRIMARY KEY,
			pool_address VARCHAR(42) NOT NULL,
			protocol VARCHAR(64) NOT NULL,
			apy DOUBLE PRECISION NOT NULL,
			apr DOUBLE PRECISION NOT NULL DEFAULT 0,
			tvl DOUBLE PRECISION NOT NULL DEFAULT 0,
			utilization DOUBLE PRECISION NOT NULL DEFAULT 0,
			curve_params JSONB,
			reported_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_pool_yield_reports_pool ON pool_yield_reports(pool_address, reported_at DESC);
	`
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	if err := ensureCycleCounterTable(context.Background()); err != nil {
		return err
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
