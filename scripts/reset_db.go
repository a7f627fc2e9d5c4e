package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/state"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	keepReports := flag.Bool("keep-reports", true, "keep pool_yield_reports, which the yield collectors own")
	cycleOnly := flag.Bool("cycle-only", false, "only reset the cycle counter, keep every table")
	cycle := flag.Uint64("cycle", 0, "cycle number to leave in the counter")
	flag.Parse()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Initialize(logLevel, os.Getenv("LOG_FORMAT"))
	log.Info().Msg("Starting database reset script...")

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found or error loading .env file. Relying on OS environment variables.")
	}

	dbCfg := state.DBConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     5432,
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
	if dbCfg.User == "" {
		log.Fatal().Msg("DB_USER environment variable not set.")
	}
	if dbCfg.DBName == "" {
		log.Fatal().Msg("DB_NAME environment variable not set.")
	}
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatal().Err(err).Str("DB_PORT", portStr).Msg("Invalid DB_PORT")
		}
		dbCfg.Port = port
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if previous, err := state.GetCurrentCycleNumber(ctx); err == nil {
		log.Info().Uint64("previousCycle", previous).Msg("Current cycle counter")
	}

	if !*cycleOnly {
		log.Info().Bool("keepReports", *keepReports).Msg("Connected to database. Dropping orchestrator tables...")
		dropTablesQuery := `
			DROP TABLE IF EXISTS run_transactions CASCADE;
			DROP TABLE IF EXISTS runs CASCADE;
			DROP TABLE IF EXISTS rebalance_records CASCADE;
			DROP TABLE IF EXISTS cycle_counter CASCADE;
		`
		if !*keepReports {
			dropTablesQuery += `DROP TABLE IF EXISTS pool_yield_reports CASCADE;`
		}
		if _, err := state.DB.ExecContext(ctx, dropTablesQuery); err != nil {
			log.Fatal().Err(err).Msg("Failed to drop tables")
		}
		log.Info().Msg("Successfully dropped tables")

		log.Info().Msg("Recreating database schema...")
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to recreate database schema")
		}
		log.Info().Msg("Database schema successfully recreated")
	}

	if err := state.ResetCycleNumber(ctx, *cycle); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset cycle counter")
	}

	log.Info().Uint64("cycle", *cycle).Msg("Database reset complete!")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
