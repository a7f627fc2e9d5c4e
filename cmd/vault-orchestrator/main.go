package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/datafetcher"
	"github.com/creeping-vampires/neura-vaults-backend/internal/events"
	"github.com/creeping-vampires/neura-vaults-backend/internal/lock"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/metrics"
	"github.com/creeping-vampires/neura-vaults-backend/internal/orchestrator"
	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/simulations"
	"github.com/creeping-vampires/neura-vaults-backend/internal/state"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"
	"github.com/creeping-vampires/neura-vaults-backend/internal/web"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// LOCK_TTL bounds how long a crashed instance blocks a replacement.
	LOCK_TTL = 2 * time.Minute
	// YIELD_REPORT_MAX_AGE drops pool reports the collectors stopped refreshing.
	YIELD_REPORT_MAX_AGE = 6 * time.Hour
)

// main is the entry point for the vault orchestrator.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	log.Info().Str("mode", config.Mode).Str("vault", config.VaultAddress.Hex()).Msg("Vault orchestrator starting...")

	if err := config.LoadPoolRegistry(config.PoolRegistryFile); err != nil {
		log.Fatal().Err(err).Str("file", config.PoolRegistryFile).Msg("Failed to load pool registry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Storage (Postgres, or in-process stores for dry runs) ---
	stores := openStores()
	defer state.CloseDB()

	var recorder events.Recorder = stores.recorder
	if config.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(events.AMQPConfig{URL: config.AMQPURL, Exchange: config.AMQPExchange})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect run event publisher")
		}
		defer publisher.Close()
		recorder = events.NewFanout(stores.recorder, publisher)
	}

	// --- 3. Single-instance lock ---
	var instanceLock *lock.Lock
	if config.RedisAddr != "" {
		locks := lock.NewManager(lock.Config{Addr: config.RedisAddr, Password: config.RedisPassword, DB: config.RedisDB})
		defer locks.Close()
		l, err := locks.Acquire(ctx, lock.Key(config.VaultAddress), LOCK_TTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Another orchestrator holds the vault lock")
		}
		defer l.Release()
		instanceLock = l
	} else {
		log.Warn().Msg("REDIS_ADDR not set, running without the single-instance lock")
	}

	// --- 4. Chain client and vault manager (with safety switch) ---
	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:              config.RPCURL,
		ChainID:             config.ChainID,
		PrivateKeyHex:       config.ExecutorPrivateKey,
		GasPriceGwei:        config.GasPriceGwei,
		DefaultGasLimit:     config.DefaultGasLimit,
		GasAdjustment:       config.GasAdjustment,
		ConfirmationTimeout: config.ConfirmationTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("RPC connection error")
	}
	defer client.Close()

	var submitter chain.Submitter = client
	if config.Mode == config.ModeLive {
		log.Warn().Msg("Initializing orchestrator in LIVE mode. Real transactions will be broadcast.")
	} else {
		log.Warn().Msg("Initializing orchestrator in DRY-RUN mode. Submissions are simulated with eth_call.")
		submitter = simulations.NewDryRunSubmitter(client)
	}

	vm, err := vault.NewVaultClient(client, submitter, vault.Config{
		Vault:             config.VaultAddress,
		AIAgent:           config.AIAgentAddress,
		WhitelistRegistry: config.WhitelistRegistryAddress,
		FallbackSymbol:    config.AssetSymbol,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault manager")
	}

	// --- 5. Metrics and the orchestrator ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg, "vault_orchestrator")

	orchCfg := orchestrator.Config{
		VaultManager: vm,
		Headers:      client,
		Gas:          client,
		Rebalances:   stores.rebalances,
		Recorder:     recorder,
		Prices:       datafetcher.NewPriceFetcher(config.PriceAPI, config.PriceAPIKey),
		Metrics:      m,
		Thresholds:   config.Active,
		DryRun:       config.Mode != config.ModeLive,
	}
	if stores.persistent {
		orchCfg.PoolParams = datafetcher.NewYieldReportReader(YIELD_REPORT_MAX_AGE)
		orchCfg.NextCycle = state.IncrementCycleNumber
	} else {
		log.Warn().Msg("No database, pool yield reports are unavailable and deposits will wait in the queue")
	}

	orch, err := orchestrator.New(orchCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	// --- 6. Run web server, lock keepalive and the main loop together ---
	webServer := web.NewWebServer(web.Options{
		Port:       config.WebPort,
		Runs:       stores.runs,
		Rebalances: stores.rebalanceReader,
		Gatherer:   reg,
		Health:     stores.health,
		MaxRunAge:  3 * config.Active.LoopInterval,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webServer.Start(gctx)
	})
	if instanceLock != nil {
		g.Go(func() error {
			return instanceLock.KeepAlive(gctx)
		})
	}
	g.Go(func() error {
		log.Info().Str("interval", config.Active.LoopInterval.String()).Msg("Starting orchestrator main loop")
		return orch.RunLoop(gctx, config.Active.LoopInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Orchestrator stopped with error")
		return
	}
	log.Info().Msg("Orchestrator stopped")
}

// storeSet is either the Postgres backed stores or their in-process counterparts.
type storeSet struct {
	persistent      bool
	recorder        events.Recorder
	rebalances      rebalance.RecordStore
	runs            web.RunReader
	rebalanceReader web.RebalanceReader
	health          func(ctx context.Context) error
}

// openStores connects to Postgres and picks the stores for the configured mode.
func openStores() storeSet {
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	err := state.InitDB(dbCfg)
	if err == nil {
		err = state.EnsureSchema()
	}
	stores, err := selectStores(config.Mode, err)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	return stores
}

// selectStores maps the mode and the database outcome to a store set. Live mode requires
// Postgres because stranded rebalance units must survive restarts. A dry run never writes the
// persistent rebalance log: its legs only simulate withdrawals, so they stay in memory even when
// the database is reachable. Runs and yield reports still use the database when it is there.
func selectStores(mode string, dbErr error) (storeSet, error) {
	if dbErr != nil && mode == config.ModeLive {
		return storeSet{}, dbErr
	}

	var stores storeSet
	if dbErr == nil {
		stores = storeSet{
			persistent: true,
			recorder:   state.NewRunStore(),
			runs:       web.DatabaseRuns{},
			health: func(context.Context) error {
				return state.TestDBConnection()
			},
		}
	} else {
		log.Warn().Err(dbErr).Msg("Database unavailable, dry run keeps runs in memory")
		recorder := events.NewMemoryRecorder()
		stores = storeSet{recorder: recorder, runs: web.MemoryRuns{Recorder: recorder}}
	}

	if mode == config.ModeLive {
		rebalances := state.NewRebalanceStore()
		stores.rebalances = rebalances
		stores.rebalanceReader = rebalances
		return stores, nil
	}

	rebalances := rebalance.NewMemoryStore()
	stores.rebalances = rebalances
	stores.rebalanceReader = web.MemoryRebalances{Store: rebalances}
	return stores, nil
}
