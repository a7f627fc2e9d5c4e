package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/apy"
	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/harvest"
	"github.com/creeping-vampires/neura-vaults-backend/internal/ledger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/metrics"
	"github.com/creeping-vampires/neura-vaults-backend/internal/optimizer"
	"github.com/creeping-vampires/neura-vaults-backend/internal/queue"
	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidConfig = errors.New("orchestrator configuration is invalid")
	ErrCycleAborted  = errors.New("cycle aborted")
)

// recordTimeout bounds how long a finished run may take to persist after the cycle context ends.
const recordTimeout = 30 * time.Second

// DefaultAPYWindows are the trailing windows, in days, reported with every run.
var DefaultAPYWindows = []float64{1, 7}

// RunRecorder receives finished runs. It is write only; nothing is read back within a cycle.
type RunRecorder interface {
	SaveRun(ctx context.Context, run types.RunResult) (int64, error)
	SaveTransaction(ctx context.Context, runID string, tx types.TransactionRecord) error
}

// PoolParamSource supplies the latest yield report for each pool.
type PoolParamSource interface {
	LatestPoolParams(ctx context.Context, pools []common.Address) (map[common.Address]types.CurvePoolParams, error)
}

// PriceSource supplies USD spot prices, falling back to the given value.
type PriceSource interface {
	SpotPrice(ctx context.Context, symbol string, fallback float64) types.PriceData
}

// CycleCounter returns the next global cycle number.
type CycleCounter func(ctx context.Context) (uint64, error)

// Config holds the dependencies of an Orchestrator. VaultManager, Rebalances and Recorder are
// required; every other source is optional and its phase is skipped or falls back when absent.
type Config struct {
	VaultManager vault.VaultManager
	Headers      apy.HeaderSource
	Gas          harvest.GasOracle
	Rebalances   rebalance.RecordStore
	Recorder     RunRecorder
	PoolParams   PoolParamSource
	Prices       PriceSource
	Metrics      *metrics.Metrics
	NextCycle    CycleCounter
	Thresholds   config.Thresholds
	APYWindows   []float64
	DryRun       bool
}

// Orchestrator runs the vault cycle: snapshot, settle, optimize, rebalance, withdrawal queue,
// deposit queue, harvest and APY, then hands the run to the recorder.
type Orchestrator struct {
	logger zerolog.Logger

	vault       vault.VaultManager
	gas         harvest.GasOracle
	recorder    RunRecorder
	poolParams  PoolParamSource
	prices      PriceSource
	metrics     *metrics.Metrics
	nextCycle   CycleCounter
	thresholds  config.Thresholds
	windows     []float64
	ledger      *ledger.Ledger
	executor    *rebalance.Executor
	withdrawals *queue.WithdrawalProcessor
	deposits    *queue.DepositProcessor
	apy         *apy.Calculator

	// Runtime state
	cycleCount uint64
}

// New creates an Orchestrator with dependency injection.
func New(cfg Config) (*Orchestrator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	windows := cfg.APYWindows
	if len(windows) == 0 {
		windows = DefaultAPYWindows
	}
	th := cfg.Thresholds
	execCfg := rebalance.Config{MinGainBps: th.MinGainBps, MinRebalanceUnits: th.MinRebalanceUnits, DryRun: cfg.DryRun}

	o := &Orchestrator{
		logger:      logger.GetForComponent("orchestrator"),
		vault:       cfg.VaultManager,
		gas:         cfg.Gas,
		recorder:    cfg.Recorder,
		poolParams:  cfg.PoolParams,
		prices:      cfg.Prices,
		metrics:     cfg.Metrics,
		nextCycle:   cfg.NextCycle,
		thresholds:  th,
		windows:     windows,
		executor:    rebalance.NewExecutor(cfg.VaultManager, cfg.Rebalances, execCfg),
		withdrawals: queue.NewWithdrawalProcessor(cfg.VaultManager, th.MaxWithdrawalScan),
		deposits:    queue.NewDepositProcessor(cfg.VaultManager, th.BatchSize),
	}
	o.ledger = ledger.New(cfg.VaultManager, cfg.Headers)
	if cfg.Headers != nil {
		o.apy = apy.NewCalculator(cfg.VaultManager, cfg.Headers)
	}

	o.logger.Info().
		Str("vault", o.vault.VaultAddress().Hex()).
		Int("batchSize", th.BatchSize).
		Float64("minGainBps", th.MinGainBps).
		Bool("poolReports", o.poolParams != nil).
		Bool("apy", o.apy != nil).
		Msg("Orchestrator instance created")

	return o, nil
}

func validateConfig(cfg Config) error {
	if cfg.VaultManager == nil {
		return errors.New("vault manager cannot be nil")
	}
	if cfg.Rebalances == nil {
		return errors.New("rebalance record store cannot be nil")
	}
	if cfg.Recorder == nil {
		return errors.New("run recorder cannot be nil")
	}
	for _, w := range cfg.APYWindows {
		if w <= 0 {
			return fmt.Errorf("apy window %v must be positive", w)
		}
	}
	return nil
}

// RunLoop runs a cycle immediately and then once per interval until ctx ends.
func (o *Orchestrator) RunLoop(ctx context.Context, interval time.Duration) error {
	o.logger.Info().Dur("interval", interval).Msg("Starting orchestrator main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Orchestrator loop stopped due to context cancellation")
			return nil
		case <-ticker.C:
			o.RunCycle(ctx)
		}
	}
}

// RunCycle executes one cycle. Phases run strictly in order and the run is always recorded, even
// when an invariant violation aborts the cycle part way.
func (o *Orchestrator) RunCycle(ctx context.Context) types.RunResult {
	runID := uuid.New().String()
	cycleLogger := o.logger.With().Str("cycle_id", runID).Logger()
	run := types.NewRunResult(runID, o.vault.VaultAddress(), time.Now().UTC())
	run.CycleNumber = o.cycleNumber(ctx, cycleLogger)

	cycleLogger.Info().Uint64("cycleNumber", run.CycleNumber).Msg("--- Starting Cycle ---")

	asset := o.runPhases(ctx, cycleLogger, run)

	run.QueueAfter = o.queueCounts(ctx, cycleLogger)
	run.Finalize(time.Now().UTC())
	o.record(ctx, cycleLogger, run)
	o.metrics.ObserveRun(*run, asset)

	cycleLogger.Info().
		Str("status", string(run.Status)).
		Int("processed", run.ProcessedCount).
		Int("transactions", len(run.Transactions)).
		Int("errors", len(run.Errors)).
		Str("cycleDuration", run.FinishedAt.Sub(run.StartedAt).String()).
		Msg("--- Cycle completed ---")
	return *run
}

// runPhases fills run and returns the asset used for reporting.
func (o *Orchestrator) runPhases(ctx context.Context, log zerolog.Logger, run *types.RunResult) types.Asset {
	th := o.thresholds
	run.QueueBefore = o.queueCounts(ctx, log)

	// --- Step 1: Ledger snapshot ---
	log.Info().Msg("Step 1: Reading vault state...")
	snap, err := o.ledger.Snapshot(ctx)
	if err != nil {
		o.abort(log, run, types.PhaseSnapshot, err)
		return snap.Asset
	}
	if o.prices != nil {
		snap.Asset.PriceUSD = o.prices.SpotPrice(ctx, snap.Asset.Symbol, th.AssetPriceUSD).PriceUSD
	}
	asset := snap.Asset
	o.applySnapshot(run, snap)
	run.SetPhase(types.PhaseSnapshot, types.PhaseOK(0, snap.TotalAssets))
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 2: Settle stranded rebalances ---
	log.Info().Msg("Step 2: Settling failed rebalances...")
	settled := o.executor.SettleFailed(ctx, snap.IdleBalance)
	run.SetPhase(types.PhaseSettle, settled.Phase)
	run.Transactions = append(run.Transactions, settled.Transactions...)
	o.metrics.SetStranded(len(settled.Deferred))
	if len(settled.Transactions) > 0 {
		if snap, err = o.refresh(ctx, snap); err != nil {
			o.abort(log, run, types.PhaseSettle, err)
			return asset
		}
	}
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 3: Optimizer decision ---
	log.Info().Msg("Step 3: Computing allocation recommendation...")
	rec, valid := o.optimize(ctx, log, run, snap)
	run.Recommendation = &rec
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 4: Rebalance ---
	if valid {
		log.Info().Msg("Step 4: Executing rebalance...")
		out := o.executor.Execute(ctx, rec, asset)
		run.SetPhase(types.PhaseRebalance, out.Phase)
		run.Transactions = append(run.Transactions, out.Transactions...)
		if len(out.Transactions) > 0 {
			if snap, err = o.refresh(ctx, snap); err != nil {
				o.abort(log, run, types.PhaseRebalance, err)
				return asset
			}
		}
	} else {
		run.SetPhase(types.PhaseRebalance, types.PhaseSkip("recommendation rejected"))
	}
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 5: Withdrawal queue ---
	log.Info().Msg("Step 5: Processing withdrawal queue...")
	withdrawals := o.withdrawals.Process(ctx, snap)
	run.SetPhase(types.PhaseWithdrawal, withdrawals.Phase)
	run.Transactions = append(run.Transactions, withdrawals.Transactions...)
	if len(withdrawals.Transactions) > 0 {
		if snap, err = o.refresh(ctx, snap); err != nil {
			o.abort(log, run, types.PhaseWithdrawal, err)
			return asset
		}
	}
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 6: Deposit queue ---
	log.Info().Str("bestPool", rec.BestPool.Hex()).Msg("Step 6: Processing deposit queue...")
	deposits := o.deposits.Process(ctx, rec.BestPool, asset)
	run.SetPhase(types.PhaseDeposit, deposits.Phase)
	run.Transactions = append(run.Transactions, deposits.Transactions...)
	if len(deposits.Transactions) > 0 {
		if snap, err = o.refresh(ctx, snap); err != nil {
			o.abort(log, run, types.PhaseDeposit, err)
			return asset
		}
	}
	o.applySnapshot(run, snap)
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 7: Harvest ---
	log.Info().Msg("Step 7: Harvesting yield...")
	harvested := o.harvester(ctx).Harvest(ctx, *run.Yield, asset)
	run.SetPhase(types.PhaseHarvest, harvested.Phase)
	run.Transactions = append(run.Transactions, harvested.Transactions...)
	run.TotalWithdrawn = harvested.Withdrawn
	run.TotalReinvested = harvested.Reinvested
	if o.cancelled(ctx, log, run) {
		return asset
	}

	// --- Step 8: APR/APY ---
	log.Info().Msg("Step 8: Calculating APR/APY...")
	o.calculateAPY(ctx, log, run, snap)
	return asset
}

// optimize builds and validates the recommendation. The returned flag is false when the
// recommendation must not be executed.
func (o *Orchestrator) optimize(ctx context.Context, log zerolog.Logger, run *types.RunResult, snap types.LedgerSnapshot) (types.AllocationRecommendation, bool) {
	if o.poolParams == nil {
		rec := types.NoAction("no pool yield report source configured", common.Address{})
		run.SetPhase(types.PhaseOptimize, types.PhaseSkip(rec.Reason))
		return rec, true
	}

	addrs := make([]common.Address, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		addrs = append(addrs, p.Pool.Address)
	}
	params, err := o.poolParams.LatestPoolParams(ctx, addrs)
	if err != nil {
		log.Error().Err(err).Msg("optimize: pool yield reports unavailable")
		run.SetPhase(types.PhaseOptimize, types.PhaseFail(err))
		return types.NoAction("pool yield reports unavailable", common.Address{}), true
	}

	positions := snap.PositionMap()
	rec := optimizer.Recommend(params, positions, optimizer.Options{MinGainBps: o.thresholds.MinGainBps, Decimals: snap.Asset.Decimals})
	if err := rec.Validate(positions, o.thresholds.MinGainBps); err != nil {
		log.Error().Err(err).Msg("optimize: recommendation rejected")
		run.SetPhase(types.PhaseOptimize, types.PhaseFail(err))
		return rec, false
	}

	phase := types.PhaseOK(0, rec.Amount())
	phase.Reason = rec.Reason
	run.SetPhase(types.PhaseOptimize, phase)
	log.Info().
		Str("action", string(rec.Action)).
		Str("bestPool", rec.BestPool.Hex()).
		Str("reason", rec.Reason).
		Msg("optimize: recommendation accepted")
	return rec, true
}

// harvester is built per cycle so the gas gate prices gas at the current native spot price.
func (o *Orchestrator) harvester(ctx context.Context) *harvest.Harvester {
	th := o.thresholds
	native := th.NativePriceUSD
	if o.prices != nil {
		native = o.prices.SpotPrice(ctx, th.NativeSymbol, th.NativePriceUSD).PriceUSD
	}
	return harvest.NewHarvester(o.vault, o.gas, harvest.Config{
		YieldThresholdBps: th.YieldThresholdBps,
		MinClaimUSD:       th.MinClaimUSD,
		MaxGasUSD:         th.MaxGasUSD,
		GasEstimateLimit:  th.GasEstimateLimit,
		AssetPriceUSD:     th.AssetPriceUSD,
		NativePriceUSD:    native,
	})
}

// calculateAPY fills one window per configured length. A zero supply is an invariant violation
// and aborts the cycle; any other failure marks only that window unavailable.
func (o *Orchestrator) calculateAPY(ctx context.Context, log zerolog.Logger, run *types.RunResult, snap types.LedgerSnapshot) {
	if o.apy == nil {
		run.SetPhase(types.PhaseAPY, types.PhaseSkip("no block header source configured"))
		return
	}
	if snap.TotalSupply.IsNil() || !snap.TotalSupply.IsPositive() {
		run.SetPhase(types.PhaseAPY, types.PhaseSkip("vault has no shares outstanding"))
		return
	}

	var computed int
	var lastErr error
	for _, days := range o.windows {
		w, err := o.apy.Calculate(ctx, days)
		if err != nil {
			if errors.Is(err, apy.ErrZeroSupply) {
				o.abort(log, run, types.PhaseAPY, err)
				return
			}
			log.Warn().Err(err).Float64("windowDays", days).Msg("calculateAPY: window unavailable")
			w.Unavailable = err.Error()
			lastErr = err
		} else {
			computed++
		}
		run.APY = append(run.APY, w)
	}

	switch {
	case computed > 0:
		run.SetPhase(types.PhaseAPY, types.PhaseOK(0, sdkmath.ZeroInt()))
	case lastErr != nil:
		run.SetPhase(types.PhaseAPY, types.PhaseSkip(lastErr.Error()))
	default:
		run.SetPhase(types.PhaseAPY, types.PhaseSkip("no windows configured"))
	}
}

// refresh re-reads the ledger after a phase moved funds. Only an invariant violation is fatal;
// other read failures keep the previous snapshot.
func (o *Orchestrator) refresh(ctx context.Context, prev types.LedgerSnapshot) (types.LedgerSnapshot, error) {
	snap, err := o.ledger.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrNegativeAllocation) {
			return prev, err
		}
		o.logger.Warn().Err(err).Msg("refresh: snapshot failed, keeping previous state")
		return prev, nil
	}
	snap.Asset.PriceUSD = prev.Asset.PriceUSD
	return snap, nil
}

func (o *Orchestrator) applySnapshot(run *types.RunResult, snap types.LedgerSnapshot) {
	y := ledger.YieldSnapshot(snap)
	run.Yield = &y
	run.TotalYield = y.TotalYield
	run.PoolSnapshots = append([]types.PoolPosition{}, snap.Positions...)
}

// abort records a fatal phase failure. Later phases do not run.
func (o *Orchestrator) abort(log zerolog.Logger, run *types.RunResult, phase string, err error) {
	log.Error().Err(err).Str("phase", phase).Msg("Cycle aborted")
	run.SetPhase(phase, types.PhaseFail(err))
	run.AddError(errors.Join(ErrCycleAborted, fmt.Errorf("at %s", phase)))
	run.Status = types.RunFailed
	o.metrics.ObserveError(phase)
}

// cancelled is checked between phases, never between a submission and its confirmation. An
// interrupted run is recorded as failed.
func (o *Orchestrator) cancelled(ctx context.Context, log zerolog.Logger, run *types.RunResult) bool {
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("Cycle interrupted by context cancellation")
		run.AddError(err)
		run.Status = types.RunFailed
		return true
	}
	return false
}

func (o *Orchestrator) queueCounts(ctx context.Context, log zerolog.Logger) types.QueueCounts {
	var counts types.QueueCounts
	if ctx.Err() != nil {
		return counts
	}
	var err error
	if counts.Deposit, err = o.deposits.Length(ctx); err != nil {
		log.Warn().Err(err).Msg("queueCounts: deposit queue length unavailable")
	}
	if counts.Withdrawal, err = o.withdrawals.Length(ctx); err != nil {
		log.Warn().Err(err).Msg("queueCounts: withdrawal queue length unavailable")
	}
	return counts
}

// cycleNumber prefers the persisted counter and falls back to the in-process count.
func (o *Orchestrator) cycleNumber(ctx context.Context, log zerolog.Logger) uint64 {
	o.cycleCount++
	if o.nextCycle == nil {
		return o.cycleCount
	}
	n, err := o.nextCycle(ctx)
	if err != nil {
		log.Warn().Err(err).Uint64("fallback", o.cycleCount).Msg("cycleNumber: persistent counter unavailable")
		return o.cycleCount
	}
	o.cycleCount = n
	return n
}

// record hands the run and its transactions to the recorder. It outlives the cycle context so an
// interrupted cycle is still recorded.
func (o *Orchestrator) record(ctx context.Context, log zerolog.Logger, run *types.RunResult) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	id, err := o.recorder.SaveRun(rctx, *run)
	if err != nil {
		log.Error().Err(err).Msg("record: failed to save run")
		o.metrics.ObserveError("record")
	} else {
		run.ID = id
	}
	for _, tx := range run.Transactions {
		if err := o.recorder.SaveTransaction(rctx, run.RunID, tx); err != nil {
			log.Error().Err(err).Str("txHash", tx.TxHash).Msg("record: failed to save transaction")
			o.metrics.ObserveError("record")
		}
	}
}
