/*

RunResult is what one orchestrator cycle hands to the RunRecorder. Downstream collaborators
read it as JSON, so every wei amount is carried as sdkmath.Int which serializes to a decimal
string.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
	RunPartial RunStatus = "partial"
)

// Phase names, in cycle order.
const (
	PhaseSnapshot   = "snapshot"
	PhaseSettle     = "settle"
	PhaseOptimize   = "optimize"
	PhaseRebalance  = "rebalance"
	PhaseWithdrawal = "withdrawal_queue"
	PhaseDeposit    = "deposit_queue"
	PhaseHarvest    = "harvest"
	PhaseAPY        = "apy"
)

// PhaseStatus mirrors the queue state machine terminals.
type PhaseStatus string

const (
	PhaseSuccess PhaseStatus = "success"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
)

type PhaseResult struct {
	Status         PhaseStatus `json:"status"`
	Reason         string      `json:"reason,omitempty"`
	ProcessedCount int         `json:"processed_count"`
	Amount         sdkmath.Int `json:"amount"`
	Error          string      `json:"error,omitempty"`
}

// PhaseOK, PhaseSkip and PhaseFail build phase results with a zeroed amount.
func PhaseOK(processed int, amount sdkmath.Int) PhaseResult {
	if amount.IsNil() {
		amount = sdkmath.ZeroInt()
	}
	return PhaseResult{Status: PhaseSuccess, ProcessedCount: processed, Amount: amount}
}

func PhaseSkip(reason string) PhaseResult {
	return PhaseResult{Status: PhaseSkipped, Reason: reason, Amount: sdkmath.ZeroInt()}
}

func PhaseFail(err error) PhaseResult {
	res := PhaseResult{Status: PhaseFailed, Amount: sdkmath.ZeroInt()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// TxStatus is the outcome of a submitted transaction.
type TxStatus string

const (
	TxSuccess  TxStatus = "success"
	TxReverted TxStatus = "reverted"
	TxUnknown  TxStatus = "unknown"
	TxFailed   TxStatus = "failed" // never broadcast
)

type TransactionRecord struct {
	Phase    string          `json:"phase"`
	Method   string          `json:"method"`
	Pool     *common.Address `json:"pool,omitempty"`
	TxHash   string          `json:"tx_hash"`
	Status   TxStatus        `json:"status"`
	GasUsed  uint64          `json:"gas_used"`
	GasPrice sdkmath.Int     `json:"gas_price"`
	Amount   sdkmath.Int     `json:"amount"`
	Error    string          `json:"error,omitempty"`
}

// QueueCounts is the length of both request queues at one point in the cycle.
type QueueCounts struct {
	Deposit    int `json:"deposit"`
	Withdrawal int `json:"withdrawal"`
}

// APYWindow is the annualized return over a trailing window.
type APYWindow struct {
	WindowDays  float64 `json:"window_days"`
	Return      float64 `json:"return"`
	APR         float64 `json:"apr"`
	APY         float64 `json:"apy"`
	FromBlock   uint64  `json:"from_block"`
	ToBlock     uint64  `json:"to_block"`
	Unavailable string  `json:"unavailable,omitempty"`
}

type RunResult struct {
	ID              int64                     `json:"id,omitempty"`
	RunID           string                    `json:"run_id"`
	CycleNumber     uint64                    `json:"cycle_number"`
	Vault           common.Address            `json:"vault"`
	StartedAt       time.Time                 `json:"started_at"`
	FinishedAt      time.Time                 `json:"finished_at"`
	Status          RunStatus                 `json:"status"`
	Phases          map[string]PhaseResult    `json:"phases"`
	QueueBefore     QueueCounts               `json:"queue_before"`
	QueueAfter      QueueCounts               `json:"queue_after"`
	ProcessedCount  int                       `json:"processed_count"`
	Yield           *YieldSnapshot            `json:"yield,omitempty"`
	TotalYield      sdkmath.Int               `json:"total_yield"`
	TotalWithdrawn  sdkmath.Int               `json:"total_withdrawn"`
	TotalReinvested sdkmath.Int               `json:"total_reinvested"`
	Recommendation  *AllocationRecommendation `json:"recommendation,omitempty"`
	PoolSnapshots   []PoolPosition            `json:"pool_snapshots"`
	Transactions    []TransactionRecord       `json:"transactions"`
	APY             []APYWindow               `json:"apy"`
	Errors          []string                  `json:"errors"`
}

// NewRunResult returns a run with all amounts zeroed so it can be serialized at any point.
func NewRunResult(runID string, vault common.Address, startedAt time.Time) *RunResult {
	return &RunResult{
		RunID:           runID,
		Vault:           vault,
		StartedAt:       startedAt,
		Status:          RunSuccess,
		Phases:          make(map[string]PhaseResult),
		TotalYield:      sdkmath.ZeroInt(),
		TotalWithdrawn:  sdkmath.ZeroInt(),
		TotalReinvested: sdkmath.ZeroInt(),
		PoolSnapshots:   []PoolPosition{},
		Transactions:    []TransactionRecord{},
		APY:             []APYWindow{},
		Errors:          []string{},
	}
}

// AddError appends an error string and ignores nil.
func (r *RunResult) AddError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// SetPhase records a phase and folds its processed count into the run total.
func (r *RunResult) SetPhase(name string, res PhaseResult) {
	r.Phases[name] = res
	r.ProcessedCount += res.ProcessedCount
	if res.Status == PhaseFailed && res.Error != "" {
		r.Errors = append(r.Errors, name+": "+res.Error)
	}
}

// Finalize derives the run status from the phases unless the run already failed.
// Any failed phase with at least one successful phase makes the run partial.
func (r *RunResult) Finalize(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	if r.Status == RunFailed {
		return
	}
	var ok, failed int
	for _, p := range r.Phases {
		switch p.Status {
		case PhaseSuccess:
			ok++
		case PhaseFailed:
			failed++
		}
	}
	switch {
	case failed > 0 && ok > 0:
		r.Status = RunPartial
	case failed > 0:
		r.Status = RunFailed
	case ok == 0 && len(r.Phases) > 0:
		r.Status = RunSkipped
	default:
		r.Status = RunSuccess
	}
}
