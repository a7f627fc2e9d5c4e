package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// RebalanceLeg is one half of a rebalance unit.
type RebalanceLeg string

const (
	LegWithdrawal RebalanceLeg = "withdrawal"
	LegDeposit    RebalanceLeg = "deposit"
)

// RebalanceStatus tracks a leg through submission. Unknown means the confirmation timed out and
// the transaction may still land.
type RebalanceStatus string

const (
	RebalancePending   RebalanceStatus = "pending"
	RebalanceCompleted RebalanceStatus = "completed"
	RebalanceFailed    RebalanceStatus = "failed"
	RebalanceUnknown   RebalanceStatus = "unknown"
)

// RebalanceRecord is a durable record of one leg. Two records sharing a RebalanceID form a unit;
// a completed withdrawal paired with a failed deposit is stranded funds.
type RebalanceRecord struct {
	ID              int64           `json:"id"`
	RebalanceID     string          `json:"rebalance_id"`
	Leg             RebalanceLeg    `json:"leg"`
	Status          RebalanceStatus `json:"status"`
	Pool            common.Address  `json:"pool"`
	Protocol        string          `json:"protocol"`
	Amount          sdkmath.Int     `json:"amount"`
	RequestedAmount sdkmath.Int     `json:"requested_amount"`
	TxHash          string          `json:"tx_hash,omitempty"`
	BlockNumber     uint64          `json:"block_number,omitempty"`
	GasUsed         uint64          `json:"gas_used,omitempty"`
	GasPrice        sdkmath.Int     `json:"gas_price"`
	Error           string          `json:"error,omitempty"`
	DryRun          bool            `json:"dry_run,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StrandedUnit pairs the completed withdrawal with its latest failed deposit.
type StrandedUnit struct {
	RebalanceID   string          `json:"rebalance_id"`
	Withdrawal    RebalanceRecord `json:"withdrawal"`
	FailedDeposit RebalanceRecord `json:"failed_deposit"`
}
