/*

AllocationRecommendation is the optimizer's output and the only shape a rebalance can be
requested in. Recommendations may come from any producer, so they are validated once at the
orchestrator boundary before execution.

*/

package types

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidRecommendation = errors.New("allocation recommendation is invalid")

// RecommendationAction tags the recommendation variant.
type RecommendationAction string

const (
	ActionNone       RecommendationAction = "none"
	ActionReallocate RecommendationAction = "reallocate"
)

// Reallocation moves Amount from one pool to another. Only present on ActionReallocate.
type Reallocation struct {
	From           common.Address `json:"from"`
	FromProtocol   string         `json:"from_protocol"`
	To             common.Address `json:"to"`
	ToProtocol     string         `json:"to_protocol"`
	Amount         sdkmath.Int    `json:"amount"`
	GainBps        float64        `json:"expected_gain_bps"`
	FromAPY        float64        `json:"from_apy"`
	ToAPY          float64        `json:"to_apy"`
	ProjectedToAPY float64        `json:"projected_to_apy"`
}

type AllocationRecommendation struct {
	Action   RecommendationAction `json:"action"`
	Reason   string               `json:"reason"`
	BestPool common.Address       `json:"best_pool"`
	Move     *Reallocation        `json:"move,omitempty"`
}

// NoAction builds the "none" variant.
func NoAction(reason string, bestPool common.Address) AllocationRecommendation {
	return AllocationRecommendation{Action: ActionNone, Reason: reason, BestPool: bestPool}
}

// IsReallocate reports whether the recommendation carries a move.
func (r AllocationRecommendation) IsReallocate() bool {
	return r.Action == ActionReallocate && r.Move != nil
}

// Amount is the move amount, or zero for the none variant.
func (r AllocationRecommendation) Amount() sdkmath.Int {
	if !r.IsReallocate() || r.Move.Amount.IsNil() {
		return sdkmath.ZeroInt()
	}
	return r.Move.Amount
}

// Validate checks the recommendation against the current positions.
// A reallocation must move a positive amount no larger than the source position, between two
// distinct pools, for a gain strictly above minGainBps.
func (r AllocationRecommendation) Validate(positions map[common.Address]sdkmath.Int, minGainBps float64) error {
	switch r.Action {
	case ActionNone:
		if r.Move != nil {
			return errors.Join(ErrInvalidRecommendation, errors.New("action none must not carry a move"))
		}
		return nil
	case ActionReallocate:
	default:
		return errors.Join(ErrInvalidRecommendation, fmt.Errorf("unknown action %q", r.Action))
	}

	m := r.Move
	if m == nil {
		return errors.Join(ErrInvalidRecommendation, errors.New("reallocate without a move"))
	}
	if m.From == (common.Address{}) || m.To == (common.Address{}) {
		return errors.Join(ErrInvalidRecommendation, errors.New("move has a zero pool address"))
	}
	if m.From == m.To {
		return errors.Join(ErrInvalidRecommendation, errors.New("move source and destination are the same pool"))
	}
	if m.Amount.IsNil() || !m.Amount.IsPositive() {
		return errors.Join(ErrInvalidRecommendation, errors.New("move amount must be positive"))
	}
	held, ok := positions[m.From]
	if !ok || held.IsNil() || m.Amount.GT(held) {
		return errors.Join(ErrInvalidRecommendation, fmt.Errorf("move amount %s exceeds position in %s", m.Amount, m.From.Hex()))
	}
	if m.GainBps <= minGainBps {
		return errors.Join(ErrInvalidRecommendation, fmt.Errorf("expected gain %.2f bps is not above %.2f bps", m.GainBps, minGainBps))
	}
	return nil
}
