package apy

import (
	"context"
	"errors"
	"fmt"

	coretypes "github.com/ethereum/go-ethereum/core/types"
)

var ErrBlockNotFound = errors.New("no block found near timestamp")

const (
	// DefaultTolerance is how far a block timestamp may sit from the target and still be accepted outright.
	DefaultTolerance uint64 = 1800
	// maxFallbackDrift bounds the closest-block fallback used on young chains.
	maxFallbackDrift uint64 = 86400
)

// HeaderSource reads block headers.
type HeaderSource interface {
	LatestHeader(ctx context.Context) (*coretypes.Header, error)
	HeaderByNumber(ctx context.Context, number uint64) (*coretypes.Header, error)
}

// FindBlockByTimestamp binary searches [1, latest] for a block whose timestamp is within
// tolerance of target. When none is, the closest block seen is returned if it lies within a day
// of the target.
func FindBlockByTimestamp(ctx context.Context, headers HeaderSource, target, tolerance uint64) (uint64, error) {
	latest, err := headers.LatestHeader(ctx)
	if err != nil {
		return 0, errors.Join(ErrBlockNotFound, fmt.Errorf("latest header: %w", err))
	}
	return searchBlocks(ctx, headers, 1, latest.Number.Int64(), target, tolerance)
}

func searchBlocks(ctx context.Context, headers HeaderSource, low, high int64, target, tolerance uint64) (uint64, error) {
	var (
		best     int64 = -1
		bestDiff uint64
	)
	for low <= high {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mid := low + (high-low)/2
		h, err := headers.HeaderByNumber(ctx, uint64(mid))
		if err != nil {
			return 0, errors.Join(ErrBlockNotFound, fmt.Errorf("header %d: %w", mid, err))
		}

		diff := absDiff(h.Time, target)
		if best < 0 || diff < bestDiff {
			best, bestDiff = mid, diff
		}
		if diff <= tolerance {
			apyLogger.Debug().Int64("block", mid).Uint64("timestamp", h.Time).Uint64("diff", diff).Msg("FindBlockByTimestamp: found block")
			return uint64(mid), nil
		}
		if h.Time < target {
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	if best > 0 && bestDiff <= maxFallbackDrift {
		apyLogger.Info().Int64("block", best).Uint64("diff", bestDiff).Msg("FindBlockByTimestamp: using closest block outside tolerance")
		return uint64(best), nil
	}
	return 0, errors.Join(ErrBlockNotFound, fmt.Errorf("target %d, closest block %d is %ds away", target, best, bestDiff))
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
