// Package window computes the block ranges the ingestion loop is
// allowed to fetch next. Planning is pure: callers feed it the chain
// state and an observed head, nothing here talks to the network.
package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/types"
)

// Multiples of the window size that flip the plan into catch-up and
// backfill pacing.
const (
	catchupFactor  = 3
	backfillFactor = 10
)

// Size reduction triggers.
const (
	softErrorRate = 0.05
	hardErrorRate = 0.10

	softLatency = 5 * time.Second
	hardLatency = 10 * time.Second
)

// ErrInvalidBounds rejects windows that are structurally broken
// before any cursor comparison.
var ErrInvalidBounds = errors.New("invalid window bounds")

// GapError reports a window that does not sit flush against the
// cursor. Committing it would either skip or re-ingest blocks, so
// callers treat it as fatal for the chain.
type GapError struct {
	Chain    string
	Expected uint64
	Got      uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("window gap or overlap on %s: next block is %d, window starts at %d", e.Chain, e.Expected, e.Got)
}

// Next plans the next window for a chain. maxWindow of zero picks the
// per-chain default. The second return is false when the chain is
// caught up to the safe head and there is nothing to fetch.
func Next(state types.ChainSyncState, head uint64, maxWindow uint64) (types.BlockWindow, bool) {
	if maxWindow == 0 {
		maxWindow = params.WindowSize(state.Chain)
	}
	if maxWindow < params.MinWindow {
		maxWindow = params.MinWindow
	}

	var safeHead uint64
	if head > params.HeadBuffer {
		safeHead = head - params.HeadBuffer
	}
	if state.LastSyncedBlock >= safeHead {
		return types.BlockWindow{}, false
	}

	from := state.LastSyncedBlock + 1
	to := from + maxWindow - 1
	if to > safeHead {
		to = safeHead
	}

	lag := head - state.LastSyncedBlock
	reason := types.WindowNormal
	switch {
	case lag > backfillFactor*maxWindow:
		reason = types.WindowBackfill
	case lag > catchupFactor*maxWindow:
		reason = types.WindowCatchup
	case state.ConsecutiveErrors > 0:
		reason = types.WindowRecovery
	}

	return types.BlockWindow{
		Chain:          state.Chain,
		FromBlock:      from,
		ToBlock:        to,
		WindowSize:     to - from + 1,
		Reason:         reason,
		TargetHead:     head,
		LagAfterWindow: head - to,
	}, true
}

// Validate checks a window against the cursor right before it is
// fetched. A *GapError means the plan went stale or corrupt and the
// chain must stop rather than commit it.
func Validate(w types.BlockWindow, state types.ChainSyncState) error {
	if w.FromBlock == 0 {
		return fmt.Errorf("%w: from block must be positive", ErrInvalidBounds)
	}
	if w.ToBlock < w.FromBlock {
		return fmt.Errorf("%w: to %d before from %d", ErrInvalidBounds, w.ToBlock, w.FromBlock)
	}
	if expected := state.LastSyncedBlock + 1; w.FromBlock != expected {
		return &GapError{Chain: w.Chain, Expected: expected, Got: w.FromBlock}
	}
	return nil
}

// OptimalSize shrinks the base window when the chain is erroring or
// slow, never below the global minimum. Error rate is a 0..1
// fraction, latency the smoothed per-window fetch time.
func OptimalSize(base uint64, errorRate float64, latency time.Duration) uint64 {
	size := base
	switch {
	case errorRate > hardErrorRate || latency > hardLatency:
		size = base / 2
	case errorRate > softErrorRate || latency > softLatency:
		size = base * 3 / 4
	}
	if size < params.MinWindow {
		size = params.MinWindow
	}
	return size
}
