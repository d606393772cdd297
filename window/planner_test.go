package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/types"
)

func TestNextPlansAdjacentWindow(t *testing.T) {
	state := types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000}

	w, ok := Next(state, 1800, 500)
	require.True(t, ok)
	require.Equal(t, uint64(1001), w.FromBlock)
	require.Equal(t, uint64(1500), w.ToBlock)
	require.Equal(t, uint64(500), w.WindowSize)
	require.Equal(t, types.WindowNormal, w.Reason)
	require.Equal(t, uint64(1800), w.TargetHead)
	require.Equal(t, uint64(300), w.LagAfterWindow)
}

func TestNextStopsAtSafeHead(t *testing.T) {
	state := types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000}

	w, ok := Next(state, 1100, 500)
	require.True(t, ok)
	require.Equal(t, uint64(1001), w.FromBlock)
	require.Equal(t, uint64(1100-params.HeadBuffer), w.ToBlock, "window must not cross the reorg buffer")
}

func TestNextEmptyWhenCaughtUp(t *testing.T) {
	state := types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1795}

	_, ok := Next(state, 1800, 500)
	require.False(t, ok, "cursor at the safe head leaves nothing to fetch")

	_, ok = Next(state, 3, 500)
	require.False(t, ok, "tiny chains below the buffer have no safe head yet")
}

func TestNextReasons(t *testing.T) {
	tests := []struct {
		name   string
		state  types.ChainSyncState
		head   uint64
		want   types.WindowReason
	}{
		{"near head", types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000}, 1200, types.WindowNormal},
		{"moderately behind", types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000}, 1000 + 3*100 + 1, types.WindowCatchup},
		{"far behind", types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000}, 1000 + 10*100 + 1, types.WindowBackfill},
		{"recovering", types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000, ConsecutiveErrors: 2}, 1200, types.WindowRecovery},
		{"backfill beats recovery", types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000, ConsecutiveErrors: 2}, 1000 + 10*100 + 1, types.WindowBackfill},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := Next(tt.state, tt.head, 100)
			require.True(t, ok)
			require.Equal(t, tt.want, w.Reason)
		})
	}
}

func TestNextDefaultsToChainWindowSize(t *testing.T) {
	state := types.ChainSyncState{Chain: "ARB", LastSyncedBlock: 0}

	w, ok := Next(state, 100_000, 0)
	require.True(t, ok)
	require.Equal(t, params.WindowSize("ARB"), w.WindowSize)

	// Unknown tags fall back to the global default.
	state.Chain = "MOON"
	w, ok = Next(state, 100_000, 0)
	require.True(t, ok)
	require.Equal(t, uint64(params.DefaultWindow), w.WindowSize)
}

func TestValidateRejectsGapsAndOverlaps(t *testing.T) {
	state := types.ChainSyncState{Chain: "ETH", LastSyncedBlock: 1000}

	good := types.BlockWindow{Chain: "ETH", FromBlock: 1001, ToBlock: 1500}
	require.NoError(t, Validate(good, state))

	gap := types.BlockWindow{Chain: "ETH", FromBlock: 1005, ToBlock: 1500}
	err := Validate(gap, state)
	var gapErr *GapError
	require.ErrorAs(t, err, &gapErr)
	require.Equal(t, uint64(1001), gapErr.Expected)
	require.Equal(t, uint64(1005), gapErr.Got)

	overlap := types.BlockWindow{Chain: "ETH", FromBlock: 990, ToBlock: 1500}
	require.ErrorAs(t, Validate(overlap, state), &gapErr)

	zero := types.BlockWindow{Chain: "ETH", FromBlock: 0, ToBlock: 10}
	require.ErrorIs(t, Validate(zero, state), ErrInvalidBounds)

	inverted := types.BlockWindow{Chain: "ETH", FromBlock: 1001, ToBlock: 1000}
	require.ErrorIs(t, Validate(inverted, state), ErrInvalidBounds)
}

func TestOptimalSizeShrinksUnderPressure(t *testing.T) {
	require.Equal(t, uint64(1000), OptimalSize(1000, 0.01, time.Second))
	require.Equal(t, uint64(750), OptimalSize(1000, 0.06, time.Second), "mild error rate trims a quarter")
	require.Equal(t, uint64(750), OptimalSize(1000, 0.0, 6*time.Second), "mild latency trims a quarter")
	require.Equal(t, uint64(500), OptimalSize(1000, 0.2, time.Second), "heavy error rate halves")
	require.Equal(t, uint64(500), OptimalSize(1000, 0.0, 11*time.Second), "heavy latency halves")
	require.Equal(t, uint64(params.MinWindow), OptimalSize(12, 0.5, time.Minute), "never below the floor")
}
