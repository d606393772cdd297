package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arguslabs/argus/adapter"
	"github.com/arguslabs/argus/internal/testlog"
	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/rpcpool"
	"github.com/arguslabs/argus/store"
	"github.com/arguslabs/argus/syncstate"
	"github.com/arguslabs/argus/types"
)

type memdb struct {
	mu   sync.Mutex
	rows map[string]types.ChainSyncState
}

func (m *memdb) LoadSyncStates(ctx context.Context) ([]types.ChainSyncState, error) {
	return nil, nil
}

func (m *memdb) SaveSyncState(ctx context.Context, s *types.ChainSyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]types.ChainSyncState)
	}
	m.rows[s.Chain] = *s
	return nil
}

type fakeChain struct {
	mu        sync.Mutex
	head      uint64
	headErr   error
	fetchErr  error
	perWindow int
	fallbacks int

	headCalls int
	windows   []types.BlockWindow
	filters   []adapter.TopicFilter
}

func (f *fakeChain) FetchHead(ctx context.Context, network string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) FetchWindow(ctx context.Context, w types.BlockWindow, filter adapter.TopicFilter, source types.IngestionSource) (*adapter.WindowResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.windows = append(f.windows, w)
	f.filters = append(f.filters, filter)
	events := make([]types.UnifiedEvent, f.perWindow)
	for i := range events {
		events[i] = types.UnifiedEvent{
			ID:          fmt.Sprintf("%s-%d-%d", w.Chain, w.FromBlock, i),
			Network:     w.Chain,
			BlockNumber: w.FromBlock,
			EventType:   types.EventTransfer,
			Source:      source,
		}
	}
	return &adapter.WindowResult{
		Events:             events,
		TimestampFallbacks: f.fallbacks,
		Provider:           "fake",
		Latency:            5 * time.Millisecond,
	}, nil
}

func (f *fakeChain) windowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

type memLedger struct {
	mu     sync.Mutex
	events []types.UnifiedEvent
	err    error
}

func (m *memLedger) InsertEvents(ctx context.Context, events []types.UnifiedEvent) (store.InsertReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return store.InsertReport{}, m.err
	}
	m.events = append(m.events, events...)
	return store.InsertReport{Inserted: len(events)}, nil
}

func newTestService(t *testing.T, chain *fakeChain, startBlock, override uint64) (*Service, *syncstate.Manager, *memLedger) {
	t.Helper()
	sm := syncstate.NewManager(&memdb{}, 0, testlog.Logger(t))
	require.NoError(t, sm.Load(context.Background(), []syncstate.Seed{
		{Chain: "ETH", ChainID: 1, StartBlock: startBlock},
	}))
	ledger := &memLedger{}
	cfg := Config{
		Networks:        []string{"ETH"},
		WindowOverrides: map[string]uint64{"ETH": override},
		Sleep:           8 * time.Second,
	}
	svc := NewService(chain, sm, ledger, nil, nil, cfg, testlog.Logger(t))
	return svc, sm, ledger
}

func TestWindowFlowAdvancesCursor(t *testing.T) {
	chain := &fakeChain{head: 1800, perWindow: 3}
	svc, sm, ledger := newTestService(t, chain, 1001, 500)
	ctx := context.Background()

	delay := svc.cycle(ctx, "ETH", newChainBackoff(), svc.log)

	require.Len(t, chain.windows, 1)
	w := chain.windows[0]
	require.Equal(t, uint64(1001), w.FromBlock)
	require.Equal(t, uint64(1500), w.ToBlock)
	require.Equal(t, types.WindowNormal, w.Reason)

	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, uint64(1500), st.LastSyncedBlock)
	require.Equal(t, types.StatusOK, st.Status)
	require.Zero(t, st.ConsecutiveErrors)
	require.Len(t, ledger.events, 3)
	require.Equal(t, 2*time.Second, delay, "still behind, quarter interval")
}

func TestCaughtUpSleepsFullInterval(t *testing.T) {
	chain := &fakeChain{head: 1005} // safeHead == 1000 == cursor
	svc, _, _ := newTestService(t, chain, 1001, 500)

	delay := svc.cycle(context.Background(), "ETH", newChainBackoff(), svc.log)
	require.Zero(t, chain.windowCount())
	require.Equal(t, 8*time.Second, delay)
}

func TestBackfillBurstsWindows(t *testing.T) {
	chain := &fakeChain{head: 100_000}
	svc, sm, _ := newTestService(t, chain, 1, 500)
	ctx := context.Background()

	svc.cycle(ctx, "ETH", newChainBackoff(), svc.log)

	require.Equal(t, 1, chain.headCalls, "head resolved once per cycle")
	require.Len(t, chain.windows, burstBackfill)
	for i, w := range chain.windows {
		require.Equal(t, uint64(1+500*i), w.FromBlock)
		require.Equal(t, uint64(500*(i+1)), w.ToBlock)
		require.Equal(t, types.WindowBackfill, w.Reason)
	}
	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, uint64(500*burstBackfill), st.LastSyncedBlock)
}

func TestRateLimitYieldsWithoutChainError(t *testing.T) {
	chain := &fakeChain{head: 5000, fetchErr: &rpcpool.RateLimitedError{Network: "ETH", RetryAfter: 30 * time.Second}}
	svc, sm, _ := newTestService(t, chain, 1001, 500)

	delay := svc.cycle(context.Background(), "ETH", newChainBackoff(), svc.log)

	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Zero(t, st.ConsecutiveErrors, "throttling is not a chain error")
	require.Zero(t, st.ErrorCount)
	require.Equal(t, uint64(1000), st.LastSyncedBlock, "cursor untouched")
	require.GreaterOrEqual(t, delay, 30*time.Second, "provider RetryAfter dominates the backoff")
}

func TestConsecutiveFailuresPauseChain(t *testing.T) {
	chain := &fakeChain{head: 5000, fetchErr: errors.New("connection reset")}
	svc, sm, _ := newTestService(t, chain, 1001, 500)
	ctx := context.Background()
	bo := newChainBackoff()

	for i := 0; i < 5; i++ {
		svc.cycle(ctx, "ETH", bo, svc.log)
	}

	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, types.StatusPaused, st.Status)
	require.Equal(t, 5, st.ConsecutiveErrors)
	require.Equal(t, uint64(1000), st.LastSyncedBlock)

	// Paused chains hand out no more work.
	before := chain.headCalls
	svc.cycle(ctx, "ETH", bo, svc.log)
	require.Equal(t, before, chain.headCalls)
}

func TestPersistenceFailureDoesNotAdvance(t *testing.T) {
	chain := &fakeChain{head: 5000, perWindow: 2}
	svc, sm, ledger := newTestService(t, chain, 1001, 500)
	ledger.err = errors.New("write concern failed")

	svc.cycle(context.Background(), "ETH", newChainBackoff(), svc.log)

	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, uint64(1000), st.LastSyncedBlock)
	require.Equal(t, 1, st.ConsecutiveErrors)
}

func TestGapParksChainUntilReset(t *testing.T) {
	chain := &fakeChain{head: 5000}
	svc, sm, _ := newTestService(t, chain, 1001, 500)
	ctx := context.Background()
	bo := newChainBackoff()

	svc.plan = func(state types.ChainSyncState, head, maxWindow uint64) (types.BlockWindow, bool) {
		return types.BlockWindow{Chain: "ETH", FromBlock: state.LastSyncedBlock + 10, ToBlock: state.LastSyncedBlock + 100, Reason: types.WindowNormal}, true
	}
	svc.cycle(ctx, "ETH", bo, svc.log)

	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, types.StatusError, st.Status)
	require.NotEmpty(t, st.PauseReason)
	require.Zero(t, chain.windowCount(), "gap windows are never fetched")

	// Parked: the next cycle does not even resolve the head.
	before := chain.headCalls
	svc.cycle(ctx, "ETH", bo, svc.log)
	require.Equal(t, before, chain.headCalls)

	// Operator reset restores consumption. Status may still grade as
	// lagging, but the fatal park is gone.
	require.NoError(t, svc.ResetChain(ctx, "ETH", 2001))
	st, err = sm.Get("ETH")
	require.NoError(t, err)
	require.Empty(t, st.PauseReason)
	require.True(t, st.Consumable())
	require.Equal(t, uint64(2000), st.LastSyncedBlock)
}

func TestStageTogglesApplyAtReentry(t *testing.T) {
	chain := &fakeChain{head: 5000}
	svc, _, _ := newTestService(t, chain, 1001, 500)
	ctx := context.Background()
	bo := newChainBackoff()

	svc.cycle(ctx, "ETH", bo, svc.log)
	require.Equal(t, adapter.TopicFilter{Pools: true, Swaps: true, Liquidity: true}, chain.filters[0], "all stages on by default")

	require.NoError(t, svc.SetStage("swaps", false))
	require.NoError(t, svc.SetStage("POOLS", false))
	require.Error(t, svc.SetStage("bogus", true))

	svc.cycle(ctx, "ETH", bo, svc.log)
	require.Equal(t, adapter.TopicFilter{Liquidity: true}, chain.filters[len(chain.filters)-1])
	require.Equal(t, []string{"liquidity"}, svc.StageNames())
}

func TestModeAndBoostLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeChain{}, 1, 500)

	require.Error(t, svc.SetMode("TURBO"))
	require.Error(t, svc.SetMode(ModeBoost), "boost only enters through Boost")
	require.NoError(t, svc.SetMode(ModeFull))
	require.Equal(t, ModeFull, svc.Mode())

	require.Error(t, svc.Boost(30*time.Second))
	require.Error(t, svc.Boost(2*time.Hour))
	require.NoError(t, svc.Boost(5*time.Minute))
	require.Equal(t, ModeBoost, svc.Mode())
	require.Greater(t, svc.Status().BoostRemaining, 4*time.Minute)

	// Expiry reverts to the pre-boost mode.
	svc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	require.Equal(t, ModeFull, svc.Mode())
	require.Zero(t, svc.Status().BoostRemaining)
}

func TestModeScalesSleepAndBurst(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeChain{}, 1, 500)

	require.Equal(t, 8*time.Second, svc.sleepFor(ModeStandard))
	require.Equal(t, 4*time.Second, svc.sleepFor(ModeFull))
	require.Equal(t, 32*time.Second, svc.sleepFor(ModeLimited))

	require.Equal(t, 1, svc.burstFor(types.WindowNormal, ModeStandard))
	require.Equal(t, burstCatchup, svc.burstFor(types.WindowCatchup, ModeStandard))
	require.Equal(t, 2*burstCatchup, svc.burstFor(types.WindowCatchup, ModeFull))
	require.Equal(t, DefaultMaxBurst, svc.burstFor(types.WindowBackfill, ModeBoost), "config cap holds")
}

func TestApplyOverridesAtReentry(t *testing.T) {
	chain := &fakeChain{head: 1800, perWindow: 1}
	svc, _, _ := newTestService(t, chain, 1001, 500)
	ctx := context.Background()

	svc.ApplyOverrides(map[string]uint64{"ETH": 250}, 20*time.Second)

	svc.cycle(ctx, "ETH", newChainBackoff(), svc.log)
	require.Len(t, chain.windows, 1)
	require.Equal(t, uint64(1001), chain.windows[0].FromBlock)
	require.Equal(t, uint64(1250), chain.windows[0].ToBlock)

	require.Equal(t, 20*time.Second, svc.sleepFor(ModeStandard))

	// zero entries clear: window falls back to the network default,
	// sleep to the configured interval
	svc.ApplyOverrides(map[string]uint64{"ETH": 0}, 0)
	require.Equal(t, params.WindowSize("ETH"), svc.windowSizeFor(types.ChainSyncState{Chain: "ETH"}))
	require.Equal(t, 8*time.Second, svc.sleepFor(ModeStandard))
}

func TestLimitedModeIdlesNonCoreChains(t *testing.T) {
	chain := &fakeChain{head: 5000}
	sm := syncstate.NewManager(&memdb{}, 0, testlog.Logger(t))
	require.NoError(t, sm.Load(context.Background(), []syncstate.Seed{{Chain: "POLY", ChainID: 137, StartBlock: 1}}))
	cfg := Config{Networks: []string{"POLY"}, Sleep: 8 * time.Second}
	svc := NewService(chain, sm, &memLedger{}, nil, nil, cfg, testlog.Logger(t))

	require.NoError(t, svc.SetMode(ModeLimited))
	delay := svc.cycle(context.Background(), "POLY", newChainBackoff(), svc.log)

	require.Zero(t, chain.headCalls, "non-core chain sits out LIMITED mode")
	require.Equal(t, 32*time.Second, delay)
}

func TestPauseAllBlocksConsumption(t *testing.T) {
	chain := &fakeChain{head: 5000}
	svc, sm, _ := newTestService(t, chain, 1001, 500)
	ctx := context.Background()

	require.NoError(t, svc.PauseAll(ctx, "maintenance"))
	svc.cycle(ctx, "ETH", newChainBackoff(), svc.log)
	require.Zero(t, chain.headCalls)

	st, err := sm.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, types.StatusPaused, st.Status)
	require.Equal(t, "maintenance", st.PauseReason)

	require.NoError(t, svc.ResumeAll(ctx))
	svc.cycle(ctx, "ETH", newChainBackoff(), svc.log)
	require.NotZero(t, chain.windowCount())
}

func TestCheckpointsReflectState(t *testing.T) {
	chain := &fakeChain{head: 1800, perWindow: 4}
	svc, _, _ := newTestService(t, chain, 1001, 500)

	svc.cycle(context.Background(), "ETH", newChainBackoff(), svc.log)

	cps := svc.Checkpoints()
	require.Len(t, cps, 1)
	require.Equal(t, "ETH", cps[0].Chain)
	require.Equal(t, uint64(1500), cps[0].LastSyncedBlock)
	require.Equal(t, uint64(1800), cps[0].LastHeadBlock)
	require.Equal(t, uint64(300), cps[0].Lag)
	require.Equal(t, uint64(4), cps[0].TotalEvents)
}

func TestStartStopClean(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	chain := &fakeChain{head: 5} // safeHead 0: every chain instantly caught up
	sm := syncstate.NewManager(&memdb{}, 0, testlog.Logger(t))
	cfg := Config{Networks: []string{"ETH", "ARB"}, Sleep: 5 * time.Millisecond}
	svc := NewService(chain, sm, &memLedger{}, nil, nil, cfg, testlog.Logger(t))

	require.NoError(t, svc.Start(context.Background()))
	require.Error(t, svc.Start(context.Background()), "double start rejected")

	time.Sleep(25 * time.Millisecond)
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop(), "stop is idempotent")
}
