package syncstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/testlog"
	"github.com/arguslabs/argus/types"
)

// memdb is an in-memory Persistence recording every write.
type memdb struct {
	mu     sync.Mutex
	rows   map[string]types.ChainSyncState
	saves  int
	failed bool
}

func newMemdb() *memdb {
	return &memdb{rows: make(map[string]types.ChainSyncState)}
}

func (db *memdb) LoadSyncStates(ctx context.Context) ([]types.ChainSyncState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]types.ChainSyncState, 0, len(db.rows))
	for _, s := range db.rows {
		out = append(out, s)
	}
	return out, nil
}

func (db *memdb) SaveSyncState(ctx context.Context, s *types.ChainSyncState) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failed {
		return errors.New("store down")
	}
	db.rows[s.Chain] = s.Copy()
	db.saves++
	return nil
}

func newTestManager(t *testing.T, db *memdb) *Manager {
	t.Helper()
	m := NewManager(db, DefaultAlpha, testlog.Logger(t))
	err := m.Load(context.Background(), []Seed{
		{Chain: "ETH", ChainID: 1, StartBlock: 1001},
		{Chain: "ARB", ChainID: 42161, StartBlock: 1},
	})
	require.NoError(t, err)
	return m
}

func TestLoadSeedsMissingChains(t *testing.T) {
	db := newMemdb()
	db.rows["ETH"] = types.ChainSyncState{Chain: "ETH", ChainID: 1, LastSyncedBlock: 5000, Status: types.StatusOK}

	m := newTestManager(t, db)

	eth, err := m.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), eth.LastSyncedBlock, "persisted row must win over the seed")

	arb, err := m.Get("ARB")
	require.NoError(t, err)
	require.Equal(t, uint64(0), arb.LastSyncedBlock, "fresh chain starts one before its start block")
	require.Equal(t, types.StatusOK, arb.Status)

	_, err = m.Get("POLY")
	require.ErrorIs(t, err, ErrUnknownChain)
}

func TestOnSuccessAdvancesCursor(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()

	require.NoError(t, m.UpdateHead(ctx, "ETH", 1100))
	win := types.BlockWindow{Chain: "ETH", FromBlock: 1001, ToBlock: 1050, TargetHead: 1100}
	require.NoError(t, m.OnSuccess(ctx, "ETH", win, 250, 800*time.Millisecond))

	s, err := m.Get("ETH")
	require.NoError(t, err)
	require.Equal(t, uint64(1050), s.LastSyncedBlock)
	require.Equal(t, uint64(250), s.TotalEventsIngested)
	require.InDelta(t, 5.0, s.AvgEventsPerBlock, 1e-9, "first sample seeds the average")
	require.InDelta(t, 800.0, s.AvgLatencyMs, 1e-9)
	require.Equal(t, types.StatusOK, s.Status)

	// Second sample smooths with alpha.
	win2 := types.BlockWindow{Chain: "ETH", FromBlock: 1051, ToBlock: 1100, TargetHead: 1100}
	require.NoError(t, m.OnSuccess(ctx, "ETH", win2, 500, 400*time.Millisecond))
	s, _ = m.Get("ETH")
	require.InDelta(t, 0.2*10.0+0.8*5.0, s.AvgEventsPerBlock, 1e-9)
	require.InDelta(t, 0.2*400.0+0.8*800.0, s.AvgLatencyMs, 1e-9)
}

func TestHeadJumpDegradesThenRecovers(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()

	require.NoError(t, m.UpdateHead(ctx, "ETH", 1100))
	s, _ := m.Get("ETH")
	require.Equal(t, types.StatusOK, s.Status)

	// Head jumps far ahead of the cursor (lag 200 > 100).
	require.NoError(t, m.UpdateHead(ctx, "ETH", 1200))
	s, _ = m.Get("ETH")
	require.Equal(t, types.StatusDegraded, s.Status)

	// Further still (lag > 500).
	require.NoError(t, m.UpdateHead(ctx, "ETH", 2000))
	s, _ = m.Get("ETH")
	require.Equal(t, types.StatusError, s.Status)
	require.True(t, s.Consumable(), "lag-induced ERROR must not block ingestion")

	// Catching up restores OK.
	win := types.BlockWindow{Chain: "ETH", FromBlock: 1001, ToBlock: 1990, TargetHead: 2000}
	require.NoError(t, m.OnSuccess(ctx, "ETH", win, 10, time.Second))
	s, _ = m.Get("ETH")
	require.Equal(t, types.StatusOK, s.Status)
}

func TestErrorStreakPausesUntilResume(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()
	cause := errors.New("connection refused")

	for i := 0; i < 4; i++ {
		paused, err := m.OnError(ctx, "ETH", cause)
		require.NoError(t, err)
		require.False(t, paused, "streak of %d must not pause", i+1)
	}
	paused, err := m.OnError(ctx, "ETH", cause)
	require.NoError(t, err)
	require.True(t, paused, "fifth consecutive error pauses the chain")

	s, _ := m.Get("ETH")
	require.Equal(t, types.StatusPaused, s.Status)
	require.NotEmpty(t, s.PauseReason)
	require.False(t, s.Consumable())

	// Head updates do not unpause.
	require.NoError(t, m.UpdateHead(ctx, "ETH", 9000))
	s, _ = m.Get("ETH")
	require.Equal(t, types.StatusPaused, s.Status)

	require.NoError(t, m.Resume(ctx, "ETH"))
	s, _ = m.Get("ETH")
	require.Equal(t, 0, s.ConsecutiveErrors)
	require.Empty(t, s.PauseReason)
	require.Equal(t, types.StatusError, s.Status, "resume recomputes from lag, and lag is huge")
	require.True(t, s.Consumable())
}

func TestErrorCountDegradesHealthyChain(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()

	// Alternate errors with successes so the streak never reaches the
	// pause threshold but the rolling count climbs.
	win := types.BlockWindow{Chain: "ETH", FromBlock: 1001, ToBlock: 1001, TargetHead: 1001}
	for i := 0; i < 9; i++ {
		_, err := m.OnError(ctx, "ETH", errors.New("timeout"))
		require.NoError(t, err)
		require.NoError(t, m.OnSuccess(ctx, "ETH", win, 0, time.Millisecond))
	}
	s, _ := m.Get("ETH")
	require.Equal(t, types.StatusOK, s.Status)

	_, err := m.OnError(ctx, "ETH", errors.New("timeout"))
	require.NoError(t, err)
	s, _ = m.Get("ETH")
	require.Equal(t, 10, s.ErrorCount)
	require.Equal(t, types.StatusDegraded, s.Status)
}

func TestResetErrorCountsKeepsStreaks(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()

	_, err := m.OnError(ctx, "ETH", errors.New("boom"))
	require.NoError(t, err)
	_, err = m.OnError(ctx, "ETH", errors.New("boom"))
	require.NoError(t, err)

	m.ResetErrorCounts(ctx)

	s, _ := m.Get("ETH")
	require.Equal(t, 0, s.ErrorCount)
	require.Equal(t, 2, s.ConsecutiveErrors, "streaks survive the rolling reset")
}

func TestMarkFatalBlocksConsumptionUntilReset(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()

	require.NoError(t, m.MarkFatal(ctx, "ETH", "window gap detected"))
	s, _ := m.Get("ETH")
	require.Equal(t, types.StatusError, s.Status)
	require.False(t, s.Consumable())

	// Head updates must not clear the park.
	require.NoError(t, m.UpdateHead(ctx, "ETH", 1002))
	s, _ = m.Get("ETH")
	require.Equal(t, types.StatusError, s.Status)

	require.NoError(t, m.Reset(ctx, "ETH", 1001))
	s, _ = m.Get("ETH")
	require.Equal(t, types.StatusOK, s.Status)
	require.Equal(t, uint64(1000), s.LastSyncedBlock)
	require.True(t, s.Consumable())
}

func TestStatusFeedPublishesTransitions(t *testing.T) {
	m := newTestManager(t, newMemdb())
	ctx := context.Background()

	ch := make(chan StatusChange, 16)
	sub := m.SubscribeStatus(ch)
	defer sub.Unsubscribe()

	require.NoError(t, m.Pause(ctx, "ETH", "maintenance"))
	require.NoError(t, m.Resume(ctx, "ETH"))

	first := <-ch
	require.Equal(t, "ETH", first.Chain)
	require.Equal(t, types.StatusOK, first.From)
	require.Equal(t, types.StatusPaused, first.To)
	require.Equal(t, "maintenance", first.Reason)

	second := <-ch
	require.Equal(t, types.StatusPaused, second.From)
	require.Equal(t, types.StatusOK, second.To)
}

func TestPersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	db := newMemdb()
	m := newTestManager(t, db)
	ctx := context.Background()

	db.mu.Lock()
	db.failed = true
	db.mu.Unlock()

	win := types.BlockWindow{Chain: "ETH", FromBlock: 1001, ToBlock: 1010, TargetHead: 1010}
	require.NoError(t, m.OnSuccess(ctx, "ETH", win, 3, time.Millisecond))

	s, _ := m.Get("ETH")
	require.Equal(t, uint64(1010), s.LastSyncedBlock, "cursor advances even when the store is down")
}
