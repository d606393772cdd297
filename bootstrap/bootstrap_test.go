package bootstrap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/adapter"
	"github.com/arguslabs/argus/internal/testlog"
	"github.com/arguslabs/argus/store"
	"github.com/arguslabs/argus/types"
)

const (
	walletAddr = "0x1111111111111111111111111111111111111111"
	tokenAddr  = "0x2222222222222222222222222222222222222222"
)

// memQueue mirrors the store's task collection semantics in memory.
type memQueue struct {
	mu    sync.Mutex
	tasks map[string]*types.BootstrapTask
	steps []string
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: make(map[string]*types.BootstrapTask)}
}

func (m *memQueue) EnqueueTask(ctx context.Context, task *types.BootstrapTask) (*types.BootstrapTask, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tasks[task.DedupKey]; ok {
		cp := *existing
		return &cp, true, nil
	}
	cp := *task
	m.tasks[task.DedupKey] = &cp
	out := cp
	return &out, false, nil
}

func (m *memQueue) ClaimNextTask(ctx context.Context, now time.Time) (*types.BootstrapTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runnable []*types.BootstrapTask
	for _, t := range m.tasks {
		if t.Status == types.TaskQueued && !t.NotBefore.After(now) {
			runnable = append(runnable, t)
		}
	}
	if len(runnable) == 0 {
		return nil, nil
	}
	sort.Slice(runnable, func(i, j int) bool {
		if runnable[i].Priority != runnable[j].Priority {
			return runnable[i].Priority < runnable[j].Priority
		}
		return runnable[i].CreatedAt.Before(runnable[j].CreatedAt)
	})
	best := runnable[0]
	best.Status = types.TaskRunning
	best.Attempts++
	cp := *best
	return &cp, nil
}

func (m *memQueue) UpdateTaskProgress(ctx context.Context, key string, progress int, step string, etaSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	t.Progress, t.Step, t.EtaSeconds = progress, step, etaSeconds
	m.steps = append(m.steps, step)
	return nil
}

func (m *memQueue) CompleteTask(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	t.Status, t.Progress, t.Step, t.EtaSeconds = types.TaskDone, 100, "bootstrap_complete", 0
	return nil
}

func (m *memQueue) FailTask(ctx context.Context, key, cause string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	t.LastError = cause
	if retryAt.IsZero() {
		t.Status = types.TaskFailed
	} else {
		t.Status = types.TaskQueued
		t.NotBefore = retryAt
	}
	return nil
}

func (m *memQueue) MarkCallbackSent(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	if t.CallbackSent {
		return false, nil
	}
	t.CallbackSent = true
	return true, nil
}

func (m *memQueue) TaskByKey(ctx context.Context, key string) (*types.BootstrapTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[key]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

type fakeChain struct {
	head     uint64
	fetchErr error

	mu    sync.Mutex
	calls []string
}

func (f *fakeChain) FetchHead(ctx context.Context, network string) (uint64, error) {
	f.record("head")
	return f.head, nil
}

func (f *fakeChain) FetchAddressTransfers(ctx context.Context, network string, from, to uint64, addr common.Address, dir types.Direction, source types.IngestionSource) (*adapter.WindowResult, error) {
	f.record("addr:" + string(dir))
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &adapter.WindowResult{Events: []types.UnifiedEvent{{
		ID:      string(dir),
		Network: network,
		From:    addr.Hex(),
		Source:  source,
	}}}, nil
}

func (f *fakeChain) FetchTokenTransfers(ctx context.Context, network string, from, to uint64, token common.Address, source types.IngestionSource) (*adapter.WindowResult, error) {
	f.record("token")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &adapter.WindowResult{Events: []types.UnifiedEvent{{ID: "tok", Network: network, Source: source}}}, nil
}

func (f *fakeChain) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

type fakeLedger struct {
	mu       sync.Mutex
	inserted []types.UnifiedEvent
}

func (f *fakeLedger) InsertEvents(ctx context.Context, events []types.UnifiedEvent) (store.InsertReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, events...)
	return store.InsertReport{Inserted: len(events)}, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeResolver) UpdateResolutionAfterBootstrap(ctx context.Context, address string, status types.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address+":"+string(status))
	return nil
}

func TestEnqueueIsIdempotent(t *testing.T) {
	db := newMemQueue()
	q := NewQueue(db, testlog.Logger(t))
	ctx := context.Background()

	res, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectWallet, Network: "eth", Address: walletAddr})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Equal(t, types.TaskQueued, res.Task.Status)
	require.Equal(t, PriorityWallet, res.Task.Priority)
	require.Equal(t, "ETH", res.Task.Network)

	for i := 0; i < 2; i++ {
		again, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectWallet, Network: "ETH", Address: walletAddr})
		require.NoError(t, err)
		require.False(t, again.Queued, "re-enqueue returns the existing task")
		require.Equal(t, types.TaskQueued, again.Task.Status)
	}
	require.Len(t, db.tasks, 1)
}

func TestEnqueueValidatesInput(t *testing.T) {
	q := NewQueue(newMemQueue(), testlog.Logger(t))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Subject: "contract", Network: "ETH", Address: walletAddr})
	require.Error(t, err)
	_, err = q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectWallet, Network: "ETH", Address: "not-an-address"})
	require.Error(t, err)
	_, err = q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectWallet, Address: walletAddr})
	require.Error(t, err)
}

func TestGetStatusUnknownSubject(t *testing.T) {
	q := NewQueue(newMemQueue(), testlog.Logger(t))
	st, err := q.GetStatus(context.Background(), types.SubjectWallet, "ETH", walletAddr)
	require.NoError(t, err)
	require.False(t, st.Exists)
}

func TestWalletLifecycle(t *testing.T) {
	db := newMemQueue()
	chain := &fakeChain{head: 2_000_000}
	ledger := &fakeLedger{}
	resolver := &fakeResolver{}
	q := NewQueue(db, testlog.Logger(t))
	w := NewWorker(db, chain, ledger, nil, nil, resolver, Config{}, testlog.Logger(t))
	ctx := context.Background()

	completions := make(chan Completion, 1)
	sub := w.SubscribeCompletions(completions)
	defer sub.Unsubscribe()

	_, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectWallet, Network: "ETH", Address: walletAddr})
	require.NoError(t, err)

	task, err := db.ClaimNextTask(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, 1, task.Attempts)
	w.process(ctx, task)

	require.Equal(t, []string{"resolve_head", "fetch_outgoing", "fetch_incoming", "aggregate"}, db.steps)
	require.Equal(t, []string{"head", "addr:OUT", "addr:IN"}, chain.calls)
	require.Len(t, ledger.inserted, 2, "one event per direction")
	for _, ev := range ledger.inserted {
		require.Equal(t, types.SourceBootstrap, ev.Source)
	}

	st, err := q.GetStatus(ctx, types.SubjectWallet, "ETH", walletAddr)
	require.NoError(t, err)
	require.True(t, st.Exists)
	require.Equal(t, types.TaskDone, st.Status)
	require.Equal(t, 100, st.Progress)
	require.Equal(t, 0, st.EtaSeconds)

	require.Equal(t, []string{walletAddr + ":done"}, resolver.calls)
	select {
	case c := <-completions:
		require.Equal(t, types.TaskDone, c.Status)
		require.Equal(t, walletAddr, c.Address)
	default:
		t.Fatal("no completion event delivered")
	}
}

func TestTokenLifecycle(t *testing.T) {
	db := newMemQueue()
	chain := &fakeChain{head: 100}
	ledger := &fakeLedger{}
	q := NewQueue(db, testlog.Logger(t))
	w := NewWorker(db, chain, ledger, nil, nil, nil, Config{}, testlog.Logger(t))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectToken, Network: "BSC", Address: tokenAddr})
	require.NoError(t, err)

	task, err := db.ClaimNextTask(ctx, time.Now())
	require.NoError(t, err)
	w.process(ctx, task)

	require.Equal(t, []string{"resolve_head", "fetch_token_transfers", "aggregate"}, db.steps)
	require.Equal(t, []string{"head", "token"}, chain.calls)
	require.Len(t, ledger.inserted, 1)

	st, err := q.GetStatus(ctx, types.SubjectToken, "BSC", tokenAddr)
	require.NoError(t, err)
	require.Equal(t, types.TaskDone, st.Status)
}

func TestTokensClaimAheadOfWallets(t *testing.T) {
	db := newMemQueue()
	q := NewQueue(db, testlog.Logger(t))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectWallet, Network: "ETH", Address: walletAddr})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectToken, Network: "ETH", Address: tokenAddr})
	require.NoError(t, err)

	task, err := db.ClaimNextTask(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, types.SubjectToken, task.SubjectType, "lower priority number claims first")
}

func TestRetryThenTerminalFailure(t *testing.T) {
	db := newMemQueue()
	chain := &fakeChain{head: 100, fetchErr: errors.New("provider down")}
	resolver := &fakeResolver{}
	q := NewQueue(db, testlog.Logger(t))
	w := NewWorker(db, chain, &fakeLedger{}, nil, nil, resolver, Config{MaxAttempts: 2, RetryBase: time.Minute}, testlog.Logger(t))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectToken, Network: "ETH", Address: tokenAddr})
	require.NoError(t, err)

	now := time.Now()
	task, err := db.ClaimNextTask(ctx, now)
	require.NoError(t, err)
	w.process(ctx, task)

	key := types.BootstrapDedupKey(types.SubjectToken, "ETH", tokenAddr)
	stored, err := db.TaskByKey(ctx, key)
	require.NoError(t, err)
	require.Equal(t, types.TaskQueued, stored.Status, "first failure requeues")
	require.Contains(t, stored.LastError, "provider down")
	require.True(t, stored.NotBefore.After(now), "retry is deferred")
	require.Empty(t, resolver.calls)

	// Not runnable before the backoff elapses.
	early, err := db.ClaimNextTask(ctx, now)
	require.NoError(t, err)
	require.Nil(t, early)

	task, err = db.ClaimNextTask(ctx, stored.NotBefore.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, 2, task.Attempts)
	w.process(ctx, task)

	stored, err = db.TaskByKey(ctx, key)
	require.NoError(t, err)
	require.Equal(t, types.TaskFailed, stored.Status, "retry budget exhausted")
	require.Equal(t, []string{tokenAddr + ":failed"}, resolver.calls)
}

func TestCallbackFiresExactlyOnce(t *testing.T) {
	db := newMemQueue()
	resolver := &fakeResolver{}
	w := NewWorker(db, &fakeChain{head: 10}, &fakeLedger{}, nil, nil, resolver, Config{}, testlog.Logger(t))
	ctx := context.Background()

	task := &types.BootstrapTask{
		DedupKey:    types.BootstrapDedupKey(types.SubjectWallet, "ETH", walletAddr),
		SubjectType: types.SubjectWallet,
		Network:     "ETH",
		Address:     walletAddr,
		Status:      types.TaskQueued,
		CreatedAt:   time.Now(),
	}
	_, _, err := db.EnqueueTask(ctx, task)
	require.NoError(t, err)

	w.finish(ctx, task, types.TaskDone)
	w.finish(ctx, task, types.TaskDone)
	require.Len(t, resolver.calls, 1)
}

func TestRetryDelayBounds(t *testing.T) {
	w := NewWorker(newMemQueue(), &fakeChain{}, &fakeLedger{}, nil, nil, nil, Config{RetryBase: 30 * time.Second}, testlog.Logger(t))

	// Default randomization is ±50% of the interval.
	for i := 0; i < 20; i++ {
		d := w.retryDelay(1)
		require.GreaterOrEqual(t, d, 15*time.Second)
		require.LessOrEqual(t, d, 45*time.Second)
	}
	for i := 0; i < 20; i++ {
		d := w.retryDelay(3)
		require.GreaterOrEqual(t, d, 30*time.Second, "third attempt backs off further")
	}
}

func TestEstimateETATable(t *testing.T) {
	require.Equal(t, 150, EstimateETA(types.SubjectWallet))
	require.Equal(t, 90, EstimateETA(types.SubjectToken))
	require.Greater(t, EstimateETA(types.SubjectType("other")), 0)
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	db := newMemQueue()
	chain := &fakeChain{head: 100}
	ledger := &fakeLedger{}
	q := NewQueue(db, testlog.Logger(t))
	w := NewWorker(db, chain, ledger, nil, nil, nil, Config{PollInterval: 10 * time.Millisecond}, testlog.Logger(t))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := q.Enqueue(ctx, EnqueueRequest{Subject: types.SubjectToken, Network: "ETH", Address: tokenAddr})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	key := types.BootstrapDedupKey(types.SubjectToken, "ETH", tokenAddr)
	require.Eventually(t, func() bool {
		task, err := db.TaskByKey(ctx, key)
		return err == nil && task != nil && task.Status == types.TaskDone
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
