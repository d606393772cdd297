// Package syncstate owns the per-chain ingestion progress records.
// The manager serializes every mutation, keeps the authoritative copy
// in memory and writes through to the store; all other components
// read copies.
package syncstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/arguslabs/argus/types"
)

// Status thresholds, in blocks of lag.
const (
	lagDegraded = 100
	lagError    = 500

	// pauseThreshold is the consecutive error streak that parks a
	// chain until an operator resumes it.
	pauseThreshold = 5

	// degradeErrorCount demotes OK to DEGRADED inside one rolling
	// error window.
	degradeErrorCount = 10

	// DefaultAlpha is the smoothing factor of the moving averages.
	DefaultAlpha = 0.2
)

// ErrUnknownChain reports an operation on a chain the manager was not
// seeded with.
var ErrUnknownChain = errors.New("unknown chain")

// Persistence is the slice of the store the manager writes through.
type Persistence interface {
	LoadSyncStates(ctx context.Context) ([]types.ChainSyncState, error)
	SaveSyncState(ctx context.Context, state *types.ChainSyncState) error
}

// Seed describes one chain to initialize when the store has no row
// yet. StartBlock is the first block to ingest.
type Seed struct {
	Chain      string
	ChainID    uint64
	StartBlock uint64
}

// StatusChange is published on every status transition.
type StatusChange struct {
	Chain  string
	From   types.SyncStatus
	To     types.SyncStatus
	Reason string
}

// Manager is the single writer of chain sync state.
type Manager struct {
	log   log.Logger
	db    Persistence
	alpha float64
	now   func() time.Time

	mu     sync.RWMutex
	states map[string]*types.ChainSyncState

	statusFeed event.FeedOf[StatusChange]
}

// NewManager builds a manager; alpha ≤ 0 picks DefaultAlpha.
func NewManager(db Persistence, alpha float64, logger log.Logger) *Manager {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Manager{
		log:    logger.New("module", "syncstate"),
		db:     db,
		alpha:  alpha,
		now:    time.Now,
		states: make(map[string]*types.ChainSyncState),
	}
}

// Load reads persisted states and seeds missing chains. Chains
// present in the store but absent from seeds are loaded too; they
// stay readable but the orchestrator won't drive them.
func (m *Manager) Load(ctx context.Context, seeds []Seed) error {
	persisted, err := m.db.LoadSyncStates(ctx)
	if err != nil {
		return fmt.Errorf("loading sync states: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range persisted {
		s := persisted[i]
		m.states[s.Chain] = &s
	}
	for _, seed := range seeds {
		if _, ok := m.states[seed.Chain]; ok {
			continue
		}
		lastSynced := uint64(0)
		if seed.StartBlock > 0 {
			lastSynced = seed.StartBlock - 1
		}
		s := &types.ChainSyncState{
			Chain:           seed.Chain,
			ChainID:         seed.ChainID,
			StartBlock:      seed.StartBlock,
			LastSyncedBlock: lastSynced,
			Status:          types.StatusOK,
			UpdatedAt:       m.now(),
		}
		m.states[seed.Chain] = s
		m.persist(ctx, s)
		m.log.Info("Seeded chain sync state", "chain", seed.Chain, "startBlock", seed.StartBlock)
	}
	return nil
}

// SubscribeStatus delivers status transitions to ch until the
// subscription is closed. Delivery happens on the mutating goroutine
// while the manager lock is held: subscribe with a buffered channel,
// drain promptly and never call back into the manager from the
// receive path.
func (m *Manager) SubscribeStatus(ch chan<- StatusChange) event.Subscription {
	return m.statusFeed.Subscribe(ch)
}

// Get returns a copy of one chain's state.
func (m *Manager) Get(chain string) (types.ChainSyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[chain]
	if !ok {
		return types.ChainSyncState{}, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	return s.Copy(), nil
}

// All returns copies of every chain state, sorted by chain tag.
func (m *Manager) All() []types.ChainSyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.ChainSyncState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// UpdateHead records a newly observed head and recomputes the status,
// so lag growth alone can degrade a chain between windows.
func (m *Manager) UpdateHead(ctx context.Context, chain string, head uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	if head > s.LastHeadBlock {
		s.LastHeadBlock = head
	}
	m.recomputeStatus(s)
	s.UpdatedAt = m.now()
	m.persist(ctx, s)
	return nil
}

// OnSuccess advances the cursor past a committed window and refreshes
// the moving averages.
func (m *Manager) OnSuccess(ctx context.Context, chain string, window types.BlockWindow, events int, latency time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	now := m.now()

	s.LastSyncedBlock = window.ToBlock
	if window.TargetHead > s.LastHeadBlock {
		s.LastHeadBlock = window.TargetHead
	}
	s.TotalEventsIngested += uint64(events)
	if span := window.Span(); span > 0 {
		s.AvgEventsPerBlock = m.ema(s.AvgEventsPerBlock, float64(events)/float64(span))
	}
	s.AvgLatencyMs = m.ema(s.AvgLatencyMs, float64(latency.Milliseconds()))
	s.ConsecutiveErrors = 0
	s.LastSuccessAt = now
	m.recomputeStatus(s)
	s.UpdatedAt = now
	m.persist(ctx, s)
	return nil
}

// OnError charges one failed window. The boolean reports whether the
// failure streak paused the chain.
func (m *Manager) OnError(ctx context.Context, chain string, cause error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	now := m.now()

	s.ErrorCount++
	s.ConsecutiveErrors++
	s.LastError = cause.Error()
	s.LastErrorAt = now

	paused := false
	if s.ConsecutiveErrors >= pauseThreshold {
		m.setStatus(s, types.StatusPaused, fmt.Sprintf("%d consecutive errors, last: %s", s.ConsecutiveErrors, cause))
		paused = true
	} else if s.ErrorCount >= degradeErrorCount && s.Status == types.StatusOK {
		m.setStatus(s, types.StatusDegraded, "")
	}
	s.UpdatedAt = now
	m.persist(ctx, s)
	if paused {
		m.log.Warn("Chain auto-paused", "chain", chain, "consecutiveErrors", s.ConsecutiveErrors, "err", cause)
	}
	return paused, nil
}

// Pause parks a chain with a reason until Resume.
func (m *Manager) Pause(ctx context.Context, chain, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	m.setStatus(s, types.StatusPaused, reason)
	s.UpdatedAt = m.now()
	m.persist(ctx, s)
	m.log.Info("Chain paused", "chain", chain, "reason", reason)
	return nil
}

// Resume lifts a pause or a fatal park, resets the failure streak and
// recomputes the status from lag.
func (m *Manager) Resume(ctx context.Context, chain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	s.PauseReason = ""
	s.ConsecutiveErrors = 0
	if s.Status == types.StatusPaused || s.Status == types.StatusError {
		s.Status = types.StatusOK
	}
	m.recomputeStatus(s)
	s.UpdatedAt = m.now()
	m.persist(ctx, s)
	m.log.Info("Chain resumed", "chain", chain, "status", s.Status)
	return nil
}

// Reset moves the cursor so ingestion restarts at newStart, clearing
// errors and the pause.
func (m *Manager) Reset(ctx context.Context, chain string, newStart uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	if newStart > 0 {
		s.StartBlock = newStart
		s.LastSyncedBlock = newStart - 1
	} else {
		s.StartBlock = 0
		s.LastSyncedBlock = 0
	}
	s.PauseReason = ""
	s.ErrorCount = 0
	s.ConsecutiveErrors = 0
	s.LastError = ""
	s.Status = types.StatusOK
	m.recomputeStatus(s)
	s.UpdatedAt = m.now()
	m.persist(ctx, s)
	m.log.Info("Chain reset", "chain", chain, "startBlock", newStart)
	return nil
}

// MarkFatal parks a chain in ERROR with a reason. Unlike lag-induced
// ERROR this blocks window consumption until an operator resumes or
// resets the chain.
func (m *Manager) MarkFatal(ctx context.Context, chain, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	m.setStatus(s, types.StatusError, reason)
	s.UpdatedAt = m.now()
	m.persist(ctx, s)
	m.log.Error("Chain marked fatal", "chain", chain, "reason", reason)
	return nil
}

// ResetErrorCounts zeroes the rolling error counters on every chain
// without touching the consecutive streaks.
func (m *Manager) ResetErrorCounts(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.states {
		if s.ErrorCount == 0 {
			continue
		}
		s.ErrorCount = 0
		s.UpdatedAt = m.now()
		m.persist(ctx, s)
	}
}

// recomputeStatus derives the status from lag. PAUSED is sticky and a
// fatal park (ERROR with a reason) survives until operator action.
func (m *Manager) recomputeStatus(s *types.ChainSyncState) {
	if s.Status == types.StatusPaused {
		return
	}
	if s.Status == types.StatusError && s.PauseReason != "" {
		return
	}
	lag := s.Lag()
	switch {
	case lag > lagError:
		m.setStatus(s, types.StatusError, "")
	case lag > lagDegraded:
		m.setStatus(s, types.StatusDegraded, "")
	default:
		m.setStatus(s, types.StatusOK, "")
	}
}

func (m *Manager) setStatus(s *types.ChainSyncState, status types.SyncStatus, reason string) {
	if s.Status == status && (reason == "" || s.PauseReason == reason) {
		if reason != "" {
			s.PauseReason = reason
		}
		return
	}
	from := s.Status
	s.Status = status
	if reason != "" {
		s.PauseReason = reason
	}
	m.statusFeed.Send(StatusChange{Chain: s.Chain, From: from, To: status, Reason: reason})
}

func (m *Manager) ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return m.alpha*sample + (1-m.alpha)*prev
}

// persist writes through to the store. The in-memory record stays
// authoritative when the write fails; ingestion keeps running on a
// flaky store.
func (m *Manager) persist(ctx context.Context, s *types.ChainSyncState) {
	if m.db == nil {
		return
	}
	if err := m.db.SaveSyncState(ctx, s); err != nil {
		m.log.Warn("Sync state write failed", "chain", s.Chain, "err", err)
	}
}
