// Package ingest runs the windowed ingestion pipeline: one worker
// per active chain planning, fetching and persisting block windows
// strictly in sequence, with cooperative yielding when providers are
// exhausted. The service also carries the operator control surface
// (modes, stages, pause/resume, boost).
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/arguslabs/argus/adapter"
	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/rpcpool"
	"github.com/arguslabs/argus/store"
	"github.com/arguslabs/argus/syncstate"
	"github.com/arguslabs/argus/types"
	"github.com/arguslabs/argus/window"
)

const (
	// DefaultSleep is the base pause between loop cycles of a caught-up
	// chain. Modes scale it.
	DefaultSleep = 10 * time.Second

	// DefaultMaxBurst caps windows per cycle regardless of reason and
	// mode, so one far-behind chain cannot monopolize its pool.
	DefaultMaxBurst = 16

	// Burst budgets per planning reason. A chain gets this many
	// consecutive windows before yielding its cycle.
	burstCatchup  = 4
	burstBackfill = 8

	// Provider exhaustion backoff bounds. The jitter comes from the
	// backoff implementation itself.
	backoffInitial = time.Second
	backoffCeiling = 2 * time.Minute
)

// ChainSource is the adapter slice the loop drives.
type ChainSource interface {
	FetchHead(ctx context.Context, network string) (uint64, error)
	FetchWindow(ctx context.Context, w types.BlockWindow, filter adapter.TopicFilter, source types.IngestionSource) (*adapter.WindowResult, error)
}

// Ledger persists normalized windows.
type Ledger interface {
	InsertEvents(ctx context.Context, events []types.UnifiedEvent) (store.InsertReport, error)
}

// ProviderSink receives periodic pool snapshots for the admin
// surface.
type ProviderSink interface {
	SaveProviderStatuses(ctx context.Context, rows []types.ProviderStatus) error
}

// Config tunes the orchestrator.
type Config struct {
	// Networks is the active chain subset; empty means every known
	// network.
	Networks []string

	// StartBlocks seeds first-run cursors per chain; a missing entry
	// starts the chain at block 0.
	StartBlocks map[string]uint64

	// WindowOverrides replaces the per-chain default window span.
	WindowOverrides map[string]uint64

	// Sleep is the base loop interval, scaled by mode.
	Sleep time.Duration

	// MaxBurst caps consecutive windows per cycle.
	MaxBurst int

	// Mode is the initial ingestion mode.
	Mode Mode

	// Stages names the log families enabled at startup; empty enables
	// all of them. Transfers are always on.
	Stages []string

	// LimitedChains is the chain set LIMITED mode keeps active.
	LimitedChains []string
}

func (c *Config) withDefaults() {
	if len(c.Networks) == 0 {
		for _, n := range params.AllNetworks() {
			c.Networks = append(c.Networks, n.Tag)
		}
	}
	if c.Sleep <= 0 {
		c.Sleep = DefaultSleep
	}
	if c.MaxBurst <= 0 {
		c.MaxBurst = DefaultMaxBurst
	}
	if c.Mode == "" {
		c.Mode = ModeStandard
	}
	if len(c.LimitedChains) == 0 {
		c.LimitedChains = []string{"ETH", "ARB", "BASE"}
	}
}

// Service owns the per-chain ingestion workers.
type Service struct {
	log       log.Logger
	cfg       Config
	chain     ChainSource
	sync      *syncstate.Manager
	ledger    Ledger
	pool      *rpcpool.Pool
	providers ProviderSink

	stages atomic.Uint32

	modeMu     sync.Mutex
	mode       Mode
	prevMode   Mode
	boostUntil time.Time

	ovrMu      sync.RWMutex
	ovrWindows map[string]uint64
	ovrSleep   time.Duration

	plan func(types.ChainSyncState, uint64, uint64) (types.BlockWindow, bool)
	now  func() time.Time

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// NewService wires the orchestrator. pool and providers may be nil in
// reduced assemblies; the provider admin surface is then inert.
func NewService(chain ChainSource, sm *syncstate.Manager, ledger Ledger, pool *rpcpool.Pool, providers ProviderSink, cfg Config, logger log.Logger) *Service {
	cfg.withDefaults()
	s := &Service{
		log:        logger.New("module", "ingest"),
		cfg:        cfg,
		chain:      chain,
		sync:       sm,
		ledger:     ledger,
		pool:       pool,
		providers:  providers,
		mode:       cfg.Mode,
		ovrWindows: make(map[string]uint64, len(cfg.WindowOverrides)),
		plan:       window.Next,
		now:        time.Now,
	}
	for tag, size := range cfg.WindowOverrides {
		s.ovrWindows[tag] = size
	}
	s.stages.Store(uint32(parseStages(cfg.Stages)))
	return s
}

// Start seeds sync state and launches one worker per active chain.
func (s *Service) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running {
		return errors.New("ingestion already running")
	}

	seeds := make([]syncstate.Seed, 0, len(s.cfg.Networks))
	for _, chain := range s.cfg.Networks {
		seeds = append(seeds, syncstate.Seed{
			Chain:      chain,
			ChainID:    params.ChainID(chain),
			StartBlock: s.cfg.StartBlocks[chain],
		})
	}
	if err := s.sync.Load(ctx, seeds); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(loopCtx)
	for _, chain := range s.cfg.Networks {
		chain := chain
		g.Go(func() error {
			s.chainLoop(gctx, chain)
			return nil
		})
	}
	s.cancel = cancel
	s.group = g
	s.running = true
	s.log.Info("Ingestion started", "chains", len(s.cfg.Networks), "mode", s.Mode(), "stages", s.StageNames())
	return nil
}

// Stop signals every worker and waits for in-flight windows to drain.
func (s *Service) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	err := s.group.Wait()
	s.running = false
	s.log.Info("Ingestion stopped")
	return err
}

// chainLoop is the strictly sequential window loop of one chain.
func (s *Service) chainLoop(ctx context.Context, chain string) {
	lg := s.log.New("chain", chain)
	lg.Debug("Chain worker started")
	defer lg.Debug("Chain worker stopped")

	bo := newChainBackoff()
	for {
		delay := s.cycle(ctx, chain, bo, lg)
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// cycle runs one quantum of work for a chain and returns how long the
// worker should sleep before re-entering. Mode and stage toggles are
// re-read here, never mid-window.
func (s *Service) cycle(ctx context.Context, chain string, bo *backoff.ExponentialBackOff, lg log.Logger) time.Duration {
	mode := s.Mode()
	if !s.chainActive(chain, mode) {
		return s.sleepFor(mode)
	}

	state, err := s.sync.Get(chain)
	if err != nil {
		lg.Error("Worker lost its chain state", "err", err)
		return s.sleepFor(mode)
	}
	if !state.Consumable() {
		return s.sleepFor(mode)
	}

	head, err := s.chain.FetchHead(ctx, chain)
	if err != nil {
		return s.errorDelay(ctx, chain, err, bo, lg)
	}
	if err := s.sync.UpdateHead(ctx, chain, head); err != nil {
		lg.Error("Head update failed", "err", err)
		return s.sleepFor(mode)
	}

	filter := s.topicFilter()
	budget := 1
	for consumed := 0; consumed < budget; consumed++ {
		state, err = s.sync.Get(chain)
		if err != nil || !state.Consumable() {
			return s.sleepFor(mode)
		}

		w, ok := s.plan(state, state.LastHeadBlock, s.windowSizeFor(state))
		if !ok {
			bo.Reset()
			return s.sleepFor(mode)
		}
		if consumed == 0 {
			budget = s.burstFor(w.Reason, mode)
		}
		if err := window.Validate(w, state); err != nil {
			gapMeter.Mark(1)
			lg.Error("Window failed validation, parking chain", "from", w.FromBlock, "to", w.ToBlock, "err", err)
			if merr := s.sync.MarkFatal(ctx, chain, err.Error()); merr != nil {
				lg.Error("Parking chain failed", "err", merr)
			}
			return s.sleepFor(mode)
		}

		res, err := s.chain.FetchWindow(ctx, w, filter, types.SourceRPC)
		if err != nil {
			return s.errorDelay(ctx, chain, err, bo, lg)
		}
		report, err := s.ledger.InsertEvents(ctx, res.Events)
		if err != nil {
			// Integrity failure: the cursor stays put, replay covers
			// the partial batch.
			return s.errorDelay(ctx, chain, err, bo, lg)
		}
		if err := s.sync.OnSuccess(ctx, chain, w, len(res.Events), res.Latency); err != nil {
			lg.Error("Cursor advance failed", "err", err)
			return s.sleepFor(mode)
		}
		bo.Reset()

		windowMeter.Mark(1)
		eventMeter.Mark(int64(report.Inserted))
		duplicateMeter.Mark(int64(report.Duplicates))
		if res.TimestampFallbacks > 0 {
			degradationMeter.Mark(1)
			lg.Warn("Window accepted with timestamp fallbacks", "from", w.FromBlock, "to", w.ToBlock, "fallbacks", res.TimestampFallbacks)
		}
		lg.Debug("Window ingested", "from", w.FromBlock, "to", w.ToBlock, "reason", w.Reason,
			"events", len(res.Events), "inserted", report.Inserted, "duplicates", report.Duplicates,
			"provider", res.Provider, "elapsed", res.Latency)
	}

	// Budget spent with lag remaining: come back quickly.
	return s.sleepFor(mode) / 4
}

// errorDelay settles one failed remote interaction and returns the
// backoff before the next attempt. Pool exhaustion yields without
// charging the chain; everything else goes through error bookkeeping
// and may auto-pause the chain.
func (s *Service) errorDelay(ctx context.Context, chain string, cause error, bo *backoff.ExponentialBackOff, lg log.Logger) time.Duration {
	if ctx.Err() != nil {
		return time.Millisecond
	}

	var retryAfter time.Duration
	switch {
	case rpcpool.IsRateLimited(cause):
		rateLimitMeter.Mark(1)
		var rl *rpcpool.RateLimitedError
		if errors.As(cause, &rl) {
			retryAfter = rl.RetryAfter
		}
		lg.Debug("Provider budgets exhausted, yielding", "retryAfter", retryAfter)
	case rpcpool.IsNoProviders(cause):
		noProviderMeter.Mark(1)
		var np *rpcpool.NoProvidersError
		if errors.As(cause, &np) {
			retryAfter = np.RetryAfter
		}
		lg.Warn("No providers available, yielding", "retryAfter", retryAfter)
	default:
		errorMeter.Mark(1)
		paused, serr := s.sync.OnError(ctx, chain, cause)
		if serr != nil {
			lg.Error("Error bookkeeping failed", "err", serr)
		}
		if paused {
			lg.Warn("Chain auto-paused after consecutive failures", "err", cause)
			return s.sleepFor(s.Mode())
		}
		lg.Warn("Window failed", "err", cause)
	}

	delay := bo.NextBackOff()
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// windowSizeFor derives the effective window span: the override or
// per-chain default shrunk by observed error rate and latency.
func (s *Service) windowSizeFor(state types.ChainSyncState) uint64 {
	s.ovrMu.RLock()
	base := s.ovrWindows[state.Chain]
	s.ovrMu.RUnlock()
	if base == 0 {
		base = params.WindowSize(state.Chain)
	}
	errRate := float64(state.ConsecutiveErrors) / 10
	latency := time.Duration(state.AvgLatencyMs) * time.Millisecond
	return window.OptimalSize(base, errRate, latency)
}

func (s *Service) burstFor(reason types.WindowReason, mode Mode) int {
	var n int
	switch reason {
	case types.WindowBackfill:
		n = burstBackfill
	case types.WindowCatchup:
		n = burstCatchup
	default:
		n = 1
	}
	if mode == ModeFull || mode == ModeBoost {
		n *= 2
	}
	if n > s.cfg.MaxBurst {
		n = s.cfg.MaxBurst
	}
	return n
}

func (s *Service) sleepFor(mode Mode) time.Duration {
	s.ovrMu.RLock()
	base := s.ovrSleep
	s.ovrMu.RUnlock()
	if base <= 0 {
		base = s.cfg.Sleep
	}
	switch mode {
	case ModeLimited:
		return base * 4
	case ModeFull, ModeBoost:
		return base / 2
	default:
		return base
	}
}

func (s *Service) chainActive(chain string, mode Mode) bool {
	if mode != ModeLimited {
		return true
	}
	for _, c := range s.cfg.LimitedChains {
		if c == chain {
			return true
		}
	}
	return false
}

// newChainBackoff builds the jittered exponential delay source one
// chain worker uses across provider exhaustion and window failures.
func newChainBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitial
	bo.MaxInterval = backoffCeiling
	bo.MaxElapsedTime = 0
	return bo
}

// sleepCtx pauses for d, returning false when ctx died first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// FlushProviderStatus writes the current pool snapshot to the store.
// The scheduler calls this periodically; provider toggles call it
// inline so the admin surface reads fresh rows.
func (s *Service) FlushProviderStatus(ctx context.Context) {
	if s.pool == nil || s.providers == nil {
		return
	}
	rows := s.pool.Snapshot()
	if len(rows) == 0 {
		return
	}
	if err := s.providers.SaveProviderStatuses(ctx, rows); err != nil {
		s.log.Warn("Provider status flush failed", "rows", len(rows), "err", err)
	}
}
