package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/arguslabs/argus/adapter"
	"github.com/arguslabs/argus/analytics"
	"github.com/arguslabs/argus/store"
	"github.com/arguslabs/argus/types"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultLookbackBlocks = 500_000
	DefaultMaxAttempts    = 3
	DefaultRetryBase      = 30 * time.Second
	DefaultRetryMax       = 10 * time.Minute
)

var (
	claimedMeter   = metrics.NewRegisteredMeter("bootstrap/claimed", nil)
	completedMeter = metrics.NewRegisteredMeter("bootstrap/completed", nil)
	failedMeter    = metrics.NewRegisteredMeter("bootstrap/failed", nil)
	retriedMeter   = metrics.NewRegisteredMeter("bootstrap/retried", nil)
	eventsMeter    = metrics.NewRegisteredMeter("bootstrap/events", nil)
	taskTimer      = metrics.NewRegisteredTimer("bootstrap/task", nil)
)

// ChainSource is the adapter slice the worker scans subjects with.
type ChainSource interface {
	FetchHead(ctx context.Context, network string) (uint64, error)
	FetchAddressTransfers(ctx context.Context, network string, from, to uint64, addr common.Address, dir types.Direction, source types.IngestionSource) (*adapter.WindowResult, error)
	FetchTokenTransfers(ctx context.Context, network string, from, to uint64, token common.Address, source types.IngestionSource) (*adapter.WindowResult, error)
}

// Ledger persists the scanned history.
type Ledger interface {
	InsertEvents(ctx context.Context, events []types.UnifiedEvent) (store.InsertReport, error)
}

// EdgeRefresher recomputes the relation edges around a freshly
// indexed wallet.
type EdgeRefresher interface {
	RecomputeAnchor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error)
}

// ProfileWarmer primes the analytics profile of a freshly indexed
// wallet so the first read after completion is served hot.
type ProfileWarmer interface {
	Profile(ctx context.Context, network, address string) (analytics.Profile, error)
}

// Resolver is notified exactly once when a task reaches a terminal
// state, so cached resolution records can leave their analyzing
// state.
type Resolver interface {
	UpdateResolutionAfterBootstrap(ctx context.Context, address string, status types.TaskStatus) error
}

// Completion is the payload of the bootstrap_complete event.
type Completion struct {
	Subject types.SubjectType
	Network string
	Address string
	Status  types.TaskStatus
}

// Config tunes the worker.
type Config struct {
	PollInterval   time.Duration
	LookbackBlocks uint64
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = DefaultLookbackBlocks
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
}

// Worker drains the task queue. One worker runs the phases of one
// task at a time; horizontal scale comes from running more workers,
// which the claim's atomic status flip keeps disjoint.
type Worker struct {
	log      log.Logger
	db       TaskStore
	chain    ChainSource
	ledger   Ledger
	edges    EdgeRefresher
	profiles ProfileWarmer
	resolver Resolver
	cfg      Config

	feed event.FeedOf[Completion]
	now  func() time.Time
}

// NewWorker wires a worker. edges, profiles and resolver may be nil;
// the corresponding post-scan steps are then skipped.
func NewWorker(db TaskStore, chain ChainSource, ledger Ledger, edges EdgeRefresher, profiles ProfileWarmer, resolver Resolver, cfg Config, logger log.Logger) *Worker {
	cfg.withDefaults()
	return &Worker{
		log:      logger.New("module", "bootstrap"),
		db:       db,
		chain:    chain,
		ledger:   ledger,
		edges:    edges,
		profiles: profiles,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SubscribeCompletions delivers bootstrap_complete events. Delivery
// happens on the worker goroutine; subscribers must use a buffered
// channel and drain promptly.
func (w *Worker) SubscribeCompletions(ch chan<- Completion) event.Subscription {
	return w.feed.Subscribe(ch)
}

// Run claims and processes tasks until ctx is cancelled. The queue is
// drained before each poll sleep so a burst of enqueues is worked off
// back to back.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			task, err := w.db.ClaimNextTask(ctx, w.now().UTC())
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error("Bootstrap claim failed", "err", err)
				}
				break
			}
			if task == nil {
				break
			}
			claimedMeter.Mark(1)
			w.process(ctx, task)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// process runs one claimed task through its phases and settles its
// terminal or retry state.
func (w *Worker) process(ctx context.Context, task *types.BootstrapTask) {
	start := w.now()
	w.log.Info("Bootstrap task started", "key", task.DedupKey, "subject", task.SubjectType, "attempt", task.Attempts)

	err := w.runPhases(ctx, task)
	taskTimer.UpdateSince(start)

	if err == nil {
		if err := w.db.CompleteTask(ctx, task.DedupKey); err != nil {
			w.log.Error("Bootstrap completion write failed", "key", task.DedupKey, "err", err)
			return
		}
		completedMeter.Mark(1)
		w.log.Info("Bootstrap task done", "key", task.DedupKey, "elapsed", time.Since(start))
		w.finish(ctx, task, types.TaskDone)
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-task. Requeue immediately so the next run
		// resumes it; the status write gets its own deadline because
		// ctx is already dead.
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.db.FailTask(wctx, task.DedupKey, "interrupted by shutdown", w.now().UTC()); err != nil {
			w.log.Error("Bootstrap requeue on shutdown failed", "key", task.DedupKey, "err", err)
		}
		return
	}

	if task.Attempts >= w.cfg.MaxAttempts {
		if ferr := w.db.FailTask(ctx, task.DedupKey, err.Error(), time.Time{}); ferr != nil {
			w.log.Error("Bootstrap failure write failed", "key", task.DedupKey, "err", ferr)
			return
		}
		failedMeter.Mark(1)
		w.log.Warn("Bootstrap task failed terminally", "key", task.DedupKey, "attempts", task.Attempts, "err", err)
		w.finish(ctx, task, types.TaskFailed)
		return
	}

	retryAt := w.now().UTC().Add(w.retryDelay(task.Attempts))
	if ferr := w.db.FailTask(ctx, task.DedupKey, err.Error(), retryAt); ferr != nil {
		w.log.Error("Bootstrap retry write failed", "key", task.DedupKey, "err", ferr)
		return
	}
	retriedMeter.Mark(1)
	w.log.Warn("Bootstrap task will retry", "key", task.DedupKey, "attempt", task.Attempts, "retryAt", retryAt, "err", err)
}

func (w *Worker) runPhases(ctx context.Context, task *types.BootstrapTask) error {
	switch task.SubjectType {
	case types.SubjectWallet:
		return w.bootstrapWallet(ctx, task)
	case types.SubjectToken:
		return w.bootstrapToken(ctx, task)
	default:
		return fmt.Errorf("unknown subject type %q", task.SubjectType)
	}
}

// bootstrapWallet scans both transfer directions of an address over
// the lookback range and persists them, then refreshes the wallet's
// aggregates so the first page load after completion is warm.
func (w *Worker) bootstrapWallet(ctx context.Context, task *types.BootstrapTask) error {
	w.progress(ctx, task, 10, "resolve_head")
	head, err := w.chain.FetchHead(ctx, task.Network)
	if err != nil {
		return fmt.Errorf("resolving head: %w", err)
	}
	from := lookbackStart(head, w.cfg.LookbackBlocks)
	addr := common.HexToAddress(task.Address)

	w.progress(ctx, task, 30, "fetch_outgoing")
	out, err := w.chain.FetchAddressTransfers(ctx, task.Network, from, head, addr, types.DirectionOut, types.SourceBootstrap)
	if err != nil {
		return fmt.Errorf("fetching outgoing transfers: %w", err)
	}
	if err := w.persist(ctx, out.Events); err != nil {
		return err
	}

	w.progress(ctx, task, 60, "fetch_incoming")
	in, err := w.chain.FetchAddressTransfers(ctx, task.Network, from, head, addr, types.DirectionIn, types.SourceBootstrap)
	if err != nil {
		return fmt.Errorf("fetching incoming transfers: %w", err)
	}
	if err := w.persist(ctx, in.Events); err != nil {
		return err
	}

	w.progress(ctx, task, 85, "aggregate")
	w.warmAggregates(ctx, task)
	return nil
}

// bootstrapToken scans the full transfer log of a token contract,
// then primes the contract profile. Edges stay untouched: they anchor
// on wallets.
func (w *Worker) bootstrapToken(ctx context.Context, task *types.BootstrapTask) error {
	w.progress(ctx, task, 10, "resolve_head")
	head, err := w.chain.FetchHead(ctx, task.Network)
	if err != nil {
		return fmt.Errorf("resolving head: %w", err)
	}
	from := lookbackStart(head, w.cfg.LookbackBlocks)

	w.progress(ctx, task, 50, "fetch_token_transfers")
	res, err := w.chain.FetchTokenTransfers(ctx, task.Network, from, head, common.HexToAddress(task.Address), types.SourceBootstrap)
	if err != nil {
		return fmt.Errorf("fetching token transfers: %w", err)
	}
	if err := w.persist(ctx, res.Events); err != nil {
		return err
	}

	w.progress(ctx, task, 85, "aggregate")
	w.warmAggregates(ctx, task)
	return nil
}

// persist writes a scanned batch. Duplicates are expected here: the
// main ingestion loop may have covered part of the range already.
func (w *Worker) persist(ctx context.Context, events []types.UnifiedEvent) error {
	if len(events) == 0 {
		return nil
	}
	report, err := w.ledger.InsertEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("persisting %d events: %w", len(events), err)
	}
	eventsMeter.Mark(int64(report.Inserted))
	return nil
}

// warmAggregates recomputes edges and primes the profile. Failures
// here do not fail the task: the ledger is already indexed and the
// scheduled aggregation passes will heal the derived layers.
func (w *Worker) warmAggregates(ctx context.Context, task *types.BootstrapTask) {
	// Relation edges anchor on wallets; a token contract is the
	// emitter of its transfers, not a counterparty.
	if task.SubjectType == types.SubjectWallet && w.edges != nil {
		if _, err := w.edges.RecomputeAnchor(ctx, task.Network, task.Address); err != nil {
			w.log.Warn("Bootstrap edge recompute failed", "key", task.DedupKey, "err", err)
		}
	}
	if w.profiles != nil {
		if _, err := w.profiles.Profile(ctx, task.Network, task.Address); err != nil {
			w.log.Warn("Bootstrap profile warm failed", "key", task.DedupKey, "err", err)
		}
	}
}

// finish fires the terminal callback. The callbackSent flag is
// flipped before delivering so racing workers cannot double-send;
// the flip is the commit point.
func (w *Worker) finish(ctx context.Context, task *types.BootstrapTask, status types.TaskStatus) {
	first, err := w.db.MarkCallbackSent(ctx, task.DedupKey)
	if err != nil {
		w.log.Error("Bootstrap callback mark failed", "key", task.DedupKey, "err", err)
		return
	}
	if !first {
		return
	}
	if w.resolver != nil {
		if err := w.resolver.UpdateResolutionAfterBootstrap(ctx, task.Address, status); err != nil {
			w.log.Warn("Resolver callback failed", "key", task.DedupKey, "err", err)
		}
	}
	w.feed.Send(Completion{
		Subject: task.SubjectType,
		Network: task.Network,
		Address: task.Address,
		Status:  status,
	})
}

// progress records a phase boundary. The remaining ETA shrinks
// linearly with progress. A failed write never fails the phase.
func (w *Worker) progress(ctx context.Context, task *types.BootstrapTask, pct int, step string) {
	eta := EstimateETA(task.SubjectType) * (100 - pct) / 100
	if err := w.db.UpdateTaskProgress(ctx, task.DedupKey, pct, step, eta); err != nil {
		w.log.Warn("Bootstrap progress write failed", "key", task.DedupKey, "step", step, "err", err)
	}
}

// retryDelay reproduces the exponential schedule for the given
// attempt, jitter included.
func (w *Worker) retryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.RetryBase
	bo.MaxInterval = w.cfg.RetryMax
	bo.MaxElapsedTime = 0

	d := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

func lookbackStart(head, lookback uint64) uint64 {
	if head <= lookback {
		return 0
	}
	return head - lookback
}
