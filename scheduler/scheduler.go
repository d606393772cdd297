// Package scheduler drives the periodic maintenance work of the
// pipeline: relation recomputes, snapshot builds, health checks and
// sync-state upkeep. Jobs run on a shared cron host with overlap
// suppression and panic recovery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/robfig/cron/v3"

	"github.com/arguslabs/argus/health"
	"github.com/arguslabs/argus/ingest"
)

const (
	DefaultRelationsSpec     = "@every 10m"
	DefaultSnapshotsSpec     = "@hourly"
	DefaultHealthSpec        = "@every 1m"
	DefaultErrorResetSpec    = "@every 5m"
	DefaultProviderFlushSpec = "@every 1m"

	// DefaultJobTimeout bounds a single job run. Heavy passes over a
	// large ledger abort rather than stack up behind the next fire.
	DefaultJobTimeout = 5 * time.Minute
)

var (
	runMeter  = metrics.GetOrRegisterMeter("scheduler/runs", nil)
	failMeter = metrics.GetOrRegisterMeter("scheduler/failures", nil)
	skipMeter = metrics.GetOrRegisterMeter("scheduler/skipped", nil)
)

// Aggregator recomputes relation edges for recently active anchors.
type Aggregator interface {
	RecomputeActive(ctx context.Context) error
}

// Snapshotter freezes the aggregated view, one snapshot per window.
type Snapshotter interface {
	BuildAll(ctx context.Context) error
}

// Checker grades chain sync state and publishes alerts.
type Checker interface {
	Check() health.Report
}

// SyncStore zeroes the rolling per-chain error counters.
type SyncStore interface {
	ResetErrorCounts(ctx context.Context)
}

// Ingester exposes the orchestrator hooks the scheduler drives: the
// provider status flush and the mode gate for heavy jobs.
type Ingester interface {
	FlushProviderStatus(ctx context.Context)
	Mode() ingest.Mode
}

// Jobs bundles the collaborators the scheduler runs. Nil fields are
// skipped, so a reduced deployment can wire only what it hosts.
type Jobs struct {
	Relations Aggregator
	Snapshots Snapshotter
	Health    Checker
	Sync      SyncStore
	Ingest    Ingester
}

// Config holds the cron spec per job. Specs use the standard five
// field syntax or @every descriptors.
type Config struct {
	Relations     string
	Snapshots     string
	Health        string
	ErrorReset    string
	ProviderFlush string

	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Relations == "" {
		c.Relations = DefaultRelationsSpec
	}
	if c.Snapshots == "" {
		c.Snapshots = DefaultSnapshotsSpec
	}
	if c.Health == "" {
		c.Health = DefaultHealthSpec
	}
	if c.ErrorReset == "" {
		c.ErrorReset = DefaultErrorResetSpec
	}
	if c.ProviderFlush == "" {
		c.ProviderFlush = DefaultProviderFlushSpec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}

type job struct {
	name  string
	spec  string
	heavy bool
	run   func(context.Context) error
}

// Scheduler is the cron host. Overlapping fires of the same job are
// dropped and panics inside a job are recovered, so a wedged pass
// cannot take the host down.
type Scheduler struct {
	log  log.Logger
	cron *cron.Cron
	cfg  Config
	jobs Jobs

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New builds the host and registers every wired job. Invalid cron
// specs surface here, before anything starts.
func New(cfg Config, jobs Jobs, logger log.Logger) (*Scheduler, error) {
	s := &Scheduler{
		log:  logger.New("module", "scheduler"),
		cfg:  cfg.withDefaults(),
		jobs: jobs,
	}
	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
	)
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) register() error {
	var list []job
	if s.jobs.Relations != nil {
		list = append(list, job{"relations", s.cfg.Relations, true, s.jobs.Relations.RecomputeActive})
	}
	if s.jobs.Snapshots != nil {
		list = append(list, job{"snapshots", s.cfg.Snapshots, true, s.jobs.Snapshots.BuildAll})
	}
	if s.jobs.Health != nil {
		list = append(list, job{"health", s.cfg.Health, false, func(context.Context) error {
			s.jobs.Health.Check()
			return nil
		}})
	}
	if s.jobs.Sync != nil {
		list = append(list, job{"error-reset", s.cfg.ErrorReset, false, func(ctx context.Context) error {
			s.jobs.Sync.ResetErrorCounts(ctx)
			return nil
		}})
	}
	if s.jobs.Ingest != nil {
		list = append(list, job{"provider-flush", s.cfg.ProviderFlush, false, func(ctx context.Context) error {
			s.jobs.Ingest.FlushProviderStatus(ctx)
			return nil
		}})
	}
	if len(list) == 0 {
		return errors.New("scheduler: no jobs wired")
	}
	for _, j := range list {
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j)); err != nil {
			return fmt.Errorf("invalid cron spec %q for %s job: %w", j.spec, j.name, err)
		}
		s.log.Debug("Registered job", "job", j.name, "spec", j.spec)
	}
	return nil
}

// wrap turns a job into the closure cron fires: mode gate for heavy
// jobs, per-run timeout, outcome logging.
func (s *Scheduler) wrap(j job) func() {
	return func() {
		if j.heavy && s.limited() {
			skipMeter.Mark(1)
			s.log.Debug("Skipping job in limited mode", "job", j.name)
			return
		}
		runMeter.Mark(1)
		ctx, cancel := context.WithTimeout(s.runCtx(), s.cfg.JobTimeout)
		defer cancel()

		start := time.Now()
		if err := j.run(ctx); err != nil {
			failMeter.Mark(1)
			s.log.Warn("Scheduled job failed", "job", j.name, "elapsed", common.PrettyDuration(time.Since(start)), "err", err)
			return
		}
		s.log.Debug("Scheduled job done", "job", j.name, "elapsed", common.PrettyDuration(time.Since(start)))
	}
}

// limited reports whether heavy jobs should be suppressed. In limited
// mode the orchestrator serves core chains only and the derived layers
// are left as they are.
func (s *Scheduler) limited() bool {
	return s.jobs.Ingest != nil && s.jobs.Ingest.Mode() == ingest.ModeLimited
}

func (s *Scheduler) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Start begins firing jobs. A health check runs immediately so the
// first report does not wait for the first tick.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()
	n := len(s.cron.Entries())
	s.mu.Unlock()

	if s.jobs.Health != nil {
		s.jobs.Health.Check()
	}
	s.log.Info("Scheduler started", "jobs", n)
	return nil
}

// Stop cancels running jobs and waits for them to drain. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// cronLogger adapts the node logger to the cron library. The library's
// informational chatter lands at debug level.
type cronLogger struct {
	log log.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
