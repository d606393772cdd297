package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arguslabs/argus/adapter"
	"github.com/arguslabs/argus/analytics"
	"github.com/arguslabs/argus/bootstrap"
	"github.com/arguslabs/argus/config"
	"github.com/arguslabs/argus/graph"
	"github.com/arguslabs/argus/health"
	"github.com/arguslabs/argus/ingest"
	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/prices"
	"github.com/arguslabs/argus/rpcpool"
	"github.com/arguslabs/argus/scheduler"
	"github.com/arguslabs/argus/snapshot"
	"github.com/arguslabs/argus/store"
	"github.com/arguslabs/argus/syncstate"
)

// setupLogger installs the root handler: colorized terminal output,
// optionally mirrored into a rotated JSON file.
func setupLogger(cfg config.Node) error {
	lvl := log.LvlInfo
	if cfg.LogLevel != "" {
		var err error
		lvl, err = log.LvlFromString(strings.ToLower(cfg.LogLevel))
		if err != nil {
			return err
		}
	}
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	output := io.Writer(os.Stderr)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	format := log.TerminalFormat(usecolor)
	if cfg.LogJSON {
		format = log.JSONFormat()
	}
	handler := log.StreamHandler(output, format)
	if cfg.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxMB,
			MaxBackups: cfg.LogBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   true,
		}
		handler = log.MultiHandler(handler, log.StreamHandler(rotated, log.JSONFormat()))
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, handler))
	return nil
}

// setupMetrics starts collection and the exp endpoint. The registry
// itself is armed by the --metrics flag before package init runs, so
// a config-file-only request can merely warn.
func setupMetrics(cfg config.Node) {
	if cfg.Metrics && !metrics.Enabled {
		log.Warn("Metrics requested in config file, pass --metrics to arm the registry")
	}
	if !metrics.Enabled {
		return
	}
	log.Info("Enabling metrics collection")
	go metrics.CollectProcessMetrics(3 * time.Second)
	if cfg.MetricsAddr != "" {
		log.Info("Enabling stand-alone metrics HTTP endpoint", "address", cfg.MetricsAddr)
		exp.Setup(cfg.MetricsAddr)
	}
}

func buildOracle(cfg config.Prices, reg *labels.Registry, logger log.Logger) prices.Oracle {
	chain := prices.Chain{prices.NewStatic(cfg.Static), prices.NewStables(reg)}
	if cfg.Endpoint != "" {
		chain = append(chain, prices.NewHTTP(cfg.Endpoint, cfg.Staleness, logger))
	}
	return chain
}

// runDaemon assembles and runs the full pipeline until interrupted.
func runDaemon(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}
	if err := setupLogger(cfg.Node); err != nil {
		return err
	}
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setupMetrics(cfg.Node)

	log.Info("Starting argusd", "version", params.VersionWithMeta,
		"networks", strings.Join(cfg.ActiveNetworks(), ","))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store first: everything downstream persists through it.
	dialCtx, cancel := context.WithTimeout(rootCtx, cfg.Mongo.Timeout)
	db, err := store.Open(dialCtx, cfg.Mongo.URI, cfg.Mongo.Database, log.Root())
	cancel()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			log.Warn("Store close failed", "err", err)
		}
	}()
	if err := db.EnsureIndexes(rootCtx); err != nil {
		return fmt.Errorf("ensuring indexes: %w", err)
	}

	pool, err := rpcpool.New(cfg.PoolConfig(), log.Root())
	if err != nil {
		return fmt.Errorf("building rpc pool: %w", err)
	}
	defer pool.Close()

	reg := labels.NewRegistry()
	oracle := buildOracle(cfg.Prices, reg, log.Root())
	chain := adapter.New(pool, oracle, reg, log.Root())
	sm := syncstate.NewManager(db, 0, log.Root())

	ing := ingest.NewService(chain, sm, db, pool, db, cfg.Ingest, log.Root())
	if err := ing.Start(rootCtx); err != nil {
		return fmt.Errorf("starting ingestion: %w", err)
	}

	gsvc := graph.NewService(db, db, reg, cfg.Graph, log.Root())
	asvc := analytics.NewService(db, db, reg, cfg.Analytics, log.Root())
	builder := snapshot.NewBuilder(db, db, db, cfg.Snapshots, log.Root())
	mon := health.NewMonitor(sm.All, log.Root())

	worker := bootstrap.NewWorker(db, chain, db, gsvc, asvc, nil, cfg.BootstrapConfig(), log.Root())
	workers, wctx := errgroup.WithContext(rootCtx)
	for i := 0; i < cfg.Bootstrap.Workers; i++ {
		workers.Go(func() error { return worker.Run(wctx) })
	}
	if cfg.Bootstrap.Workers > 0 {
		log.Info("Bootstrap workers running", "count", cfg.Bootstrap.Workers)
	}

	sched, err := scheduler.New(cfg.Cron, scheduler.Jobs{
		Relations: gsvc,
		Snapshots: builder,
		Health:    mon,
		Sync:      sm,
		Ingest:    ing,
	}, log.Root())
	if err != nil {
		ing.Stop()
		return fmt.Errorf("building scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		ing.Stop()
		return err
	}

	log.Info("Argusd up")
	<-rootCtx.Done()
	stop()

	log.Info("Got interrupt, shutting down")
	sched.Stop()
	ing.Stop()
	if err := workers.Wait(); err != nil {
		log.Warn("Bootstrap worker exited with error", "err", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	ing.FlushProviderStatus(flushCtx)
	cancel()
	return nil
}
