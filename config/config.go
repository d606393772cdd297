// Package config defines the daemon's TOML configuration: the store
// target, the provider tables, per-component tuning and the cron
// specs the scheduler runs. Keys map one to one onto Go field names;
// cmd/argusd owns the file loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arguslabs/argus/analytics"
	"github.com/arguslabs/argus/bootstrap"
	"github.com/arguslabs/argus/graph"
	"github.com/arguslabs/argus/ingest"
	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/rpcpool"
	"github.com/arguslabs/argus/scheduler"
	"github.com/arguslabs/argus/snapshot"
)

// Node carries the process-level knobs: logging and the metrics
// endpoint.
type Node struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string
	// LogJSON switches the root handler to JSON records.
	LogJSON bool
	// LogFile mirrors the stream into a rotated file when set.
	LogFile    string
	LogMaxMB   int
	LogBackups int
	// LogMaxAge is the rotated-file retention in days.
	LogMaxAge int

	// Metrics enables the registry; MetricsAddr serves the exp
	// endpoint when non-empty.
	Metrics     bool
	MetricsAddr string
}

// Mongo is the store target. The daemon owns its collections inside
// Database.
type Mongo struct {
	URI      string
	Database string
	// Timeout bounds the initial connect.
	Timeout time.Duration
}

// Provider is one upstream RPC entry. The flat list is grouped by
// network into the pool layout.
type Provider struct {
	Network string
	ID      string
	URL     string
	// Weight is the relative selection weight, minimum 1.
	Weight int
	// RateLimit is the request budget per minute; zero means
	// unlimited.
	RateLimit int
	Cooldown  time.Duration
	Timeout   time.Duration
	Disabled  bool
}

// Bootstrap tunes the on-demand indexing workers.
type Bootstrap struct {
	// Workers is the number of concurrent task runners; zero disables
	// the subsystem.
	Workers        int
	PollInterval   time.Duration
	LookbackBlocks uint64
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
}

// Prices configures USD valuation: a static table, optionally backed
// by an HTTP oracle.
type Prices struct {
	// Endpoint is the price service base URL; empty disables the HTTP
	// oracle.
	Endpoint string
	// Staleness bounds how old a cached quote may be served.
	Staleness time.Duration
	// Static maps "NETWORK:0xtoken" keys to fixed USD prices.
	Static map[string]float64
}

// Config is the full daemon configuration.
type Config struct {
	Node      Node
	Mongo     Mongo
	Providers []Provider
	Ingest    ingest.Config
	Graph     graph.Config
	Analytics analytics.Config
	Snapshots snapshot.Config
	Bootstrap Bootstrap
	Prices    Prices
	Cron      scheduler.Config
}

// Defaults returns the configuration dumpconfig prints: every knob at
// its built-in value, no store target and no providers.
func Defaults() Config {
	return Config{
		Node: Node{
			LogLevel:   "info",
			LogMaxMB:   100,
			LogBackups: 10,
			LogMaxAge:  30,
		},
		Mongo: Mongo{
			URI:      "mongodb://127.0.0.1:27017",
			Database: "argus",
			Timeout:  10 * time.Second,
		},
		Ingest: ingest.Config{
			Sleep:    ingest.DefaultSleep,
			MaxBurst: ingest.DefaultMaxBurst,
			Mode:     ingest.ModeStandard,
		},
		Graph: graph.Config{
			Lookback:   graph.DefaultLookback,
			MaxEvents:  graph.DefaultMaxEvents,
			MaxAnchors: graph.DefaultMaxAnchors,
		},
		Analytics: analytics.Config{
			TTL:       analytics.DefaultTTL,
			MaxEvents: analytics.DefaultMaxEvents,
		},
		Snapshots: snapshot.Config{
			MaxActors: snapshot.DefaultMaxActors,
			MaxEdges:  snapshot.DefaultMaxEdges,
			KeepCount: snapshot.DefaultKeepCount,
		},
		Bootstrap: Bootstrap{
			Workers:        2,
			PollInterval:   bootstrap.DefaultPollInterval,
			LookbackBlocks: bootstrap.DefaultLookbackBlocks,
			MaxAttempts:    bootstrap.DefaultMaxAttempts,
			RetryBase:      bootstrap.DefaultRetryBase,
			RetryMax:       bootstrap.DefaultRetryMax,
		},
		Prices: Prices{
			Staleness: 5 * time.Minute,
		},
		Cron: scheduler.Config{
			Relations:     scheduler.DefaultRelationsSpec,
			Snapshots:     scheduler.DefaultSnapshotsSpec,
			Health:        scheduler.DefaultHealthSpec,
			ErrorReset:    scheduler.DefaultErrorResetSpec,
			ProviderFlush: scheduler.DefaultProviderFlushSpec,
			JobTimeout:    scheduler.DefaultJobTimeout,
		},
	}
}

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var rpcSchemes = map[string]bool{
	"http": true, "https": true, "ws": true, "wss": true,
}

// Check validates the configuration before anything is dialed. It
// returns the first problem found.
func (c *Config) Check() error {
	if c.Node.LogLevel != "" && !logLevels[strings.ToLower(c.Node.LogLevel)] {
		return fmt.Errorf("unknown Node.LogLevel %q", c.Node.LogLevel)
	}
	if c.Mongo.URI == "" {
		return errors.New("empty Mongo.URI")
	}
	if !strings.HasPrefix(c.Mongo.URI, "mongodb://") && !strings.HasPrefix(c.Mongo.URI, "mongodb+srv://") {
		return fmt.Errorf("Mongo.URI %q is not a mongodb:// or mongodb+srv:// URI", c.Mongo.URI)
	}
	if c.Mongo.Database == "" {
		return errors.New("empty Mongo.Database")
	}
	for _, tag := range c.Ingest.Networks {
		if !params.IsKnownNetwork(tag) {
			return fmt.Errorf("unknown network %q in Ingest.Networks", tag)
		}
	}
	for _, tag := range c.Ingest.LimitedChains {
		if !params.IsKnownNetwork(tag) {
			return fmt.Errorf("unknown network %q in Ingest.LimitedChains", tag)
		}
	}
	switch c.Ingest.Mode {
	case "", ingest.ModeLimited, ingest.ModeStandard, ingest.ModeFull:
	case ingest.ModeBoost:
		return errors.New("Ingest.Mode BOOST is runtime-only, use the boost control")
	default:
		return fmt.Errorf("unknown Ingest.Mode %q", c.Ingest.Mode)
	}
	for _, name := range c.Ingest.Stages {
		if !knownStage(name) {
			return fmt.Errorf("unknown stage %q in Ingest.Stages, valid: %s",
				name, strings.Join(ingest.AllStageNames(), ", "))
		}
	}
	if err := c.checkProviders(); err != nil {
		return err
	}
	if c.Bootstrap.Workers < 0 {
		return fmt.Errorf("negative Bootstrap.Workers %d", c.Bootstrap.Workers)
	}
	if c.Bootstrap.MaxAttempts < 0 {
		return fmt.Errorf("negative Bootstrap.MaxAttempts %d", c.Bootstrap.MaxAttempts)
	}
	if c.Prices.Endpoint != "" {
		u, err := url.Parse(c.Prices.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("Prices.Endpoint %q is not an http(s) URL", c.Prices.Endpoint)
		}
	}
	if c.Cron.JobTimeout < 0 {
		return fmt.Errorf("negative Cron.JobTimeout %v", c.Cron.JobTimeout)
	}
	return nil
}

func (c *Config) checkProviders() error {
	seen := make(map[string]bool, len(c.Providers))
	covered := make(map[string]bool)
	for i, p := range c.Providers {
		tag := strings.ToUpper(p.Network)
		if tag == "" {
			return fmt.Errorf("provider %d: empty Network", i)
		}
		if !params.IsKnownNetwork(tag) {
			return fmt.Errorf("provider %d: unknown network %q", i, p.Network)
		}
		if p.ID == "" {
			return fmt.Errorf("provider %d (%s): empty ID", i, tag)
		}
		key := tag + "/" + p.ID
		if seen[key] {
			return fmt.Errorf("duplicate provider %s", key)
		}
		seen[key] = true
		u, err := url.Parse(p.URL)
		if err != nil || u.Host == "" || !rpcSchemes[u.Scheme] {
			return fmt.Errorf("provider %s: URL %q is not an http(s) or ws(s) URL", key, p.URL)
		}
		if p.Weight < 0 {
			return fmt.Errorf("provider %s: negative Weight %d", key, p.Weight)
		}
		if p.RateLimit < 0 {
			return fmt.Errorf("provider %s: negative RateLimit %d", key, p.RateLimit)
		}
		covered[tag] = true
	}
	for _, tag := range c.ActiveNetworks() {
		if !covered[tag] {
			return fmt.Errorf("network %s has no providers", tag)
		}
	}
	return nil
}

func knownStage(name string) bool {
	for _, s := range ingest.AllStageNames() {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

// ActiveNetworks is the chain subset the daemon will run: the
// configured list, or every known network when the list is empty.
func (c *Config) ActiveNetworks() []string {
	if len(c.Ingest.Networks) > 0 {
		return c.Ingest.Networks
	}
	all := params.AllNetworks()
	tags := make([]string, 0, len(all))
	for _, n := range all {
		tags = append(tags, n.Tag)
	}
	return tags
}

// PoolConfig groups the flat provider list into the pool layout,
// keyed by uppercase network tag.
func (c *Config) PoolConfig() rpcpool.Config {
	out := rpcpool.Config{Networks: make(map[string][]rpcpool.ProviderConfig)}
	for _, p := range c.Providers {
		tag := strings.ToUpper(p.Network)
		out.Networks[tag] = append(out.Networks[tag], rpcpool.ProviderConfig{
			ID:        p.ID,
			URL:       p.URL,
			Weight:    p.Weight,
			RateLimit: p.RateLimit,
			Cooldown:  p.Cooldown,
			Timeout:   p.Timeout,
			Disabled:  p.Disabled,
		})
	}
	return out
}

// BootstrapConfig extracts the worker tuning.
func (c *Config) BootstrapConfig() bootstrap.Config {
	return bootstrap.Config{
		PollInterval:   c.Bootstrap.PollInterval,
		LookbackBlocks: c.Bootstrap.LookbackBlocks,
		MaxAttempts:    c.Bootstrap.MaxAttempts,
		RetryBase:      c.Bootstrap.RetryBase,
		RetryMax:       c.Bootstrap.RetryMax,
	}
}
