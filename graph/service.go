// Package graph aggregates the unified ledger into weighted relation
// edges. Scoring is pure; the service wraps it with the ledger reads
// and edge writes.
package graph

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/types"
)

const (
	// DefaultLookback is the aggregation window over the ledger.
	DefaultLookback = 90 * 24 * time.Hour

	// DefaultMaxEvents caps how much of one anchor's history a single
	// pass reads.
	DefaultMaxEvents = 5000

	// DefaultMaxAnchors caps one recompute pass.
	DefaultMaxAnchors = 500
)

var (
	anchorsMeter = metrics.NewRegisteredMeter("graph/anchors", nil)
	edgesMeter   = metrics.NewRegisteredMeter("graph/edges", nil)
	passTimer    = metrics.NewRegisteredTimer("graph/pass", nil)
)

// Ledger is the event read surface the aggregator consumes.
type Ledger interface {
	TransfersInvolving(ctx context.Context, network, address string, since time.Time, limit int64) ([]types.UnifiedEvent, error)
	ActiveAddresses(ctx context.Context, network string, since time.Time, limit int) ([]string, error)
}

// EdgeStore is where aggregates land and get read back.
type EdgeStore interface {
	UpsertRelations(ctx context.Context, edges []types.AggregatedRelation) error
	RelationsForAnchor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error)
	LegacyRelationsForAnchor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error)
}

// Config tunes one aggregation service.
type Config struct {
	Networks   []string
	Lookback   time.Duration
	MaxEvents  int64
	MaxAnchors int
}

// Service runs relation aggregation passes.
type Service struct {
	log    log.Logger
	ledger Ledger
	edges  EdgeStore
	reg    *labels.Registry
	cfg    Config
	now    func() time.Time
}

// NewService wires an aggregation service.
func NewService(ledger Ledger, edges EdgeStore, reg *labels.Registry, cfg Config, logger log.Logger) *Service {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.MaxAnchors <= 0 {
		cfg.MaxAnchors = DefaultMaxAnchors
	}
	if reg == nil {
		reg = labels.Default()
	}
	return &Service{
		log:    logger.New("module", "graph"),
		ledger: ledger,
		edges:  edges,
		reg:    reg,
		cfg:    cfg,
		now:    time.Now,
	}
}

// RecomputeAnchor rebuilds and persists the edges of one anchor from
// the ledger. When the ledger has nothing for the anchor the legacy
// precomputed rows are returned instead and nothing is written.
func (s *Service) RecomputeAnchor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error) {
	since := s.now().Add(-s.cfg.Lookback)
	events, err := s.ledger.TransfersInvolving(ctx, network, anchor, since, s.cfg.MaxEvents)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		s.log.Debug("No ledger events for anchor, serving legacy edges", "network", network, "anchor", anchor)
		return s.edges.LegacyRelationsForAnchor(ctx, network, anchor)
	}

	built := BuildForAnchor(anchor, network, events, s.reg, s.now())
	if err := s.edges.UpsertRelations(ctx, built); err != nil {
		return nil, err
	}
	anchorsMeter.Mark(1)
	edgesMeter.Mark(int64(len(built)))
	return built, nil
}

// RelationsFor reads the stored edges of an anchor, falling back to
// the legacy collection when aggregation has not covered it yet.
func (s *Service) RelationsFor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error) {
	edges, err := s.edges.RelationsForAnchor(ctx, network, anchor)
	if err != nil {
		return nil, err
	}
	if len(edges) > 0 {
		return edges, nil
	}
	return s.edges.LegacyRelationsForAnchor(ctx, network, anchor)
}

// RecomputeActive refreshes the edges of every recently active
// address, network by network. Individual anchor failures are logged
// and skipped so one bad document cannot starve the pass.
func (s *Service) RecomputeActive(ctx context.Context) error {
	defer func(start time.Time) { passTimer.Update(time.Since(start)) }(s.now())

	since := s.now().Add(-s.cfg.Lookback)
	for _, network := range s.cfg.Networks {
		anchors, err := s.ledger.ActiveAddresses(ctx, network, since, s.cfg.MaxAnchors)
		if err != nil {
			return err
		}
		var edges int
		for _, anchor := range anchors {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			built, err := s.RecomputeAnchor(ctx, network, anchor)
			if err != nil {
				s.log.Warn("Anchor aggregation failed", "network", network, "anchor", anchor, "err", err)
				continue
			}
			edges += len(built)
		}
		s.log.Info("Relation pass complete", "network", network, "anchors", len(anchors), "edges", edges)
	}
	return nil
}
