// Package snapshot freezes the aggregated layers into periodic
// SignalSnapshot documents. Only materialized aggregates are read,
// never the raw ledger, so a snapshot is reproducible from what the
// aggregation layer said at that instant.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"

	"github.com/arguslabs/argus/types"
)

const (
	// DefaultMaxActors and DefaultMaxEdges bound a snapshot document.
	DefaultMaxActors = 100
	DefaultMaxEdges  = 250

	// DefaultKeepCount is the retained history per window.
	DefaultKeepCount = 24
)

// Burst blend over the per-actor scores.
const (
	burstActivityTerm = 0.6
	burstRecencyTerm  = 0.4
)

var (
	builtMeter  = metrics.NewRegisteredMeter("snapshot/built", nil)
	prunedMeter = metrics.NewRegisteredMeter("snapshot/pruned", nil)
	buildTimer  = metrics.NewRegisteredTimer("snapshot/build", nil)
)

// AnalyticsSource serves the actor side of a snapshot.
type AnalyticsSource interface {
	TopByInfluence(ctx context.Context, network string, limit int64) ([]types.NodeAnalytics, error)
}

// EdgeSource serves the corridor side.
type EdgeSource interface {
	TopRelations(ctx context.Context, network string, limit int64) ([]types.AggregatedRelation, error)
}

// SnapshotStore persists and trims frozen views.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap *types.SignalSnapshot) error
	PruneSnapshots(ctx context.Context, window types.SnapshotWindow, keep int) (int64, error)
	LatestSnapshot(ctx context.Context, window types.SnapshotWindow) (*types.SignalSnapshot, error)
}

// Config tunes the builder.
type Config struct {
	MaxActors int64
	MaxEdges  int64
	KeepCount int
}

// Builder materializes snapshots.
type Builder struct {
	log       log.Logger
	analytics AnalyticsSource
	edges     EdgeSource
	db        SnapshotStore
	cfg       Config
	now       func() time.Time
	newID     func() string
}

// NewBuilder wires a snapshot builder.
func NewBuilder(analytics AnalyticsSource, edges EdgeSource, db SnapshotStore, cfg Config, logger log.Logger) *Builder {
	if cfg.MaxActors <= 0 {
		cfg.MaxActors = DefaultMaxActors
	}
	if cfg.MaxEdges <= 0 {
		cfg.MaxEdges = DefaultMaxEdges
	}
	if cfg.KeepCount <= 0 {
		cfg.KeepCount = DefaultKeepCount
	}
	return &Builder{
		log:       logger.New("module", "snapshot"),
		analytics: analytics,
		edges:     edges,
		db:        db,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Build freezes one window, persists it and prunes history beyond
// the keep count.
func (b *Builder) Build(ctx context.Context, window types.SnapshotWindow) (*types.SignalSnapshot, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("unsupported snapshot window %q", window)
	}
	defer func(start time.Time) { buildTimer.Update(time.Since(start)) }(b.now())

	now := b.now().UTC()
	horizon := now.Add(-windowDuration(window))

	profiles, err := b.analytics.TopByInfluence(ctx, "", b.cfg.MaxActors)
	if err != nil {
		return nil, fmt.Errorf("reading top actors: %w", err)
	}
	relations, err := b.edges.TopRelations(ctx, "", b.cfg.MaxEdges)
	if err != nil {
		return nil, fmt.Errorf("reading top edges: %w", err)
	}

	snap := &types.SignalSnapshot{
		SnapshotID: b.newID(),
		Window:     window,
		SnapshotAt: now,
	}

	for i := range profiles {
		na := &profiles[i]
		if na.LastSeen.Before(horizon) {
			continue
		}
		snap.Actors = append(snap.Actors, types.SnapshotActor{
			Address:    na.Address,
			Network:    na.Network,
			InflowUsd:  na.InVolumeUsd,
			OutflowUsd: na.OutVolumeUsd,
			NetFlowUsd: na.NetFlowUsd,
			TxCount:    na.TxCount,
			Influence:  na.InfluenceScore,
			BurstScore: burstActivityTerm*na.ActivityScore + burstRecencyTerm*na.RecencyScore,
			Trend:      trend(na),
			EntityName: na.EntityName,
		})
	}

	var totalVolume, confSum float64
	for i := range relations {
		rel := &relations[i]
		if rel.LastSeen.Before(horizon) {
			continue
		}
		snap.Edges = append(snap.Edges, types.SnapshotEdge{
			From:       rel.From,
			To:         rel.To,
			Network:    rel.Network,
			VolumeUsd:  rel.VolumeUsd,
			TxCount:    rel.TxCount,
			Confidence: rel.Confidence,
			Weight:     rel.Weight,
		})
		totalVolume += rel.VolumeUsd
		confSum += rel.Confidence
	}

	snap.Stats = types.SnapshotStats{
		ActorCount:     len(snap.Actors),
		EdgeCount:      len(snap.Edges),
		TotalVolumeUsd: totalVolume,
	}
	if len(snap.Edges) > 0 {
		snap.Stats.AvgConfidence = confSum / float64(len(snap.Edges))
	}

	if err := b.db.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	builtMeter.Mark(1)

	pruned, err := b.db.PruneSnapshots(ctx, window, b.cfg.KeepCount)
	if err != nil {
		b.log.Warn("Snapshot prune failed", "window", window, "err", err)
	} else if pruned > 0 {
		prunedMeter.Mark(pruned)
	}

	b.log.Info("Snapshot built", "window", window, "actors", len(snap.Actors), "edges", len(snap.Edges), "pruned", pruned)
	return snap, nil
}

// BuildAll freezes every window.
func (b *Builder) BuildAll(ctx context.Context) error {
	for _, w := range []types.SnapshotWindow{types.Window24h, types.Window7d, types.Window30d} {
		if _, err := b.Build(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// Latest reads back the newest frozen view of a window.
func (b *Builder) Latest(ctx context.Context, window types.SnapshotWindow) (*types.SignalSnapshot, error) {
	return b.db.LatestSnapshot(ctx, window)
}

func windowDuration(w types.SnapshotWindow) time.Duration {
	switch w {
	case types.Window24h:
		return 24 * time.Hour
	case types.Window7d:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// trend reads an actor's direction out of its recency and flow. An
// actor active at the window edge with positive pressure is rising,
// one gone quiet is falling.
func trend(na *types.NodeAnalytics) types.ParticipationTrend {
	switch {
	case na.RecencyScore >= 0.7 && na.ActivityScore >= 0.3:
		return types.TrendRising
	case na.RecencyScore < 0.3:
		return types.TrendFalling
	default:
		return types.TrendStable
	}
}
