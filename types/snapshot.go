package types

import "time"

// SnapshotWindow is the time horizon a snapshot freezes.
type SnapshotWindow string

const (
	Window24h SnapshotWindow = "24h"
	Window7d  SnapshotWindow = "7d"
	Window30d SnapshotWindow = "30d"
)

// Valid reports whether w is a supported snapshot horizon.
func (w SnapshotWindow) Valid() bool {
	return w == Window24h || w == Window7d || w == Window30d
}

// ParticipationTrend describes how an actor's activity is moving
// within a snapshot window.
type ParticipationTrend string

const (
	TrendRising  ParticipationTrend = "rising"
	TrendStable  ParticipationTrend = "stable"
	TrendFalling ParticipationTrend = "falling"
)

// SnapshotActor is one address entry in a frozen view.
type SnapshotActor struct {
	Address    string             `bson:"address" json:"address"`
	Network    string             `bson:"network" json:"network"`
	InflowUsd  float64            `bson:"inflowUsd" json:"inflowUsd"`
	OutflowUsd float64            `bson:"outflowUsd" json:"outflowUsd"`
	NetFlowUsd float64            `bson:"netFlowUsd" json:"netFlowUsd"`
	TxCount    int                `bson:"txCount" json:"txCount"`
	Influence  float64            `bson:"influence" json:"influence"`
	BurstScore float64            `bson:"burstScore" json:"burstScore"`
	Trend      ParticipationTrend `bson:"trend" json:"trend"`
	EntityName string             `bson:"entityName,omitempty" json:"entityName,omitempty"`
}

// SnapshotEdge is one weighted corridor in a frozen view.
type SnapshotEdge struct {
	From       string  `bson:"from" json:"from"`
	To         string  `bson:"to" json:"to"`
	Network    string  `bson:"network" json:"network"`
	VolumeUsd  float64 `bson:"volumeUsd" json:"volumeUsd"`
	TxCount    int     `bson:"txCount" json:"txCount"`
	Confidence float64 `bson:"confidence" json:"confidence"`
	Weight     float64 `bson:"weight" json:"weight"`
}

// SnapshotStats summarizes a frozen view.
type SnapshotStats struct {
	ActorCount     int     `bson:"actorCount" json:"actorCount"`
	EdgeCount      int     `bson:"edgeCount" json:"edgeCount"`
	TotalVolumeUsd float64 `bson:"totalVolumeUsd" json:"totalVolumeUsd"`
	AvgConfidence  float64 `bson:"avgConfidence" json:"avgConfidence"`
}

// SignalSnapshot is a periodic frozen view of the aggregated layers.
// It is computed from materialized outputs only, never from the raw
// ledger, so re-reading a snapshot later reproduces exactly what the
// window looked like at snapshotAt.
type SignalSnapshot struct {
	SnapshotID string          `bson:"_id" json:"snapshotId"`
	Window     SnapshotWindow  `bson:"window" json:"window"`
	SnapshotAt time.Time       `bson:"snapshotAt" json:"snapshotAt"`
	Actors     []SnapshotActor `bson:"actors" json:"actors"`
	Edges      []SnapshotEdge  `bson:"edges" json:"edges"`
	Stats      SnapshotStats   `bson:"stats" json:"stats"`
}
