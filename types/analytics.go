package types

import "time"

// NodeAnalytics is the precomputed per-address, per-network metrics
// record. All derived scores are in [0,1].
type NodeAnalytics struct {
	Address         string    `bson:"address" json:"address"`
	Network         string    `bson:"network" json:"network"`
	InVolumeUsd     float64   `bson:"inVolumeUsd" json:"inVolumeUsd"`
	OutVolumeUsd    float64   `bson:"outVolumeUsd" json:"outVolumeUsd"`
	TotalVolumeUsd  float64   `bson:"totalVolumeUsd" json:"totalVolumeUsd"`
	NetFlowUsd      float64   `bson:"netFlowUsd" json:"netFlowUsd"`
	InTxCount       int       `bson:"inTxCount" json:"inTxCount"`
	OutTxCount      int       `bson:"outTxCount" json:"outTxCount"`
	TxCount         int       `bson:"txCount" json:"txCount"`
	UniqueInDegree  int       `bson:"uniqueInDegree" json:"uniqueInDegree"`
	UniqueOutDegree int       `bson:"uniqueOutDegree" json:"uniqueOutDegree"`
	HubScore        float64   `bson:"hubScore" json:"hubScore"`
	RecencyScore    float64   `bson:"recencyScore" json:"recencyScore"`
	ActivityScore   float64   `bson:"activityScore" json:"activityScore"`
	InfluenceScore  float64   `bson:"influenceScore" json:"influenceScore"`
	FirstSeen       time.Time `bson:"firstSeen" json:"firstSeen"`
	LastSeen        time.Time `bson:"lastSeen" json:"lastSeen"`
	EntityType      string    `bson:"entityType,omitempty" json:"entityType,omitempty"`
	EntityName      string    `bson:"entityName,omitempty" json:"entityName,omitempty"`
	Tags            []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updatedAt"`
}
