package types

import "time"

// Direction orients a relation edge relative to its anchor address.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ConfidenceLevel buckets a confidence scalar for display.
type ConfidenceLevel string

const (
	ConfidenceLow      ConfidenceLevel = "LOW"
	ConfidenceMedium   ConfidenceLevel = "MEDIUM"
	ConfidenceHigh     ConfidenceLevel = "HIGH"
	ConfidenceVeryHigh ConfidenceLevel = "VERY_HIGH"
)

// AggregatedRelation is a directed edge aggregate between two
// addresses on one network, rolled up from the unified ledger over a
// look-back window. Uniqueness is (from, to, network).
type AggregatedRelation struct {
	From         string          `bson:"from" json:"from"`
	To           string          `bson:"to" json:"to"`
	Network      string          `bson:"network" json:"network"`
	TxCount      int             `bson:"txCount" json:"txCount"`
	VolumeUsd    float64         `bson:"volumeUsd" json:"volumeUsd"`
	VolumeNative string          `bson:"volumeNative" json:"volumeNative"`
	AvgTxSize    float64         `bson:"avgTxSize" json:"avgTxSize"`
	FirstSeen    time.Time       `bson:"firstSeen" json:"firstSeen"`
	LastSeen     time.Time       `bson:"lastSeen" json:"lastSeen"`
	Direction    Direction       `bson:"direction" json:"direction"`
	Counterparty string          `bson:"counterparty" json:"counterparty"`
	Tokens       []string        `bson:"tokens" json:"tokens"`
	Confidence   float64         `bson:"confidence" json:"confidence"`
	Level        ConfidenceLevel `bson:"confidenceLevel" json:"confidenceLevel"`
	Weight       float64         `bson:"weight" json:"weight"`
	EntityType   string          `bson:"entityType,omitempty" json:"entityType,omitempty"`
	EntityName   string          `bson:"entityName,omitempty" json:"entityName,omitempty"`
	UpdatedAt    time.Time       `bson:"updatedAt" json:"updatedAt"`
}
