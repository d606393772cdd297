package types

import "time"

// SyncStatus is the operating status of one chain's ingestion.
type SyncStatus string

const (
	StatusOK       SyncStatus = "OK"
	StatusDegraded SyncStatus = "DEGRADED"
	StatusPaused   SyncStatus = "PAUSED"
	StatusError    SyncStatus = "ERROR"
)

// ChainSyncState is the single source of truth for one network's
// ingestion progress. It is keyed by the uppercase network tag and
// mutated only by the sync state manager; everything else reads.
type ChainSyncState struct {
	Chain               string     `bson:"_id" json:"chain"`
	ChainID             uint64     `bson:"chainId" json:"chainId"`
	StartBlock          uint64     `bson:"startBlock" json:"startBlock"`
	LastSyncedBlock     uint64     `bson:"lastSyncedBlock" json:"lastSyncedBlock"`
	LastHeadBlock       uint64     `bson:"lastHeadBlock" json:"lastHeadBlock"`
	Status              SyncStatus `bson:"status" json:"status"`
	PauseReason         string     `bson:"pauseReason,omitempty" json:"pauseReason,omitempty"`
	ErrorCount          int        `bson:"errorCount" json:"errorCount"`
	ConsecutiveErrors   int        `bson:"consecutiveErrors" json:"consecutiveErrors"`
	LastError           string     `bson:"lastError,omitempty" json:"lastError,omitempty"`
	LastErrorAt         time.Time  `bson:"lastErrorAt,omitempty" json:"lastErrorAt,omitempty"`
	LastSuccessAt       time.Time  `bson:"lastSuccessAt,omitempty" json:"lastSuccessAt,omitempty"`
	TotalEventsIngested uint64     `bson:"totalEventsIngested" json:"totalEventsIngested"`
	AvgEventsPerBlock   float64    `bson:"avgEventsPerBlock" json:"avgEventsPerBlock"`
	AvgLatencyMs        float64    `bson:"avgLatencyMs" json:"avgLatencyMs"`
	UpdatedAt           time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// Lag returns how far the synced cursor trails the known head.
func (s *ChainSyncState) Lag() uint64 {
	if s.LastHeadBlock <= s.LastSyncedBlock {
		return 0
	}
	return s.LastHeadBlock - s.LastSyncedBlock
}

// Consumable reports whether the chain may hand out windows. Paused
// chains and chains parked in ERROR by a fatal condition are skipped
// until an operator resumes or resets them.
func (s *ChainSyncState) Consumable() bool {
	switch s.Status {
	case StatusPaused:
		return false
	case StatusError:
		return s.PauseReason == ""
	}
	return true
}

// Copy returns a value copy, letting callers hand out state without
// leaking the manager's mutable record.
func (s *ChainSyncState) Copy() ChainSyncState {
	return *s
}
