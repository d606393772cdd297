// Package types defines the data model shared by the ingestion
// pipeline and the aggregation layers: the unified event ledger row,
// per-chain sync state, planned block windows, aggregated relations,
// node analytics, bootstrap tasks and signal snapshots.
//
// All addresses and hashes are stored as lowercased hex strings.
// Monetary amounts carry the raw token quantity as a decimal string
// next to an optional USD normalization.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// EventType tags the decoded meaning of a ledger row.
type EventType string

const (
	EventTransfer    EventType = "TRANSFER"
	EventSwap        EventType = "SWAP"
	EventDeposit     EventType = "DEPOSIT"
	EventWithdrawal  EventType = "WITHDRAWAL"
	EventPoolCreated EventType = "POOL_CREATED"
)

// Valid reports whether t is one of the known event tags.
func (t EventType) Valid() bool {
	switch t {
	case EventTransfer, EventSwap, EventDeposit, EventWithdrawal, EventPoolCreated:
		return true
	}
	return false
}

// IngestionSource records which path wrote an event.
type IngestionSource string

const (
	SourceRPC       IngestionSource = "rpc"
	SourceBackfill  IngestionSource = "backfill"
	SourceBootstrap IngestionSource = "bootstrap"
)

// UnifiedEvent is one row of the append-only ledger. The document id
// is the replay key, so re-inserting the same on-chain event is a
// no-op at the store level.
type UnifiedEvent struct {
	ID           string          `bson:"_id" json:"eventId"`
	Network      string          `bson:"network" json:"network"`
	ChainID      uint64          `bson:"chainId" json:"chainId"`
	TxHash       string          `bson:"txHash" json:"txHash"`
	LogIndex     uint            `bson:"logIndex" json:"logIndex"`
	BlockNumber  uint64          `bson:"blockNumber" json:"blockNumber"`
	Timestamp    int64           `bson:"timestamp" json:"timestamp"`
	From         string          `bson:"from" json:"from"`
	To           string          `bson:"to" json:"to"`
	TokenAddress string          `bson:"tokenAddress,omitempty" json:"tokenAddress,omitempty"`
	Amount       string          `bson:"amount" json:"amount"`
	AmountUsd    float64         `bson:"amountUsd,omitempty" json:"amountUsd,omitempty"`
	EventType    EventType       `bson:"eventType" json:"eventType"`
	Source       IngestionSource `bson:"ingestionSource" json:"ingestionSource"`
}

// EventID derives the replay key of an event. The key must be stable
// across retries and across the main loop and bootstrap ingesting the
// same log, so it hashes the identifying triple only. SHA-256
// truncated to 16 bytes keeps collisions out of reach while staying
// short enough for an index key.
func EventID(network, txHash string, logIndex uint) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", strings.ToUpper(network), strings.ToLower(txHash), logIndex)))
	return hex.EncodeToString(h[:16])
}
