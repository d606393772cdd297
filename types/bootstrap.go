package types

import (
	"fmt"
	"strings"
	"time"
)

// SubjectType names what a bootstrap task indexes.
type SubjectType string

const (
	SubjectWallet SubjectType = "wallet"
	SubjectToken  SubjectType = "token"
)

// TaskStatus is the lifecycle state of a bootstrap task.
// queued -> running -> done | failed; terminal states are sticky.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Terminal reports whether s is an end state.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// BootstrapTask is one lazy-index request for a subject the ledger
// has not seen yet. The dedup key doubles as the document id, which
// is what makes concurrent enqueues collapse into one task.
type BootstrapTask struct {
	DedupKey     string      `bson:"_id" json:"dedupKey"`
	SubjectType  SubjectType `bson:"subjectType" json:"subjectType"`
	Network      string      `bson:"network" json:"network"`
	Address      string      `bson:"address" json:"address"`
	Priority     int         `bson:"priority" json:"priority"`
	Status       TaskStatus  `bson:"status" json:"status"`
	Attempts     int         `bson:"attempts" json:"attempts"`
	Progress     int         `bson:"progress" json:"progress"`
	Step         string      `bson:"step,omitempty" json:"step,omitempty"`
	EtaSeconds   int         `bson:"etaSeconds" json:"etaSeconds"`
	NotBefore    time.Time   `bson:"notBefore" json:"notBefore"`
	LastError    string      `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CallbackSent bool        `bson:"callbackSent" json:"callbackSent"`
	CreatedAt    time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time   `bson:"updatedAt" json:"updatedAt"`
	CompletedAt  time.Time   `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// BootstrapDedupKey builds the unique key for a subject. Addresses
// are lowercased and network tags uppercased so that equal subjects
// collide regardless of caller formatting.
func BootstrapDedupKey(subject SubjectType, network, address string) string {
	return fmt.Sprintf("%s:%s:%s", subject, strings.ToUpper(network), strings.ToLower(address))
}
