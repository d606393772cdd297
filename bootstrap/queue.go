// Package bootstrap lazily indexes subjects the ledger has never
// seen. The resolver surface enqueues a wallet or token, a worker
// claims the task, pulls its transfer history through the adapter and
// publishes progress so that user-facing status stays honest.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/arguslabs/argus/types"
)

// Queue priorities, lower first. Tokens jump wallets because a token
// page blocks on a single scan while a wallet page degrades softly.
const (
	PriorityToken  = 2
	PriorityWallet = 3
)

var (
	enqueuedMeter = metrics.NewRegisteredMeter("bootstrap/enqueued", nil)
	dedupedMeter  = metrics.NewRegisteredMeter("bootstrap/deduped", nil)
)

// etaTable holds the observed wall-clock cost of a fresh bootstrap
// per subject type, in seconds. A wallet needs two log scans, a token
// one.
var etaTable = map[types.SubjectType]int{
	types.SubjectWallet: 150,
	types.SubjectToken:  90,
}

// EstimateETA returns the expected seconds until a freshly enqueued
// subject of this type completes.
func EstimateETA(subject types.SubjectType) int {
	if eta, ok := etaTable[subject]; ok {
		return eta
	}
	return 120
}

// TaskStore is the slice of the persistence layer the queue and the
// worker drive. *store.Store satisfies it.
type TaskStore interface {
	EnqueueTask(ctx context.Context, task *types.BootstrapTask) (*types.BootstrapTask, bool, error)
	ClaimNextTask(ctx context.Context, now time.Time) (*types.BootstrapTask, error)
	UpdateTaskProgress(ctx context.Context, key string, progress int, step string, etaSeconds int) error
	CompleteTask(ctx context.Context, key string) error
	FailTask(ctx context.Context, key, cause string, retryAt time.Time) error
	MarkCallbackSent(ctx context.Context, key string) (bool, error)
	TaskByKey(ctx context.Context, key string) (*types.BootstrapTask, error)
}

// EnqueueRequest asks for a subject to be indexed.
type EnqueueRequest struct {
	Subject  types.SubjectType
	Network  string
	Address  string
	Priority int // zero means the subject default
}

// EnqueueResult reports whether the request created a new task.
// Queued is false when an equal task already existed; Task then
// carries that task's current state.
type EnqueueResult struct {
	Queued bool
	Task   *types.BootstrapTask
}

// Status is the polling view of a task.
type Status struct {
	Exists     bool             `json:"exists"`
	Status     types.TaskStatus `json:"status,omitempty"`
	Progress   int              `json:"progress"`
	Step       string           `json:"step,omitempty"`
	EtaSeconds int              `json:"etaSeconds"`
}

// Queue is the enqueue/poll surface over the task collection.
type Queue struct {
	log log.Logger
	db  TaskStore
	now func() time.Time
}

// NewQueue wires a queue over db.
func NewQueue(db TaskStore, logger log.Logger) *Queue {
	return &Queue{
		log: logger.New("module", "bootstrap"),
		db:  db,
		now: time.Now,
	}
}

// Enqueue registers a subject for indexing. Concurrent calls with an
// equal subject collapse into one task through the dedup key; the
// loser gets the winner's task back with Queued=false.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if req.Subject != types.SubjectWallet && req.Subject != types.SubjectToken {
		return EnqueueResult{}, fmt.Errorf("unknown subject type %q", req.Subject)
	}
	if !common.IsHexAddress(req.Address) {
		return EnqueueResult{}, fmt.Errorf("invalid address %q", req.Address)
	}
	if req.Network == "" {
		return EnqueueResult{}, fmt.Errorf("missing network")
	}

	priority := req.Priority
	if priority <= 0 {
		priority = defaultPriority(req.Subject)
	}
	now := q.now().UTC()
	task := &types.BootstrapTask{
		DedupKey:    types.BootstrapDedupKey(req.Subject, req.Network, req.Address),
		SubjectType: req.Subject,
		Network:     strings.ToUpper(req.Network),
		Address:     strings.ToLower(req.Address),
		Priority:    priority,
		Status:      types.TaskQueued,
		EtaSeconds:  EstimateETA(req.Subject),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, existed, err := q.db.EnqueueTask(ctx, task)
	if err != nil {
		return EnqueueResult{}, err
	}
	if existed {
		dedupedMeter.Mark(1)
		return EnqueueResult{Queued: false, Task: stored}, nil
	}
	enqueuedMeter.Mark(1)
	q.log.Info("Bootstrap task enqueued", "key", task.DedupKey, "priority", priority)
	return EnqueueResult{Queued: true, Task: stored}, nil
}

// GetStatus reports the current state of a subject's task. A subject
// never enqueued comes back with Exists=false.
func (q *Queue) GetStatus(ctx context.Context, subject types.SubjectType, network, address string) (Status, error) {
	task, err := q.db.TaskByKey(ctx, types.BootstrapDedupKey(subject, network, address))
	if err != nil {
		return Status{}, err
	}
	if task == nil {
		return Status{}, nil
	}
	return Status{
		Exists:     true,
		Status:     task.Status,
		Progress:   task.Progress,
		Step:       task.Step,
		EtaSeconds: task.EtaSeconds,
	}, nil
}

func defaultPriority(subject types.SubjectType) int {
	if subject == types.SubjectToken {
		return PriorityToken
	}
	return PriorityWallet
}
