package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arguslabs/argus/types"
)

// EnqueueTask inserts a task. When a task with the same dedup key
// already exists the existing one comes back with existed=true; the
// insert is silently dropped.
func (s *Store) EnqueueTask(ctx context.Context, task *types.BootstrapTask) (*types.BootstrapTask, bool, error) {
	_, err := s.bootstrap().InsertOne(ctx, task)
	if err == nil {
		return task, false, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("enqueueing task %s: %w", task.DedupKey, err)
	}
	existing, err := s.TaskByKey(ctx, task.DedupKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Lost a race with a concurrent delete; treat as enqueued.
		return task, false, nil
	}
	return existing, true, nil
}

// ClaimNextTask atomically flips the best runnable task to running
// and returns it. Tasks are ordered by priority, then age. A nil task
// means the queue has nothing runnable.
func (s *Store) ClaimNextTask(ctx context.Context, now time.Time) (*types.BootstrapTask, error) {
	filter := bson.M{
		"status":    types.TaskQueued,
		"notBefore": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{"status": types.TaskRunning, "updatedAt": now},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var task types.BootstrapTask
	err := s.bootstrap().FindOneAndUpdate(ctx, filter, update, opts).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	return &task, nil
}

// UpdateTaskProgress records a phase boundary.
func (s *Store) UpdateTaskProgress(ctx context.Context, key string, progress int, step string, etaSeconds int) error {
	update := bson.M{"$set": bson.M{
		"progress":   progress,
		"step":       step,
		"etaSeconds": etaSeconds,
		"updatedAt":  time.Now().UTC(),
	}}
	if _, err := s.bootstrap().UpdateByID(ctx, key, update); err != nil {
		return fmt.Errorf("updating task %s progress: %w", key, err)
	}
	return nil
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, key string) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"status":      types.TaskDone,
		"progress":    100,
		"step":        "bootstrap_complete",
		"etaSeconds":  0,
		"updatedAt":   now,
		"completedAt": now,
	}}
	if _, err := s.bootstrap().UpdateByID(ctx, key, update); err != nil {
		return fmt.Errorf("completing task %s: %w", key, err)
	}
	return nil
}

// FailTask records a failed attempt. With retryAt set the task goes
// back to queued and becomes runnable at that time; otherwise it is
// terminally failed.
func (s *Store) FailTask(ctx context.Context, key, cause string, retryAt time.Time) error {
	set := bson.M{
		"lastError": cause,
		"updatedAt": time.Now().UTC(),
	}
	if retryAt.IsZero() {
		set["status"] = types.TaskFailed
	} else {
		set["status"] = types.TaskQueued
		set["notBefore"] = retryAt
	}
	if _, err := s.bootstrap().UpdateByID(ctx, key, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failing task %s: %w", key, err)
	}
	return nil
}

// MarkCallbackSent flips the callback flag exactly once. Only the
// first caller gets true; everyone racing it sees false.
func (s *Store) MarkCallbackSent(ctx context.Context, key string) (bool, error) {
	res, err := s.bootstrap().UpdateOne(ctx,
		bson.M{"_id": key, "callbackSent": false},
		bson.M{"$set": bson.M{"callbackSent": true, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("marking callback for %s: %w", key, err)
	}
	return res.ModifiedCount == 1, nil
}

// TaskByKey reads one task; nil when absent.
func (s *Store) TaskByKey(ctx context.Context, key string) (*types.BootstrapTask, error) {
	var task types.BootstrapTask
	err := s.bootstrap().FindOne(ctx, bson.M{"_id": key}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", key, err)
	}
	return &task, nil
}

// TasksByStatus lists tasks in one status, oldest first.
func (s *Store) TasksByStatus(ctx context.Context, status types.TaskStatus, limit int64) ([]types.BootstrapTask, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.bootstrap().Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing %s tasks: %w", status, err)
	}
	var out []types.BootstrapTask
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding %s tasks: %w", status, err)
	}
	return out, nil
}
