package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arguslabs/argus/types"
)

// InsertSnapshot appends one materialized snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap *types.SignalSnapshot) error {
	if _, err := s.snapshots().InsertOne(ctx, snap); err != nil {
		return fmt.Errorf("inserting %s snapshot: %w", snap.Window, err)
	}
	return nil
}

// LatestSnapshot reads the newest snapshot of one window; nil when
// none has been built yet.
func (s *Store) LatestSnapshot(ctx context.Context, window types.SnapshotWindow) (*types.SignalSnapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "snapshotAt", Value: -1}})
	var snap types.SignalSnapshot
	err := s.snapshots().FindOne(ctx, bson.M{"window": window}, opts).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest %s snapshot: %w", window, err)
	}
	return &snap, nil
}

// PruneSnapshots deletes everything beyond the keep newest snapshots
// of one window and reports how many went away.
func (s *Store) PruneSnapshots(ctx context.Context, window types.SnapshotWindow, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "snapshotAt", Value: -1}}).
		SetSkip(int64(keep)).
		SetProjection(bson.M{"_id": 1})
	cur, err := s.snapshots().Find(ctx, bson.M{"window": window}, opts)
	if err != nil {
		return 0, fmt.Errorf("listing prunable %s snapshots: %w", window, err)
	}
	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &stale); err != nil {
		return 0, fmt.Errorf("decoding prunable %s snapshots: %w", window, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	ids := make([]string, len(stale))
	for i := range stale {
		ids[i] = stale[i].ID
	}
	res, err := s.snapshots().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("pruning %s snapshots: %w", window, err)
	}
	return res.DeletedCount, nil
}
