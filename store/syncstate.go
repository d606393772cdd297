package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arguslabs/argus/types"
)

// LoadSyncStates reads every chain cursor row.
func (s *Store) LoadSyncStates(ctx context.Context) ([]types.ChainSyncState, error) {
	cur, err := s.syncStates().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("loading sync states: %w", err)
	}
	var out []types.ChainSyncState
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding sync states: %w", err)
	}
	return out, nil
}

// SaveSyncState upserts one chain cursor row keyed by chain tag.
func (s *Store) SaveSyncState(ctx context.Context, state *types.ChainSyncState) error {
	_, err := s.syncStates().ReplaceOne(ctx,
		bson.M{"_id": state.Chain},
		state,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving sync state for %s: %w", state.Chain, err)
	}
	return nil
}

// SaveProviderStatuses upserts the pool snapshot rows keyed by
// (network, providerId).
func (s *Store) SaveProviderStatuses(ctx context.Context, rows []types.ProviderStatus) error {
	if len(rows) == 0 {
		return nil
	}
	coll := s.providers()
	for i := range rows {
		filter := bson.M{"network": rows[i].Network, "providerId": rows[i].ProviderID}
		if _, err := coll.ReplaceOne(ctx, filter, rows[i], options.Replace().SetUpsert(true)); err != nil {
			return fmt.Errorf("saving provider status %s/%s: %w", rows[i].Network, rows[i].ProviderID, err)
		}
	}
	return nil
}
