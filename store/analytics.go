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

// UpsertNodeAnalytics writes one address profile keyed by
// (address, network).
func (s *Store) UpsertNodeAnalytics(ctx context.Context, na *types.NodeAnalytics) error {
	filter := bson.M{"address": na.Address, "network": na.Network}
	_, err := s.analytics().ReplaceOne(ctx, filter, na, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting analytics for %s: %w", na.Address, err)
	}
	return nil
}

// NodeAnalyticsFor reads one address profile. A missing profile
// returns nil without error.
func (s *Store) NodeAnalyticsFor(ctx context.Context, network, address string) (*types.NodeAnalytics, error) {
	var out types.NodeAnalytics
	err := s.analytics().FindOne(ctx, bson.M{"address": address, "network": network}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading analytics for %s: %w", address, err)
	}
	return &out, nil
}

// NodeAnalyticsBatch reads profiles for a set of addresses on one
// network. Missing addresses are simply absent from the result.
func (s *Store) NodeAnalyticsBatch(ctx context.Context, network string, addresses []string) ([]types.NodeAnalytics, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	filter := bson.M{"network": network, "address": bson.M{"$in": addresses}}
	cur, err := s.analytics().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("batch reading analytics: %w", err)
	}
	var out []types.NodeAnalytics
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding analytics batch: %w", err)
	}
	return out, nil
}

// TopByInfluence returns the highest scored profiles, optionally
// bound to one network.
func (s *Store) TopByInfluence(ctx context.Context, network string, limit int64) ([]types.NodeAnalytics, error) {
	filter := bson.M{}
	if network != "" {
		filter["network"] = network
	}
	opts := options.Find().SetSort(bson.D{{Key: "influenceScore", Value: -1}}).SetLimit(limit)
	cur, err := s.analytics().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying top influence: %w", err)
	}
	var out []types.NodeAnalytics
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding top influence: %w", err)
	}
	return out, nil
}
