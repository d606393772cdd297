package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arguslabs/argus/types"
)

// UpsertRelations writes one aggregation pass, keyed by the
// (from, to, network) identity of each edge.
func (s *Store) UpsertRelations(ctx context.Context, edges []types.AggregatedRelation) error {
	if len(edges) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(edges))
	for i := range edges {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"from": edges[i].From, "to": edges[i].To, "network": edges[i].Network}).
			SetReplacement(edges[i]).
			SetUpsert(true)
	}
	_, err := s.relations().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("upserting %d relations: %w", len(edges), err)
	}
	return nil
}

// RelationsForAnchor returns the aggregated edges touching one
// address on one network.
func (s *Store) RelationsForAnchor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error) {
	filter := bson.M{
		"network": network,
		"$or": bson.A{
			bson.M{"from": anchor},
			bson.M{"to": anchor},
		},
	}
	cur, err := s.relations().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("querying relations for %s: %w", anchor, err)
	}
	var out []types.AggregatedRelation
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding relations for %s: %w", anchor, err)
	}
	return out, nil
}

// TopRelations returns the strongest edges on a network by weight.
// An empty network spans all of them.
func (s *Store) TopRelations(ctx context.Context, network string, limit int64) ([]types.AggregatedRelation, error) {
	filter := bson.M{}
	if network != "" {
		filter["network"] = network
	}
	opts := options.Find().SetSort(bson.D{{Key: "weight", Value: -1}}).SetLimit(limit)
	cur, err := s.relations().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying top relations: %w", err)
	}
	var out []types.AggregatedRelation
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding top relations: %w", err)
	}
	return out, nil
}

// legacyEdge is the document shape of the pre-aggregation relations
// collection, kept readable for deployments that have not been
// re-aggregated yet.
type legacyEdge struct {
	From      string  `bson:"from"`
	To        string  `bson:"to"`
	Network   string  `bson:"network"`
	TxCount   int     `bson:"txCount"`
	VolumeUsd float64 `bson:"volumeUsd"`
}

// LegacyRelationsForAnchor reads the old relations collection with an
// exact lowercase address match and lifts the rows into the
// aggregated shape. Confidence fields stay zero; callers treat these
// rows as display-only.
func (s *Store) LegacyRelationsForAnchor(ctx context.Context, network, anchor string) ([]types.AggregatedRelation, error) {
	filter := bson.M{
		"network": network,
		"$or": bson.A{
			bson.M{"from": anchor},
			bson.M{"to": anchor},
		},
	}
	cur, err := s.legacyEdges().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("querying legacy relations for %s: %w", anchor, err)
	}
	var rows []legacyEdge
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decoding legacy relations for %s: %w", anchor, err)
	}
	out := make([]types.AggregatedRelation, len(rows))
	for i, r := range rows {
		direction := types.DirectionOut
		counterparty := r.To
		if r.To == anchor {
			direction = types.DirectionIn
			counterparty = r.From
		}
		out[i] = types.AggregatedRelation{
			From:         r.From,
			To:           r.To,
			Network:      r.Network,
			TxCount:      r.TxCount,
			VolumeUsd:    r.VolumeUsd,
			Direction:    direction,
			Counterparty: counterparty,
			Level:        types.ConfidenceLow,
		}
	}
	return out, nil
}
