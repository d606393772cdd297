package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arguslabs/argus/types"
)

// InsertReport summarizes one batch write into the unified ledger.
type InsertReport struct {
	Inserted   int
	Duplicates int
	Failed     int
}

// InsertEvents appends a batch. The write is unordered so duplicate
// IDs from replayed windows never block the rest of the batch; they
// are counted, not failed.
func (s *Store) InsertEvents(ctx context.Context, events []types.UnifiedEvent) (InsertReport, error) {
	if len(events) == 0 {
		return InsertReport{}, nil
	}
	docs := make([]interface{}, len(events))
	for i := range events {
		docs[i] = events[i]
	}

	_, err := s.events().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return InsertReport{Inserted: len(events)}, nil
	}

	dups, failed, ok := splitBulkError(err)
	if !ok {
		return InsertReport{Failed: len(events)}, fmt.Errorf("inserting %d events: %w", len(events), err)
	}
	report := InsertReport{
		Inserted:   len(events) - dups - failed,
		Duplicates: dups,
		Failed:     failed,
	}
	if failed > 0 {
		return report, fmt.Errorf("inserting events: %d writes failed: %w", failed, err)
	}
	return report, nil
}

// splitBulkError divides a bulk write failure into duplicate-key hits
// and genuine failures. The third return is false when err is not a
// bulk write error at all.
func splitBulkError(err error) (dups, failed int, ok bool) {
	var bulk mongo.BulkWriteException
	if !errors.As(err, &bulk) {
		return 0, 0, false
	}
	for _, we := range bulk.WriteErrors {
		if we.Code == 11000 {
			dups++
			continue
		}
		failed++
	}
	return dups, failed, true
}

// TransfersInvolving returns the most recent transfers an address
// sent or received on one network since a cutoff, newest first.
func (s *Store) TransfersInvolving(ctx context.Context, network, address string, since time.Time, limit int64) ([]types.UnifiedEvent, error) {
	filter := bson.M{
		"network":   network,
		"eventType": types.EventTransfer,
		"$or": bson.A{
			bson.M{"from": address},
			bson.M{"to": address},
		},
	}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since.Unix()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.events().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying transfers for %s: %w", address, err)
	}
	var out []types.UnifiedEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding transfers for %s: %w", address, err)
	}
	return out, nil
}

// ActiveAddresses returns the distinct addresses that sent or
// received transfers on one network since a cutoff, sorted, capped at
// limit.
func (s *Store) ActiveAddresses(ctx context.Context, network string, since time.Time, limit int) ([]string, error) {
	filter := bson.M{"network": network, "eventType": types.EventTransfer}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since.Unix()}
	}
	seen := mapset.NewSet[string]()
	for _, field := range []string{"from", "to"} {
		vals, err := s.events().Distinct(ctx, field, filter)
		if err != nil {
			return nil, fmt.Errorf("distinct %s addresses: %w", field, err)
		}
		for _, v := range vals {
			if addr, ok := v.(string); ok && addr != "" {
				seen.Add(addr)
			}
		}
	}
	out := seen.ToSlice()
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TokenTransfers returns transfers of one token on one network since
// a cutoff, newest first.
func (s *Store) TokenTransfers(ctx context.Context, network, token string, since time.Time, limit int64) ([]types.UnifiedEvent, error) {
	filter := bson.M{
		"network":      network,
		"eventType":    types.EventTransfer,
		"tokenAddress": token,
	}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since.Unix()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.events().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying token transfers for %s: %w", token, err)
	}
	var out []types.UnifiedEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding token transfers for %s: %w", token, err)
	}
	return out, nil
}
