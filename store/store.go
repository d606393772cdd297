// Package store is the MongoDB persistence layer. One Store owns all
// collections; callers depend on the narrow slices they need.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	connectTimeout = 10 * time.Second

	colEvents      = "unified_events"
	colSyncState   = "chain_sync_state"
	colProviders   = "rpc_providers"
	colRelations   = "aggregated_relations"
	colAnalytics   = "node_analytics"
	colBootstrap   = "bootstrap_tasks"
	colSnapshots   = "signal_snapshots"
	colLegacyEdges = "relations"
)

// Store wraps one database handle.
type Store struct {
	log log.Logger
	cli *mongo.Client
	db  *mongo.Database
}

// Open connects, pings and returns a store bound to dbName.
func Open(ctx context.Context, uri, dbName string, logger log.Logger) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cli, err := mongo.Connect(cctx, options.Client().ApplyURI(uri).SetAppName("argus"))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := cli.Ping(cctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return &Store{
		log: logger.New("module", "store"),
		cli: cli,
		db:  cli.Database(dbName),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.cli.Disconnect(ctx)
}

func (s *Store) events() *mongo.Collection      { return s.db.Collection(colEvents) }
func (s *Store) syncStates() *mongo.Collection  { return s.db.Collection(colSyncState) }
func (s *Store) providers() *mongo.Collection   { return s.db.Collection(colProviders) }
func (s *Store) relations() *mongo.Collection   { return s.db.Collection(colRelations) }
func (s *Store) analytics() *mongo.Collection   { return s.db.Collection(colAnalytics) }
func (s *Store) bootstrap() *mongo.Collection   { return s.db.Collection(colBootstrap) }
func (s *Store) snapshots() *mongo.Collection   { return s.db.Collection(colSnapshots) }
func (s *Store) legacyEdges() *mongo.Collection { return s.db.Collection(colLegacyEdges) }

// EnsureIndexes creates every index the pipeline relies on.
// Index builds are idempotent; startup calls this once.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	builds := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.events(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "blockNumber", Value: 1}}},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "from", Value: 1}}},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "to", Value: 1}}},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "tokenAddress", Value: 1}}},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "timestamp", Value: -1}}},
		}},
		{s.relations(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}, {Key: "network", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "from", Value: 1}}},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "to", Value: 1}}},
		}},
		{s.analytics(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "address", Value: 1}, {Key: "network", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "influenceScore", Value: -1}}},
		}},
		{s.bootstrap(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "notBefore", Value: 1}}},
		}},
		{s.snapshots(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "window", Value: 1}, {Key: "snapshotAt", Value: -1}}},
		}},
		{s.providers(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "network", Value: 1}, {Key: "providerId", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}
	for _, b := range builds {
		if _, err := b.coll.Indexes().CreateMany(ctx, b.models); err != nil {
			return fmt.Errorf("creating indexes on %s: %w", b.coll.Name(), err)
		}
	}
	s.log.Info("Collection indexes ensured")
	return nil
}
