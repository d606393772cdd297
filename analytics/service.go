// Package analytics builds per-address activity profiles from the
// unified ledger. Profiles are recomputed lazily with a TTL; reads
// between recomputes are served from the stored row.
package analytics

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/types"
)

const (
	// DefaultTTL is how long a computed profile stays authoritative.
	DefaultTTL = time.Hour

	// DefaultMaxEvents caps the ledger read per profile at the most
	// recent N transfers.
	DefaultMaxEvents = 10_000

	profileCacheSize = 4096
)

var (
	recomputeMeter = metrics.NewRegisteredMeter("analytics/recomputes", nil)
	cacheHitMeter  = metrics.NewRegisteredMeter("analytics/cachehits", nil)
	staleMeter     = metrics.NewRegisteredMeter("analytics/stale", nil)
)

// Ledger is the event read surface profiles are built from.
type Ledger interface {
	TransfersInvolving(ctx context.Context, network, address string, since time.Time, limit int64) ([]types.UnifiedEvent, error)
}

// ProfileStore persists computed rows.
type ProfileStore interface {
	UpsertNodeAnalytics(ctx context.Context, na *types.NodeAnalytics) error
	NodeAnalyticsFor(ctx context.Context, network, address string) (*types.NodeAnalytics, error)
	NodeAnalyticsBatch(ctx context.Context, network string, addresses []string) ([]types.NodeAnalytics, error)
	TopByInfluence(ctx context.Context, network string, limit int64) ([]types.NodeAnalytics, error)
}

// Profile is a read result. Stale marks a row served past its TTL
// because recomputation failed; Age then says how old it is.
type Profile struct {
	types.NodeAnalytics
	Stale bool
	Age   time.Duration
}

// Config tunes the service.
type Config struct {
	TTL       time.Duration
	MaxEvents int64
}

// Service answers profile reads, deduplicating concurrent recomputes
// of the same address.
type Service struct {
	log    log.Logger
	ledger Ledger
	db     ProfileStore
	reg    *labels.Registry
	cfg    Config

	cache *lru.Cache
	group singleflight.Group
	now   func() time.Time
}

type cacheEntry struct {
	na types.NodeAnalytics
	at time.Time
}

// NewService wires the analytics service.
func NewService(ledger Ledger, db ProfileStore, reg *labels.Registry, cfg Config, logger log.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if reg == nil {
		reg = labels.Default()
	}
	cache, _ := lru.New(profileCacheSize)
	return &Service{
		log:    logger.New("module", "analytics"),
		ledger: ledger,
		db:     db,
		reg:    reg,
		cfg:    cfg,
		cache:  cache,
		now:    time.Now,
	}
}

// Profile returns the analytics row for one address, recomputing it
// when the stored row is older than the TTL. Concurrent callers for
// the same address share a single recompute.
func (s *Service) Profile(ctx context.Context, network, address string) (Profile, error) {
	key := network + ":" + address
	if v, ok := s.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if s.now().Sub(entry.at) < s.cfg.TTL {
			cacheHitMeter.Mark(1)
			return Profile{NodeAnalytics: entry.na}, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.load(ctx, network, address)
	})
	if err != nil {
		return Profile{}, err
	}
	return v.(Profile), nil
}

func (s *Service) load(ctx context.Context, network, address string) (Profile, error) {
	existing, err := s.db.NodeAnalyticsFor(ctx, network, address)
	if err != nil {
		s.log.Warn("Profile read failed, recomputing", "address", address, "err", err)
		existing = nil
	}
	now := s.now()
	if existing != nil {
		if age := now.Sub(existing.UpdatedAt); age < s.cfg.TTL {
			s.cache.Add(network+":"+address, cacheEntry{na: *existing, at: existing.UpdatedAt})
			return Profile{NodeAnalytics: *existing}, nil
		}
	}

	events, err := s.ledger.TransfersInvolving(ctx, network, address, time.Time{}, s.cfg.MaxEvents)
	if err != nil {
		if existing != nil {
			// Serve the stale row rather than failing the read.
			staleMeter.Mark(1)
			s.log.Warn("Profile recompute failed, serving stale row", "address", address, "err", err)
			return Profile{NodeAnalytics: *existing, Stale: true, Age: now.Sub(existing.UpdatedAt)}, nil
		}
		return Profile{}, err
	}

	na := BuildProfile(address, network, events, s.reg, now)
	recomputeMeter.Mark(1)
	if err := s.db.UpsertNodeAnalytics(ctx, &na); err != nil {
		s.log.Warn("Profile write failed", "address", address, "err", err)
	}
	s.cache.Add(network+":"+address, cacheEntry{na: na, at: now})
	return Profile{NodeAnalytics: na}, nil
}

// TopInfluencers returns the k highest influence profiles of a
// network; an empty network spans all.
func (s *Service) TopInfluencers(ctx context.Context, network string, k int64) ([]types.NodeAnalytics, error) {
	return s.db.TopByInfluence(ctx, network, k)
}

// Batch reads stored profiles for a set of addresses without
// triggering recomputes.
func (s *Service) Batch(ctx context.Context, network string, addresses []string) ([]types.NodeAnalytics, error) {
	return s.db.NodeAnalyticsBatch(ctx, network, addresses)
}
