package graph

import (
	"math/big"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/types"
)

type bucket struct {
	from, to  string
	txCount   int
	volumeUsd float64
	native    *big.Int
	firstSeen int64
	lastSeen  int64
	tokens    mapset.Set[string]
}

// BuildForAnchor rolls transfers touching one anchor into directed
// edge aggregates. Events not involving the anchor are ignored, so
// callers can pass query results unfiltered. Output is sorted by
// (from, to) for deterministic writes.
func BuildForAnchor(anchor, network string, events []types.UnifiedEvent, reg *labels.Registry, now time.Time) []types.AggregatedRelation {
	if reg == nil {
		reg = labels.Default()
	}
	buckets := make(map[[2]string]*bucket)
	for i := range events {
		ev := &events[i]
		if ev.From != anchor && ev.To != anchor {
			continue
		}
		key := [2]string{ev.From, ev.To}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				from:      ev.From,
				to:        ev.To,
				native:    new(big.Int),
				firstSeen: ev.Timestamp,
				lastSeen:  ev.Timestamp,
				tokens:    mapset.NewSet[string](),
			}
			buckets[key] = b
		}
		b.txCount++
		b.volumeUsd += ev.AmountUsd
		if amt, ok := new(big.Int).SetString(ev.Amount, 10); ok {
			b.native.Add(b.native, amt)
		}
		if ev.Timestamp < b.firstSeen {
			b.firstSeen = ev.Timestamp
		}
		if ev.Timestamp > b.lastSeen {
			b.lastSeen = ev.Timestamp
		}
		if ev.TokenAddress != "" {
			b.tokens.Add(ev.TokenAddress)
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	var maxVolume float64
	for _, b := range buckets {
		if b.volumeUsd > maxVolume {
			maxVolume = b.volumeUsd
		}
	}

	out := make([]types.AggregatedRelation, 0, len(buckets))
	for _, b := range buckets {
		direction := types.DirectionOut
		counterparty := b.to
		if b.to == anchor && b.from != anchor {
			direction = types.DirectionIn
			counterparty = b.from
		}

		sig := EdgeSignal{
			TxCount:    b.txCount,
			VolumeUsd:  b.volumeUsd,
			TokenCount: b.tokens.Cardinality(),
			FirstSeen:  time.Unix(b.firstSeen, 0).UTC(),
			LastSeen:   time.Unix(b.lastSeen, 0).UTC(),
		}
		confidence := Confidence(sig, now)

		tokens := b.tokens.ToSlice()
		slices.Sort(tokens)

		edge := types.AggregatedRelation{
			From:         b.from,
			To:           b.to,
			Network:      network,
			TxCount:      b.txCount,
			VolumeUsd:    b.volumeUsd,
			VolumeNative: b.native.String(),
			AvgTxSize:    b.volumeUsd / float64(b.txCount),
			FirstSeen:    sig.FirstSeen,
			LastSeen:     sig.LastSeen,
			Direction:    direction,
			Counterparty: counterparty,
			Tokens:       tokens,
			Confidence:   confidence,
			Level:        Level(confidence),
			Weight:       Weight(b.volumeUsd, maxVolume, confidence),
			UpdatedAt:    now,
		}
		if ent, ok := reg.Entity(network, counterparty); ok {
			edge.EntityType = ent.Type
			edge.EntityName = ent.Name
		} else if bridge, ok := reg.Bridge(network, counterparty); ok {
			edge.EntityType = labels.TypeBridge
			edge.EntityName = bridge.Name
		}
		out = append(out, edge)
	}
	slices.SortFunc(out, func(a, b types.AggregatedRelation) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.To, b.To)
	})
	return out
}
