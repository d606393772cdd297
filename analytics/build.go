package analytics

import (
	"math"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/types"
)

// Score saturation points.
const (
	hubSaturationDegree = 100
	activitySaturation  = 1000
	volumeSaturationUsd = 1e8
	recencyHorizonDays  = 90
)

// Influence blend.
const (
	wHub      = 0.35
	wActivity = 0.25
	wVolume   = 0.25
	wEntity   = 0.15
)

// BuildProfile folds an address's transfers into one analytics row.
// The pass is single and allocation-light; events arrive newest first
// from the capped ledger query and order does not matter here.
func BuildProfile(address, network string, events []types.UnifiedEvent, reg *labels.Registry, now time.Time) types.NodeAnalytics {
	if reg == nil {
		reg = labels.Default()
	}
	na := types.NodeAnalytics{
		Address:   address,
		Network:   network,
		UpdatedAt: now,
	}

	inPeers := mapset.NewSet[string]()
	outPeers := mapset.NewSet[string]()
	var firstTs, lastTs int64

	for i := range events {
		ev := &events[i]
		switch {
		case ev.From == address:
			na.OutTxCount++
			na.OutVolumeUsd += ev.AmountUsd
			outPeers.Add(ev.To)
		case ev.To == address:
			na.InTxCount++
			na.InVolumeUsd += ev.AmountUsd
			inPeers.Add(ev.From)
		default:
			continue
		}
		if firstTs == 0 || ev.Timestamp < firstTs {
			firstTs = ev.Timestamp
		}
		if ev.Timestamp > lastTs {
			lastTs = ev.Timestamp
		}
	}

	na.TxCount = na.InTxCount + na.OutTxCount
	na.TotalVolumeUsd = na.InVolumeUsd + na.OutVolumeUsd
	na.NetFlowUsd = na.InVolumeUsd - na.OutVolumeUsd
	na.UniqueInDegree = inPeers.Cardinality()
	na.UniqueOutDegree = outPeers.Cardinality()
	if firstTs > 0 {
		na.FirstSeen = time.Unix(firstTs, 0).UTC()
		na.LastSeen = time.Unix(lastTs, 0).UTC()
	}

	entityBoost := 0.0
	if ent, ok := reg.Entity(network, address); ok {
		na.EntityType = ent.Type
		na.EntityName = ent.Name
		na.Tags = append(na.Tags, ent.Type)
		entityBoost = 1
	} else if bridge, ok := reg.Bridge(network, address); ok {
		na.EntityType = labels.TypeBridge
		na.EntityName = bridge.Name
		na.Tags = append(na.Tags, labels.TypeBridge)
		entityBoost = 1
	}

	na.HubScore = saturate(float64(na.UniqueInDegree+na.UniqueOutDegree), hubSaturationDegree)
	na.ActivityScore = saturate(float64(na.TxCount), activitySaturation)
	if !na.LastSeen.IsZero() {
		days := now.Sub(na.LastSeen).Hours() / 24
		if days < 0 {
			days = 0
		}
		if r := 1 - days/recencyHorizonDays; r > 0 {
			na.RecencyScore = r
		}
	}
	volumeScore := saturate(na.TotalVolumeUsd, volumeSaturationUsd)
	na.InfluenceScore = clamp01(wHub*na.HubScore + wActivity*na.ActivityScore + wVolume*volumeScore + wEntity*entityBoost)
	return na
}

// saturate maps x onto [0,1] with logarithmic growth that reaches 1
// at the saturation point.
func saturate(x, saturation float64) float64 {
	if x <= 0 {
		return 0
	}
	return clamp01(math.Log1p(x) / math.Log1p(saturation))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
