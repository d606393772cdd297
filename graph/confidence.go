package graph

import (
	"math"
	"time"

	"github.com/arguslabs/argus/types"
)

// Confidence component weights.
const (
	wTxCount   = 0.25
	wVolume    = 0.25
	wRecency   = 0.25
	wFrequency = 0.15
	wDiversity = 0.10
)

// Log-normalization anchors. An edge earns the 0.3 floor at the low
// threshold and saturates at the high one.
const (
	txCountLow    = 3
	txCountHigh   = 20
	volumeLowUsd  = 1_000
	volumeHighUsd = 100_000
)

const (
	recencyHorizonDays = 90
	frequencyFullRate  = 0.5 // tx per day that earns a full score
	diversityFullCount = 3
)

// Edge weight blend for rendering.
const (
	weightFloor      = 0.15
	weightVolumeTerm = 0.7
	weightConfTerm   = 0.3
)

// EdgeSignal is the measured input of one (from, to) bucket.
type EdgeSignal struct {
	TxCount    int
	VolumeUsd  float64
	TokenCount int
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Confidence scores one edge at a reference time. The result is
// always inside [0,1].
func Confidence(sig EdgeSignal, now time.Time) float64 {
	daysSinceLast := now.Sub(sig.LastSeen).Hours() / 24
	if daysSinceLast < 0 {
		daysSinceLast = 0
	}
	recency := 1 - daysSinceLast/recencyHorizonDays
	if recency < 0 {
		recency = 0
	}

	daySpan := now.Sub(sig.FirstSeen).Hours() / 24
	if daySpan < 1 {
		daySpan = 1
	}
	frequency := (float64(sig.TxCount) / daySpan) / frequencyFullRate
	if frequency > 1 {
		frequency = 1
	}

	diversity := float64(sig.TokenCount) / diversityFullCount
	if diversity > 1 {
		diversity = 1
	}

	c := wTxCount*logScore(float64(sig.TxCount), txCountLow, txCountHigh) +
		wVolume*logScore(sig.VolumeUsd, volumeLowUsd, volumeHighUsd) +
		wRecency*recency +
		wFrequency*frequency +
		wDiversity*diversity
	return clamp(c, 0, 1)
}

// Level buckets a confidence scalar.
func Level(confidence float64) types.ConfidenceLevel {
	switch {
	case confidence < 0.4:
		return types.ConfidenceLow
	case confidence < 0.6:
		return types.ConfidenceMedium
	case confidence < 0.8:
		return types.ConfidenceHigh
	default:
		return types.ConfidenceVeryHigh
	}
}

// Weight maps an edge onto the rendering scale. maxVolume is the
// largest edge volume in the same aggregation pass; zero drops the
// volume term rather than dividing by it.
func Weight(volumeUsd, maxVolume, confidence float64) float64 {
	var volTerm float64
	if maxVolume > 0 && volumeUsd > 0 {
		volTerm = math.Sqrt(volumeUsd / maxVolume)
	}
	w := weightVolumeTerm*volTerm + weightConfTerm*confidence
	return clamp(w, weightFloor, 1)
}

// logScore normalizes x logarithmically between lo and hi, clamped to
// [0.3, 1]. Everything at or below lo earns the floor.
func logScore(x, lo, hi float64) float64 {
	if x <= lo {
		return 0.3
	}
	s := 0.3 + 0.7*(math.Log(x)-math.Log(lo))/(math.Log(hi)-math.Log(lo))
	return clamp(s, 0.3, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
