// Package health grades chain ingestion from the sync state rows.
// Evaluation is pure; the Monitor wraps it with logging, gauges and
// an alert feed for external transports.
package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/arguslabs/argus/types"
)

// Severity of a chain or of the whole pipeline.
type Severity string

const (
	SeverityHealthy  Severity = "HEALTHY"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Warning / critical thresholds per metric.
const (
	lagWarning  = 50
	lagCritical = 200

	minutesWarning  = 5.0
	minutesCritical = 15.0

	errorRateWarning  = 0.10
	errorRateCritical = 0.25

	// errorRateDenominator converts a consecutive error streak into
	// the rate proxy.
	errorRateDenominator = 10.0
)

// Alert is one threshold breach.
type Alert struct {
	Severity Severity `json:"severity"`
	Chain    string   `json:"chain"`
	Message  string   `json:"message"`
	Metric   string   `json:"metric"`
	Value    float64  `json:"value"`
}

// ChainHealth is the graded view of one chain.
type ChainHealth struct {
	Chain            string           `json:"chain"`
	Status           Severity         `json:"status"`
	SyncStatus       types.SyncStatus `json:"syncStatus"`
	Lag              uint64           `json:"lag"`
	MinutesSinceSync float64          `json:"minutesSinceSync"`
	ErrorRate        float64          `json:"errorRate"`
}

// Report is one evaluation pass over every chain.
type Report struct {
	Overall Severity      `json:"overall"`
	Chains  []ChainHealth `json:"chains"`
	Alerts  []Alert       `json:"alerts"`
	At      time.Time     `json:"at"`
}

// Healthy reports whether nothing needs attention.
func (r Report) Healthy() bool {
	return r.Overall == SeverityHealthy || r.Overall == SeverityUnknown
}

// Evaluate grades the given states at a reference time. A chain that
// has never observed a head, synced a block or recorded a success is
// uninitialized and grades UNKNOWN; the overall severity is UNKNOWN
// only when every chain is.
func Evaluate(states []types.ChainSyncState, now time.Time) Report {
	report := Report{Overall: SeverityUnknown, At: now}

	for i := range states {
		s := &states[i]
		ch := ChainHealth{Chain: s.Chain, SyncStatus: s.Status, Status: SeverityHealthy}

		if uninitialized(s) {
			ch.Status = SeverityUnknown
			report.Chains = append(report.Chains, ch)
			continue
		}

		ch.Lag = s.Lag()
		if !s.LastSuccessAt.IsZero() {
			ch.MinutesSinceSync = now.Sub(s.LastSuccessAt).Minutes()
			if ch.MinutesSinceSync < 0 {
				ch.MinutesSinceSync = 0
			}
		}
		ch.ErrorRate = float64(s.ConsecutiveErrors) / errorRateDenominator
		if ch.ErrorRate > 1 {
			ch.ErrorRate = 1
		}

		grade := func(sev Severity, metric string, value float64, msg string) {
			if severityRank(sev) > severityRank(ch.Status) {
				ch.Status = sev
			}
			report.Alerts = append(report.Alerts, Alert{
				Severity: sev, Chain: s.Chain, Message: msg, Metric: metric, Value: value,
			})
		}

		switch {
		case ch.Lag > lagCritical:
			grade(SeverityCritical, "lag", float64(ch.Lag), fmt.Sprintf("%s is %d blocks behind head", s.Chain, ch.Lag))
		case ch.Lag > lagWarning:
			grade(SeverityWarning, "lag", float64(ch.Lag), fmt.Sprintf("%s is %d blocks behind head", s.Chain, ch.Lag))
		}

		// A chain that has never succeeded yet has no sync clock to
		// grade; lag and errors cover it.
		if !s.LastSuccessAt.IsZero() {
			switch {
			case ch.MinutesSinceSync > minutesCritical:
				grade(SeverityCritical, "minutesSinceSync", ch.MinutesSinceSync, fmt.Sprintf("%s has not synced for %.0f minutes", s.Chain, ch.MinutesSinceSync))
			case ch.MinutesSinceSync > minutesWarning:
				grade(SeverityWarning, "minutesSinceSync", ch.MinutesSinceSync, fmt.Sprintf("%s has not synced for %.0f minutes", s.Chain, ch.MinutesSinceSync))
			}
		}

		switch {
		case ch.ErrorRate > errorRateCritical:
			grade(SeverityCritical, "errorRate", ch.ErrorRate, fmt.Sprintf("%s error rate at %.0f%%", s.Chain, ch.ErrorRate*100))
		case ch.ErrorRate > errorRateWarning:
			grade(SeverityWarning, "errorRate", ch.ErrorRate, fmt.Sprintf("%s error rate at %.0f%%", s.Chain, ch.ErrorRate*100))
		}

		report.Chains = append(report.Chains, ch)
	}

	for i := range report.Chains {
		if report.Chains[i].Status == SeverityUnknown {
			continue
		}
		if report.Overall == SeverityUnknown {
			report.Overall = SeverityHealthy
		}
		if severityRank(report.Chains[i].Status) > severityRank(report.Overall) {
			report.Overall = report.Chains[i].Status
		}
	}
	return report
}

func uninitialized(s *types.ChainSyncState) bool {
	return s.LastHeadBlock == 0 && s.LastSyncedBlock == 0 && s.LastSuccessAt.IsZero() && s.ConsecutiveErrors == 0
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityHealthy:
		return 1
	default:
		return 0
	}
}

// String renders a short operator summary.
func (r Report) String() string {
	parts := make([]string, 0, len(r.Chains))
	for _, ch := range r.Chains {
		parts = append(parts, fmt.Sprintf("%s=%s", ch.Chain, ch.Status))
	}
	return fmt.Sprintf("%s [%s]", r.Overall, strings.Join(parts, " "))
}
