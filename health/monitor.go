package health

import (
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/arguslabs/argus/types"
)

// Monitor evaluates periodically on behalf of the scheduler, logs
// breaches, keeps per-chain gauges fresh and publishes alerts.
type Monitor struct {
	log    log.Logger
	source func() []types.ChainSyncState
	now    func() time.Time

	feed event.FeedOf[Alert]

	mu   sync.RWMutex
	last Report
}

// NewMonitor builds a monitor over a state source, typically the
// sync state manager's All.
func NewMonitor(source func() []types.ChainSyncState, logger log.Logger) *Monitor {
	return &Monitor{
		log:    logger.New("module", "health"),
		source: source,
		now:    time.Now,
	}
}

// SubscribeAlerts delivers every alert of every check to ch.
func (m *Monitor) SubscribeAlerts(ch chan<- Alert) event.Subscription {
	return m.feed.Subscribe(ch)
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Check runs one evaluation pass.
func (m *Monitor) Check() Report {
	report := Evaluate(m.source(), m.now())

	for _, ch := range report.Chains {
		tag := strings.ToLower(ch.Chain)
		metrics.GetOrRegisterGauge("chain/"+tag+"/lag", nil).Update(int64(ch.Lag))
		metrics.GetOrRegisterGaugeFloat64("chain/"+tag+"/errorrate", nil).Update(ch.ErrorRate)
	}
	for _, alert := range report.Alerts {
		switch alert.Severity {
		case SeverityCritical:
			m.log.Error("Ingestion alert", "chain", alert.Chain, "metric", alert.Metric, "value", alert.Value, "msg", alert.Message)
		default:
			m.log.Warn("Ingestion alert", "chain", alert.Chain, "metric", alert.Metric, "value", alert.Value, "msg", alert.Message)
		}
		m.feed.Send(alert)
	}
	if len(report.Alerts) == 0 {
		m.log.Debug("Ingestion healthy", "chains", len(report.Chains))
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}
