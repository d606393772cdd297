package adapter

import "github.com/ethereum/go-ethereum/metrics"

var (
	fetchTimer      = metrics.NewRegisteredTimer("adapter/fetch", nil)
	headMeter       = metrics.NewRegisteredMeter("adapter/headcalls", nil)
	logsMeter       = metrics.NewRegisteredMeter("adapter/logs", nil)
	eventsMeter     = metrics.NewRegisteredMeter("adapter/events", nil)
	skippedMeter    = metrics.NewRegisteredMeter("adapter/skipped", nil)
	tsFallbackMeter = metrics.NewRegisteredMeter("adapter/tsfallback", nil)
)
