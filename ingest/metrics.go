package ingest

import "github.com/ethereum/go-ethereum/metrics"

var (
	windowMeter      = metrics.NewRegisteredMeter("ingest/windows", nil)
	eventMeter       = metrics.NewRegisteredMeter("ingest/events", nil)
	duplicateMeter   = metrics.NewRegisteredMeter("ingest/duplicates", nil)
	errorMeter       = metrics.NewRegisteredMeter("ingest/errors", nil)
	rateLimitMeter   = metrics.NewRegisteredMeter("ingest/ratelimited", nil)
	noProviderMeter  = metrics.NewRegisteredMeter("ingest/noproviders", nil)
	gapMeter         = metrics.NewRegisteredMeter("ingest/gaps", nil)
	degradationMeter = metrics.NewRegisteredMeter("ingest/tsfallbackwindows", nil)
)
