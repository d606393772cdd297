package rpcpool

import "github.com/ethereum/go-ethereum/metrics"

var (
	acquireMeter     = metrics.NewRegisteredMeter("rpcpool/acquires", nil)
	requestMeter     = metrics.NewRegisteredMeter("rpcpool/requests", nil)
	errorMeter       = metrics.NewRegisteredMeter("rpcpool/errors", nil)
	rateLimitedMeter = metrics.NewRegisteredMeter("rpcpool/ratelimited", nil)
	noProvidersMeter = metrics.NewRegisteredMeter("rpcpool/noproviders", nil)
	cooldownMeter    = metrics.NewRegisteredMeter("rpcpool/cooldowns", nil)
	inFlightGauge    = metrics.NewRegisteredGauge("rpcpool/inflight", nil)
)
