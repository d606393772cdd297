package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// NoProvidersError is returned when every endpoint of a network is
// disabled or cooling down. The orchestrator reacts by yielding the
// whole chain rather than spinning.
type NoProvidersError struct {
	Network    string
	RetryAfter time.Duration
}

func (e *NoProvidersError) Error() string {
	return fmt.Sprintf("no providers available for %s (retry in %v)", e.Network, e.RetryAfter)
}

// RateLimitedError is returned when eligible endpoints exist but all
// their budgets are exhausted right now.
type RateLimitedError struct {
	Network    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s (retry in %v)", e.Network, e.RetryAfter)
}

// ErrUnknownNetwork reports an acquire for a network the pool was not
// configured with.
var ErrUnknownNetwork = errors.New("unknown network")

// IsNoProviders reports whether err is a pool exhaustion.
func IsNoProviders(err error) bool {
	var e *NoProvidersError
	return errors.As(err, &e)
}

// IsRateLimited reports whether err is a budget overflow.
func IsRateLimited(err error) bool {
	var e *RateLimitedError
	return errors.As(err, &e)
}

// Kind coarsely classifies remote errors. Callers branch on the kind
// and never inspect message strings.
type Kind int

const (
	// KindTransient covers timeouts, 5xx and connection failures. The
	// caller may switch providers and retry.
	KindTransient Kind = iota
	// KindRateLimited covers HTTP 429 and JSON-RPC throttle codes.
	// The provider enters cooldown; the chain is not charged an error.
	KindRateLimited
	// KindFatal covers authentication and method errors that no retry
	// will fix on the same provider.
	KindFatal
)

// JSON-RPC error codes used by hosted endpoints to signal throttling.
const (
	codeLimitExceeded   = -32005
	codeTooManyRequests = -32029
)

// Classify maps a remote error into its handling kind.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return KindRateLimited
		case httpErr.StatusCode == http.StatusUnauthorized, httpErr.StatusCode == http.StatusForbidden:
			return KindFatal
		default:
			return KindTransient
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded, codeTooManyRequests:
			return KindRateLimited
		case -32601, -32602:
			return KindFatal
		}
	}
	return KindTransient
}
