// Package prices supplies USD valuations for token amounts. The
// pipeline treats pricing as best effort: an unpriced token values to
// zero and never fails ingestion or aggregation.
package prices

import (
	"context"
	"strings"
	"time"
)

// Oracle prices one token unit in USD at a point in time. The second
// return is false when no price is known; callers use zero then.
type Oracle interface {
	USD(ctx context.Context, network, token string, at time.Time) (float64, bool)
}

func key(network, token string) string {
	return strings.ToUpper(network) + ":" + strings.ToLower(token)
}

// Static prices from a fixed table keyed "NETWORK:0xtoken".
type Static struct {
	table map[string]float64
}

// NewStatic copies table into a static oracle.
func NewStatic(table map[string]float64) *Static {
	t := make(map[string]float64, len(table))
	for k, v := range table {
		parts := strings.SplitN(k, ":", 2)
		if len(parts) == 2 {
			t[key(parts[0], parts[1])] = v
		}
	}
	return &Static{table: t}
}

func (s *Static) USD(_ context.Context, network, token string, _ time.Time) (float64, bool) {
	v, ok := s.table[key(network, token)]
	return v, ok
}

// StableRegistry is the subset of the label registry the stable-peg
// oracle needs.
type StableRegistry interface {
	IsStable(network, address string) bool
}

// Stables pegs registered stablecoins to one dollar.
type Stables struct {
	reg StableRegistry
}

// NewStables returns an oracle answering 1.0 for registered stables.
func NewStables(reg StableRegistry) *Stables {
	return &Stables{reg: reg}
}

func (s *Stables) USD(_ context.Context, network, token string, _ time.Time) (float64, bool) {
	if s.reg.IsStable(network, token) {
		return 1.0, true
	}
	return 0, false
}

// Chain queries oracles in order and returns the first hit.
type Chain []Oracle

func (c Chain) USD(ctx context.Context, network, token string, at time.Time) (float64, bool) {
	for _, o := range c {
		if v, ok := o.USD(ctx, network, token, at); ok {
			return v, ok
		}
	}
	return 0, false
}

// Nop prices nothing.
type Nop struct{}

func (Nop) USD(context.Context, string, string, time.Time) (float64, bool) { return 0, false }
