// Package entity rolls ledger transfers up to named entities, sets
// of addresses treated as one actor. Everything here is a pure
// function of the events plus the static label data; callers fetch
// the events and inject the prices.
package entity

import (
	"math/big"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/types"
)

// Dominant flow labels.
const (
	FlowInflow  = "inflow"
	FlowOutflow = "outflow"
	FlowNeutral = "neutral"
)

// neutralBand is the |net|/gross fraction below which a flow counts
// as neutral.
const neutralBand = 0.10

// Bridge directions.
const (
	BridgeL1ToL2     = "L1->L2"
	BridgeL2ToL1     = "L2->L1"
	BridgeCrossChain = "Cross-chain"
)

// Holding is one token position of an entity on one network.
type Holding struct {
	Token    string  `json:"token"`
	Symbol   string  `json:"symbol,omitempty"`
	Network  string  `json:"network"`
	Balance  float64 `json:"balance"`
	ValueUsd float64 `json:"valueUsd"`
	Percent  float64 `json:"percent"`
}

// FlowPoint is one UTC day of entity flow.
type FlowPoint struct {
	Day        time.Time `json:"day"`
	InflowUsd  float64   `json:"inflowUsd"`
	OutflowUsd float64   `json:"outflowUsd"`
	NetUsd     float64   `json:"netUsd"`
}

// TokenFlow is the per-token breakdown over the same window.
type TokenFlow struct {
	Token        string  `json:"token"`
	Symbol       string  `json:"symbol,omitempty"`
	InflowUsd    float64 `json:"inflowUsd"`
	OutflowUsd   float64 `json:"outflowUsd"`
	NetUsd       float64 `json:"netUsd"`
	DominantFlow string  `json:"dominantFlow"`
}

// BridgeFlow groups an entity's bridge traffic by destination.
type BridgeFlow struct {
	Bridge    string  `json:"bridge"`
	ToChain   string  `json:"toChain"`
	Direction string  `json:"direction"`
	TxCount   int     `json:"txCount"`
	VolumeUsd float64 `json:"volumeUsd"`
}

func addressSet(addrs []string) mapset.Set[string] {
	set := mapset.NewSet[string]()
	for _, a := range addrs {
		set.Add(strings.ToLower(a))
	}
	return set
}

// Holdings computes per-token net balances of an entity from its
// transfers. Transfers between the entity's own addresses cancel
// out. Prices are injected as USD per token unit keyed by lowercase
// token address; unpriced tokens keep a zero value and a zero share.
// Percentages are shares of the positive total and sum to 100 when
// any position has value.
func Holdings(addrs []string, network string, events []types.UnifiedEvent, reg *labels.Registry, priceUsd map[string]float64) []Holding {
	if reg == nil {
		reg = labels.Default()
	}
	set := addressSet(addrs)

	nets := make(map[string]*big.Int)
	for i := range events {
		ev := &events[i]
		if ev.TokenAddress == "" {
			continue
		}
		fromOurs := set.Contains(ev.From)
		toOurs := set.Contains(ev.To)
		if fromOurs == toOurs {
			// Either internal movement or unrelated noise.
			continue
		}
		amt, ok := new(big.Int).SetString(ev.Amount, 10)
		if !ok {
			continue
		}
		net, ok := nets[ev.TokenAddress]
		if !ok {
			net = new(big.Int)
			nets[ev.TokenAddress] = net
		}
		if toOurs {
			net.Add(net, amt)
		} else {
			net.Sub(net, amt)
		}
	}

	out := make([]Holding, 0, len(nets))
	var positiveTotal float64
	for token, net := range nets {
		decimals := reg.Decimals(network, token)
		balance := units(net, decimals)
		h := Holding{
			Token:   token,
			Network: network,
			Balance: balance,
		}
		if tok, ok := reg.Token(network, token); ok {
			h.Symbol = tok.Symbol
		}
		if price, ok := priceUsd[strings.ToLower(token)]; ok {
			h.ValueUsd = balance * price
		}
		if h.ValueUsd > 0 {
			positiveTotal += h.ValueUsd
		}
		out = append(out, h)
	}
	if positiveTotal > 0 {
		for i := range out {
			if out[i].ValueUsd > 0 {
				out[i].Percent = out[i].ValueUsd / positiveTotal * 100
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValueUsd != out[j].ValueUsd {
			return out[i].ValueUsd > out[j].ValueUsd
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Flows buckets an entity's USD flow into UTC days across [from, to].
// Days without traffic are present with zeros so consumers can plot
// the series directly.
func Flows(addrs []string, events []types.UnifiedEvent, from, to time.Time) []FlowPoint {
	set := addressSet(addrs)
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	if end.Before(start) {
		return nil
	}

	days := int(end.Sub(start).Hours()/24) + 1
	series := make([]FlowPoint, days)
	index := make(map[time.Time]*FlowPoint, days)
	for i := 0; i < days; i++ {
		day := start.Add(time.Duration(i) * 24 * time.Hour)
		series[i].Day = day
		index[day] = &series[i]
	}

	for i := range events {
		ev := &events[i]
		fromOurs := set.Contains(ev.From)
		toOurs := set.Contains(ev.To)
		if fromOurs == toOurs {
			continue
		}
		day := time.Unix(ev.Timestamp, 0).UTC().Truncate(24 * time.Hour)
		point, ok := index[day]
		if !ok {
			continue
		}
		if toOurs {
			point.InflowUsd += ev.AmountUsd
		} else {
			point.OutflowUsd += ev.AmountUsd
		}
	}
	for i := range series {
		series[i].NetUsd = series[i].InflowUsd - series[i].OutflowUsd
	}
	return series
}

// TokenFlows breaks the window's flow down per token and labels each
// with its dominant direction. A net inside the neutral band of the
// gross flow counts as neutral.
func TokenFlows(addrs []string, network string, events []types.UnifiedEvent, reg *labels.Registry) []TokenFlow {
	if reg == nil {
		reg = labels.Default()
	}
	set := addressSet(addrs)

	flows := make(map[string]*TokenFlow)
	for i := range events {
		ev := &events[i]
		if ev.TokenAddress == "" {
			continue
		}
		fromOurs := set.Contains(ev.From)
		toOurs := set.Contains(ev.To)
		if fromOurs == toOurs {
			continue
		}
		tf, ok := flows[ev.TokenAddress]
		if !ok {
			tf = &TokenFlow{Token: ev.TokenAddress}
			if tok, found := reg.Token(network, ev.TokenAddress); found {
				tf.Symbol = tok.Symbol
			}
			flows[ev.TokenAddress] = tf
		}
		if toOurs {
			tf.InflowUsd += ev.AmountUsd
		} else {
			tf.OutflowUsd += ev.AmountUsd
		}
	}

	out := make([]TokenFlow, 0, len(flows))
	for _, tf := range flows {
		tf.NetUsd = tf.InflowUsd - tf.OutflowUsd
		tf.DominantFlow = dominant(tf.NetUsd, tf.InflowUsd+tf.OutflowUsd)
		out = append(out, *tf)
	}
	sort.Slice(out, func(i, j int) bool {
		gi := out[i].InflowUsd + out[i].OutflowUsd
		gj := out[j].InflowUsd + out[j].OutflowUsd
		if gi != gj {
			return gi > gj
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Bridges groups the entity's transfers against known bridge
// contracts by destination chain, largest volume first.
func Bridges(addrs []string, network string, events []types.UnifiedEvent, reg *labels.Registry) []BridgeFlow {
	if reg == nil {
		reg = labels.Default()
	}
	set := addressSet(addrs)

	type key struct{ name, toChain string }
	groups := make(map[key]*BridgeFlow)
	for i := range events {
		ev := &events[i]
		fromOurs := set.Contains(ev.From)
		toOurs := set.Contains(ev.To)
		if fromOurs == toOurs {
			continue
		}
		counterparty := ev.To
		if toOurs {
			counterparty = ev.From
		}
		bridge, ok := reg.Bridge(network, counterparty)
		if !ok {
			continue
		}
		k := key{bridge.Name, bridge.ToChain}
		g, ok := groups[k]
		if !ok {
			g = &BridgeFlow{
				Bridge:    bridge.Name,
				ToChain:   bridge.ToChain,
				Direction: bridgeDirection(network, bridge.ToChain),
			}
			groups[k] = g
		}
		g.TxCount++
		g.VolumeUsd += ev.AmountUsd
	}

	out := make([]BridgeFlow, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VolumeUsd != out[j].VolumeUsd {
			return out[i].VolumeUsd > out[j].VolumeUsd
		}
		return out[i].Bridge < out[j].Bridge
	})
	return out
}

func dominant(net, gross float64) string {
	if gross <= 0 {
		return FlowNeutral
	}
	abs := net
	if abs < 0 {
		abs = -abs
	}
	if abs < neutralBand*gross {
		return FlowNeutral
	}
	if net > 0 {
		return FlowInflow
	}
	return FlowOutflow
}

// bridgeDirection classifies a hop by where it starts and lands.
// Mainnet into a rollup is L1->L2, a rollup back home is L2->L1,
// everything else, including omni-directional routers, is
// cross-chain.
func bridgeDirection(network, toChain string) string {
	switch {
	case toChain == "*" || toChain == "":
		return BridgeCrossChain
	case network == "ETH" && toChain != "ETH":
		return BridgeL1ToL2
	case network != "ETH" && toChain == "ETH":
		return BridgeL2ToL1
	default:
		return BridgeCrossChain
	}
}

func units(raw *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
