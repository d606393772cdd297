package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/types"
)

const (
	ours1      = "0xaaaa000000000000000000000000000000000001"
	ours2      = "0xaaaa000000000000000000000000000000000002"
	outsider   = "0xbbbb000000000000000000000000000000000001"
	usdcAddr   = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	wethAddr   = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	arbBridge  = "0x8315177ab297ba92a06054ce80a67ed4dbd7ed3a"
	opL2Bridge = "0x4200000000000000000000000000000000000010"
)

func evt(from, to, token, amount string, usd float64, ts int64) types.UnifiedEvent {
	return types.UnifiedEvent{
		Network:      "ETH",
		From:         from,
		To:           to,
		TokenAddress: token,
		Amount:       amount,
		AmountUsd:    usd,
		Timestamp:    ts,
		EventType:    types.EventTransfer,
	}
}

func TestHoldingsNetsInflowsAgainstOutflows(t *testing.T) {
	ts := time.Now().Unix()
	events := []types.UnifiedEvent{
		// 100 USDC in, 40 out: net 60.
		evt(outsider, ours1, usdcAddr, "100000000", 100, ts),
		evt(ours1, outsider, usdcAddr, "40000000", 40, ts+1),
		// 2 WETH in.
		evt(outsider, ours2, wethAddr, "2000000000000000000", 6000, ts+2),
		// Internal shuffle must cancel.
		evt(ours1, ours2, usdcAddr, "999000000", 999, ts+3),
	}
	prices := map[string]float64{usdcAddr: 1.0, wethAddr: 3000.0}

	holdings := Holdings([]string{ours1, ours2}, "ETH", events, labels.Default(), prices)
	require.Len(t, holdings, 2)

	// Sorted by value: WETH ($6000) then USDC ($60).
	require.Equal(t, wethAddr, holdings[0].Token)
	require.Equal(t, "WETH", holdings[0].Symbol)
	require.InDelta(t, 2.0, holdings[0].Balance, 1e-9)
	require.InDelta(t, 6000.0, holdings[0].ValueUsd, 1e-9)

	require.Equal(t, usdcAddr, holdings[1].Token)
	require.InDelta(t, 60.0, holdings[1].Balance, 1e-9, "6-decimal net balance")

	total := holdings[0].Percent + holdings[1].Percent
	require.InDelta(t, 100.0, total, 1e-9, "shares sum to 100")
	require.Greater(t, holdings[0].Percent, holdings[1].Percent)
}

func TestHoldingsUnpricedTokenHasNoShare(t *testing.T) {
	ts := time.Now().Unix()
	events := []types.UnifiedEvent{
		evt(outsider, ours1, usdcAddr, "50000000", 50, ts),
		evt(outsider, ours1, "0xdead000000000000000000000000000000000001", "1000", 0, ts),
	}
	holdings := Holdings([]string{ours1}, "ETH", events, labels.Default(), map[string]float64{usdcAddr: 1.0})
	require.Len(t, holdings, 2)
	require.InDelta(t, 100.0, holdings[0].Percent, 1e-9)
	require.Zero(t, holdings[1].Percent)
	require.Zero(t, holdings[1].ValueUsd)
}

func TestFlowsDailySeries(t *testing.T) {
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []types.UnifiedEvent{
		evt(outsider, ours1, usdcAddr, "1", 100, day0.Add(10*time.Hour).Unix()),
		evt(ours1, outsider, usdcAddr, "1", 30, day0.Add(11*time.Hour).Unix()),
		evt(outsider, ours1, usdcAddr, "1", 50, day0.Add(49*time.Hour).Unix()),
	}

	series := Flows([]string{ours1}, events, day0, day0.Add(72*time.Hour))
	require.Len(t, series, 4)

	require.InDelta(t, 100.0, series[0].InflowUsd, 1e-9)
	require.InDelta(t, 30.0, series[0].OutflowUsd, 1e-9)
	require.InDelta(t, 70.0, series[0].NetUsd, 1e-9)

	require.Zero(t, series[1].InflowUsd, "quiet day stays in the series")
	require.InDelta(t, 50.0, series[2].InflowUsd, 1e-9)
	require.Zero(t, series[3].NetUsd)
}

func TestTokenFlowsDominantDirection(t *testing.T) {
	ts := time.Now().Unix()
	events := []types.UnifiedEvent{
		// USDC: in 100, out 95 -> |5| < 10% of 195: neutral.
		evt(outsider, ours1, usdcAddr, "1", 100, ts),
		evt(ours1, outsider, usdcAddr, "1", 95, ts+1),
		// WETH: in 1000, out 0: inflow.
		evt(outsider, ours1, wethAddr, "1", 1000, ts+2),
	}

	flows := TokenFlows([]string{ours1}, "ETH", events, labels.Default())
	require.Len(t, flows, 2)

	require.Equal(t, wethAddr, flows[0].Token, "largest gross first")
	require.Equal(t, FlowInflow, flows[0].DominantFlow)
	require.Equal(t, FlowNeutral, flows[1].DominantFlow)

	// Flip the USDC balance decisively outward.
	events = append(events, evt(ours1, outsider, usdcAddr, "1", 400, ts+3))
	flows = TokenFlows([]string{ours1}, "ETH", events, labels.Default())
	require.Equal(t, usdcAddr, flows[1].Token)
	require.Equal(t, FlowOutflow, flows[1].DominantFlow)
}

func TestBridgesGroupByDestination(t *testing.T) {
	ts := time.Now().Unix()
	events := []types.UnifiedEvent{
		evt(ours1, arbBridge, usdcAddr, "1", 1000, ts),
		evt(ours1, arbBridge, usdcAddr, "1", 500, ts+1),
		evt(outsider, ours1, usdcAddr, "1", 9999, ts+2), // not a bridge
	}

	bridges := Bridges([]string{ours1}, "ETH", events, labels.Default())
	require.Len(t, bridges, 1)
	require.Equal(t, "Arbitrum One Bridge", bridges[0].Bridge)
	require.Equal(t, "ARB", bridges[0].ToChain)
	require.Equal(t, BridgeL1ToL2, bridges[0].Direction)
	require.Equal(t, 2, bridges[0].TxCount)
	require.InDelta(t, 1500.0, bridges[0].VolumeUsd, 1e-9)
}

func TestBridgeDirections(t *testing.T) {
	require.Equal(t, BridgeL1ToL2, bridgeDirection("ETH", "ARB"))
	require.Equal(t, BridgeL2ToL1, bridgeDirection("OP", "ETH"))
	require.Equal(t, BridgeCrossChain, bridgeDirection("ETH", "*"))
	require.Equal(t, BridgeCrossChain, bridgeDirection("ARB", "POLY"))
}

func TestBridgesOnL2Network(t *testing.T) {
	ts := time.Now().Unix()
	ev := types.UnifiedEvent{
		Network:      "OP",
		From:         ours1,
		To:           opL2Bridge,
		TokenAddress: usdcAddr,
		Amount:       "1",
		AmountUsd:    250,
		Timestamp:    ts,
		EventType:    types.EventTransfer,
	}
	bridges := Bridges([]string{ours1}, "OP", []types.UnifiedEvent{ev}, labels.Default())
	require.Len(t, bridges, 1)
	require.Equal(t, BridgeL2ToL1, bridges[0].Direction)
}
