// Package adapter turns raw EVM logs into unified events. It is the
// only package that speaks JSON-RPC; everything above it works on
// normalized data.
//
// The adapter does not retry. A failed fetch surfaces to the caller,
// which owns pacing and backoff. The one softened failure is block
// timestamp resolution: a log whose header cannot be fetched keeps the
// ingestion time instead, counted and logged as degradation.
package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/arguslabs/argus/labels"
	"github.com/arguslabs/argus/params"
	"github.com/arguslabs/argus/prices"
	"github.com/arguslabs/argus/rpcpool"
	"github.com/arguslabs/argus/types"
)

const (
	// headerCacheSize bounds the block timestamp cache across all
	// networks.
	headerCacheSize = 65536

	// defaultHeaderConcurrency caps the parallel header fetches per
	// window.
	defaultHeaderConcurrency = 8
)

// Adapter fetches and normalizes logs for every configured network
// through the provider pool.
type Adapter struct {
	log    log.Logger
	pool   *rpcpool.Pool
	oracle prices.Oracle
	labels *labels.Registry

	headerTimes *lru.Cache
	headerConc  int
	now         func() time.Time
}

// WindowResult is one fetched and normalized block range.
type WindowResult struct {
	Events             []types.UnifiedEvent
	RawLogs            int
	Skipped            int
	TimestampFallbacks int
	Provider           string
	Latency            time.Duration
}

// New wires an adapter. A nil oracle disables USD enrichment and a
// nil registry falls back to the builtin labels.
func New(pool *rpcpool.Pool, oracle prices.Oracle, reg *labels.Registry, logger log.Logger) *Adapter {
	if oracle == nil {
		oracle = prices.Nop{}
	}
	if reg == nil {
		reg = labels.Default()
	}
	cache, _ := lru.New(headerCacheSize)
	return &Adapter{
		log:         logger.New("module", "adapter"),
		pool:        pool,
		oracle:      oracle,
		labels:      reg,
		headerTimes: cache,
		headerConc:  defaultHeaderConcurrency,
		now:         time.Now,
	}
}

// FetchHead returns the current head block number of a network.
func (a *Adapter) FetchHead(ctx context.Context, network string) (uint64, error) {
	h, err := a.pool.Acquire(ctx, network)
	if err != nil {
		return 0, err
	}
	headMeter.Mark(1)

	var head uint64
	err = func() error {
		if err := h.Wait(ctx, 1); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, h.Timeout())
		defer cancel()
		n, err := h.Client().BlockNumber(cctx)
		head = n
		return err
	}()
	h.Done(err)
	if err != nil {
		return 0, fmt.Errorf("fetching %s head via %s: %w", network, h.ProviderID(), err)
	}
	return head, nil
}

// FetchWindow fetches one planned window with the given topic filter.
func (a *Adapter) FetchWindow(ctx context.Context, w types.BlockWindow, filter TopicFilter, source types.IngestionSource) (*WindowResult, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.FromBlock),
		ToBlock:   new(big.Int).SetUint64(w.ToBlock),
		Topics:    [][]common.Hash{filter.Topics()},
	}
	return a.fetch(ctx, w.Chain, query, source)
}

// FetchAddressTransfers fetches the transfers one address sent or
// received inside a block range. Bootstrap uses it to replay a wallet
// without pulling whole-chain windows.
func (a *Adapter) FetchAddressTransfers(ctx context.Context, network string, from, to uint64, addr common.Address, dir types.Direction, source types.IngestionSource) (*WindowResult, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	switch dir {
	case types.DirectionOut:
		query.Topics = [][]common.Hash{{TransferTopic}, {addressTopic(addr)}}
	default:
		query.Topics = [][]common.Hash{{TransferTopic}, nil, {addressTopic(addr)}}
	}
	return a.fetch(ctx, network, query, source)
}

// FetchTokenTransfers fetches every transfer of one token contract
// inside a block range.
func (a *Adapter) FetchTokenTransfers(ctx context.Context, network string, from, to uint64, token common.Address, source types.IngestionSource) (*WindowResult, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferTopic}},
	}
	return a.fetch(ctx, network, query, source)
}

func (a *Adapter) fetch(ctx context.Context, network string, query ethereum.FilterQuery, source types.IngestionSource) (res *WindowResult, err error) {
	chainID := params.ChainID(network)

	h, err := a.pool.Acquire(ctx, network)
	if err != nil {
		return nil, err
	}
	defer func() { h.Done(err) }()

	start := a.now()
	if err = h.Wait(ctx, 1); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, h.Timeout())
	logs, err := h.Client().FilterLogs(cctx, query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetching %s logs via %s: %w", network, h.ProviderID(), err)
	}
	logsMeter.Mark(int64(len(logs)))

	blocks := make(map[uint64]struct{}, len(logs))
	for i := range logs {
		blocks[logs[i].BlockNumber] = struct{}{}
	}
	times, fallbacks := a.resolveTimestamps(ctx, h, network, blocks)

	res = &WindowResult{
		Events:             make([]types.UnifiedEvent, 0, len(logs)),
		RawLogs:            len(logs),
		TimestampFallbacks: fallbacks,
		Provider:           h.ProviderID(),
	}
	for i := range logs {
		ev, ok := normalize(network, chainID, logs[i], times[logs[i].BlockNumber], source)
		if !ok {
			res.Skipped++
			continue
		}
		a.price(ctx, network, &ev)
		res.Events = append(res.Events, ev)
	}
	res.Latency = a.now().Sub(start)

	fetchTimer.Update(res.Latency)
	eventsMeter.Mark(int64(len(res.Events)))
	skippedMeter.Mark(int64(res.Skipped))
	return res, nil
}

type headerKey struct {
	network string
	block   uint64
}

// resolveTimestamps maps block numbers to header times, fanning out
// bounded parallel header fetches for cache misses. A block whose
// header cannot be read gets the current time; the count comes back
// so callers can surface the degradation.
func (a *Adapter) resolveTimestamps(ctx context.Context, h *rpcpool.Handle, network string, blocks map[uint64]struct{}) (map[uint64]int64, int) {
	times := make(map[uint64]int64, len(blocks))
	missing := make([]uint64, 0, len(blocks))
	for n := range blocks {
		if ts, ok := a.headerTimes.Get(headerKey{network, n}); ok {
			times[n] = ts.(int64)
			continue
		}
		missing = append(missing, n)
	}
	if len(missing) == 0 {
		return times, 0
	}

	var (
		mu        sync.Mutex
		fallbacks int
	)
	nowTs := a.now().UTC().Unix()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.headerConc)
	for _, n := range missing {
		n := n
		g.Go(func() error {
			ts, err := a.headerTime(gctx, h, n)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				times[n] = nowTs
				fallbacks++
				return nil
			}
			times[n] = ts
			a.headerTimes.Add(headerKey{network, n}, ts)
			return nil
		})
	}
	g.Wait()

	if fallbacks > 0 {
		tsFallbackMeter.Mark(int64(fallbacks))
		a.log.Warn("Block timestamps unavailable, using ingestion time", "network", network, "blocks", fallbacks, "provider", h.ProviderID())
	}
	return times, fallbacks
}

func (a *Adapter) headerTime(ctx context.Context, h *rpcpool.Handle, block uint64) (int64, error) {
	if err := h.Wait(ctx, 1); err != nil {
		return 0, err
	}
	cctx, cancel := context.WithTimeout(ctx, h.Timeout())
	defer cancel()
	header, err := h.Client().HeaderByNumber(cctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, err
	}
	return int64(header.Time), nil
}

// price fills AmountUsd for transfers of tokens the oracle knows.
func (a *Adapter) price(ctx context.Context, network string, ev *types.UnifiedEvent) {
	if ev.EventType != types.EventTransfer || ev.TokenAddress == "" {
		return
	}
	usd, ok := a.oracle.USD(ctx, network, ev.TokenAddress, time.Unix(ev.Timestamp, 0).UTC())
	if !ok {
		return
	}
	amount, err := uint256.FromDecimal(ev.Amount)
	if err != nil {
		return
	}
	ev.AmountUsd = amountToUnits(amount, a.labels.Decimals(network, ev.TokenAddress)) * usd
}
