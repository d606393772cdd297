// Package rpcpool manages the per-network pools of remote JSON-RPC
// endpoints: weighted provider selection, per-provider token buckets,
// cooldown on rate limits and failure streaks, and the status rows
// the admin surface reads.
//
// The pool is the only component that mutates provider runtime
// counters. Callers acquire a handle, run their calls through it and
// report the outcome exactly once via Done.
package rpcpool

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/arguslabs/argus/types"
)

const (
	// DefaultRequestTimeout bounds one remote call on a provider that
	// does not override it.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultCooldown parks a provider after a rate limit or failure
	// streak.
	DefaultCooldown = 60 * time.Second

	// maxConsecutiveFails is the failure streak that sends a provider
	// into cooldown without an explicit 429.
	maxConsecutiveFails = 3

	// errorScoreDecay is applied to a provider's error score on every
	// success.
	errorScoreDecay = 0.5
)

// ProviderConfig describes one endpoint of a network pool.
type ProviderConfig struct {
	ID        string
	URL       string
	Weight    int           // relative selection weight, minimum 1
	RateLimit int           // requests per minute
	Cooldown  time.Duration // zero picks DefaultCooldown
	Timeout   time.Duration // per-call deadline, zero picks DefaultRequestTimeout
	Disabled  bool
}

// Config is the full pool layout, keyed by uppercase network tag.
type Config struct {
	Networks map[string][]ProviderConfig
}

type provider struct {
	network string
	cfg     ProviderConfig
	limiter *rate.Limiter

	enabled          bool
	inFlight         int
	requestCount     uint64
	errorCount       uint64
	consecutiveFails int
	errorScore       float64
	cooldownUntil    time.Time
	lastError        string

	cli *rpc.Client
	eth *ethclient.Client
}

// Pool is the provider pool across all configured networks.
type Pool struct {
	log log.Logger

	mu       sync.Mutex
	networks map[string][]*provider
	rng      *rand.Rand
	now      func() time.Time
}

// New builds a pool from cfg. Endpoints are dialed lazily on first
// use.
func New(cfg Config, logger log.Logger) (*Pool, error) {
	p := &Pool{
		log:      logger.New("module", "rpcpool"),
		networks: make(map[string][]*provider),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
	for network, provs := range cfg.Networks {
		tag := strings.ToUpper(network)
		if len(provs) == 0 {
			return nil, fmt.Errorf("network %s has no providers", tag)
		}
		for _, pc := range provs {
			if pc.ID == "" || pc.URL == "" {
				return nil, fmt.Errorf("network %s: provider needs id and url", tag)
			}
			if pc.RateLimit <= 0 {
				return nil, fmt.Errorf("network %s provider %s: rate limit must be positive", tag, pc.ID)
			}
			if pc.Weight <= 0 {
				pc.Weight = 1
			}
			if pc.Cooldown <= 0 {
				pc.Cooldown = DefaultCooldown
			}
			if pc.Timeout <= 0 {
				pc.Timeout = DefaultRequestTimeout
			}
			burst := pc.RateLimit / 6
			if burst < 1 {
				burst = 1
			}
			p.networks[tag] = append(p.networks[tag], &provider{
				network: tag,
				cfg:     pc,
				limiter: rate.NewLimiter(rate.Limit(float64(pc.RateLimit)/60.0), burst),
				enabled: !pc.Disabled,
			})
		}
	}
	return p, nil
}

// Handle is one granted provider slot. Exactly one Done call must
// follow a successful Acquire.
type Handle struct {
	pool *Pool
	prov *provider
	done bool
}

// Client returns the dialed client of the granted provider.
func (h *Handle) Client() *ethclient.Client { return h.prov.eth }

// RawClient exposes the underlying RPC client for batch calls.
func (h *Handle) RawClient() *rpc.Client { return h.prov.cli }

// ProviderID names the granted provider.
func (h *Handle) ProviderID() string { return h.prov.cfg.ID }

// Network returns the network tag the handle belongs to.
func (h *Handle) Network() string { return h.prov.network }

// Timeout returns the per-call deadline of the granted provider.
func (h *Handle) Timeout() time.Duration { return h.prov.cfg.Timeout }

// Wait charges n additional requests against the provider budget,
// blocking until the bucket allows them or ctx ends. Fan-out calls
// made through the handle charge their batch size here first.
func (h *Handle) Wait(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	requestMeter.Mark(int64(n))
	h.pool.mu.Lock()
	h.prov.requestCount += uint64(n)
	h.pool.mu.Unlock()

	// WaitN rejects requests above the burst size outright, so large
	// batches drain the bucket in burst-sized chunks.
	burst := h.prov.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := h.prov.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Done reports the call outcome and releases the slot.
func (h *Handle) Done(err error) {
	if h.done {
		return
	}
	h.done = true
	h.pool.release(h.prov, err)
}

// Acquire picks a provider for network and charges one request
// against its budget. It never blocks: budget exhaustion returns a
// RateLimitedError and an empty pool returns a NoProvidersError, both
// carrying a retry hint.
func (p *Pool) Acquire(ctx context.Context, network string) (*Handle, error) {
	tag := strings.ToUpper(network)

	p.mu.Lock()
	defer p.mu.Unlock()

	provs, ok := p.networks[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, tag)
	}
	now := p.now()

	// Heal providers whose cooldown has elapsed.
	for _, pr := range provs {
		if !pr.cooldownUntil.IsZero() && !now.Before(pr.cooldownUntil) {
			pr.cooldownUntil = time.Time{}
			pr.consecutiveFails = 0
		}
	}

	candidates := make([]*provider, 0, len(provs))
	var someSelectable bool
	for _, pr := range provs {
		if !pr.enabled || now.Before(pr.cooldownUntil) {
			continue
		}
		someSelectable = true
		if pr.limiter.Tokens() >= 1 {
			candidates = append(candidates, pr)
		}
	}
	if !someSelectable {
		noProvidersMeter.Mark(1)
		return nil, &NoProvidersError{Network: tag, RetryAfter: p.soonestHeal(provs, now)}
	}

	for len(candidates) > 0 {
		pr := p.pick(candidates)
		if !pr.limiter.Allow() {
			candidates = remove(candidates, pr)
			continue
		}
		if err := pr.dial(ctx); err != nil {
			pr.errorCount++
			pr.lastError = err.Error()
			candidates = remove(candidates, pr)
			continue
		}
		pr.inFlight++
		pr.requestCount++
		acquireMeter.Mark(1)
		requestMeter.Mark(1)
		inFlightGauge.Inc(1)
		return &Handle{pool: p, prov: pr}, nil
	}

	rateLimitedMeter.Mark(1)
	return nil, &RateLimitedError{Network: tag, RetryAfter: p.soonestToken(provs)}
}

// pick draws one candidate with probability proportional to its
// effective weight: the configured weight damped by load and by the
// decayed error score.
func (p *Pool) pick(candidates []*provider) *provider {
	if len(candidates) == 1 {
		return candidates[0]
	}
	weights := make([]float64, len(candidates))
	var total float64
	for i, pr := range candidates {
		w := float64(pr.cfg.Weight) / float64(1+pr.inFlight) / (1 + pr.errorScore)
		weights[i] = w
		total += w
	}
	r := p.rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func remove(provs []*provider, target *provider) []*provider {
	for i, pr := range provs {
		if pr == target {
			return append(provs[:i], provs[i+1:]...)
		}
	}
	return provs
}

// soonestHeal finds when the next disabled-or-cooling provider could
// serve again.
func (p *Pool) soonestHeal(provs []*provider, now time.Time) time.Duration {
	var best time.Duration
	for _, pr := range provs {
		if !pr.enabled || pr.cooldownUntil.IsZero() {
			continue
		}
		d := pr.cooldownUntil.Sub(now)
		if best == 0 || d < best {
			best = d
		}
	}
	if best <= 0 {
		best = DefaultCooldown
	}
	return best
}

// soonestToken estimates the wait until any healthy provider has a
// token again.
func (p *Pool) soonestToken(provs []*provider) time.Duration {
	best := time.Minute
	for _, pr := range provs {
		if !pr.enabled {
			continue
		}
		missing := 1 - pr.limiter.Tokens()
		if missing <= 0 {
			return time.Second
		}
		d := time.Duration(missing / float64(pr.limiter.Limit()) * float64(time.Second))
		if d < best {
			best = d
		}
	}
	if best < time.Second {
		best = time.Second
	}
	return best
}

func (pr *provider) dial(ctx context.Context) error {
	if pr.cli != nil {
		return nil
	}
	cli, err := rpc.DialContext(ctx, pr.cfg.URL)
	if err != nil {
		return err
	}
	pr.cli = cli
	pr.eth = ethclient.NewClient(cli)
	return nil
}

func (p *Pool) release(pr *provider, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inFlightGauge.Dec(1)
	if pr.inFlight > 0 {
		pr.inFlight--
	}
	if err == nil {
		pr.consecutiveFails = 0
		pr.errorScore *= errorScoreDecay
		return
	}

	errorMeter.Mark(1)
	pr.errorCount++
	pr.consecutiveFails++
	pr.errorScore++
	pr.lastError = err.Error()
	now := p.now()

	switch Classify(err) {
	case KindRateLimited:
		pr.cooldownUntil = now.Add(pr.cfg.Cooldown)
		cooldownMeter.Mark(1)
		p.log.Debug("Provider rate limited", "network", pr.network, "provider", pr.cfg.ID, "cooldown", pr.cfg.Cooldown)
	case KindFatal:
		pr.cooldownUntil = now.Add(pr.cfg.Cooldown)
		cooldownMeter.Mark(1)
		p.log.Warn("Provider fatal error", "network", pr.network, "provider", pr.cfg.ID, "err", err)
	default:
		if pr.consecutiveFails >= maxConsecutiveFails {
			pr.cooldownUntil = now.Add(pr.cfg.Cooldown)
			cooldownMeter.Mark(1)
			p.log.Debug("Provider cooling down after failures", "network", pr.network, "provider", pr.cfg.ID, "fails", pr.consecutiveFails)
		}
	}
}

// SetEnabled flips the admin toggle of one provider.
func (p *Pool) SetEnabled(network, providerID string, enabled bool) error {
	tag := strings.ToUpper(network)

	p.mu.Lock()
	defer p.mu.Unlock()

	provs, ok := p.networks[tag]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, tag)
	}
	for _, pr := range provs {
		if pr.cfg.ID == providerID {
			pr.enabled = enabled
			if enabled {
				pr.cooldownUntil = time.Time{}
				pr.consecutiveFails = 0
			}
			p.log.Info("Provider toggled", "network", tag, "provider", providerID, "enabled", enabled)
			return nil
		}
	}
	return fmt.Errorf("provider %s not found on %s", providerID, tag)
}

// Networks lists the configured network tags, sorted.
func (p *Pool) Networks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	tags := make([]string, 0, len(p.networks))
	for tag := range p.networks {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Snapshot renders the status rows of every provider.
func (p *Pool) Snapshot() []types.ProviderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var rows []types.ProviderStatus
	for _, tag := range sortedKeys(p.networks) {
		for _, pr := range p.networks[tag] {
			rows = append(rows, pr.status(now))
		}
	}
	return rows
}

// SnapshotNetwork renders the status rows of one network.
func (p *Pool) SnapshotNetwork(network string) []types.ProviderStatus {
	tag := strings.ToUpper(network)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var rows []types.ProviderStatus
	for _, pr := range p.networks[tag] {
		rows = append(rows, pr.status(now))
	}
	return rows
}

func (pr *provider) status(now time.Time) types.ProviderStatus {
	cooldownLeft := int64(0)
	if now.Before(pr.cooldownUntil) {
		cooldownLeft = pr.cooldownUntil.Sub(now).Milliseconds()
	}
	return types.ProviderStatus{
		Network:        pr.network,
		ProviderID:     pr.cfg.ID,
		Weight:         pr.cfg.Weight,
		RateLimit:      pr.cfg.RateLimit,
		Enabled:        pr.enabled,
		Healthy:        pr.enabled && cooldownLeft == 0,
		RequestCount:   pr.requestCount,
		ErrorCount:     pr.errorCount,
		InFlight:       pr.inFlight,
		LastError:      pr.lastError,
		CooldownUntil:  pr.cooldownUntil,
		CooldownLeftMs: cooldownLeft,
		UpdatedAt:      now,
	}
}

func sortedKeys(m map[string][]*provider) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close tears down all dialed clients.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, provs := range p.networks {
		for _, pr := range provs {
			if pr.cli != nil {
				pr.cli.Close()
				pr.cli, pr.eth = nil, nil
			}
		}
	}
}
