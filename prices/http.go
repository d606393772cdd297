package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultStaleness = 5 * time.Minute
	cacheEntries     = 8192
	requestTimeout   = 5 * time.Second
)

// HTTP asks an external price endpoint and caches answers with
// bounded staleness. Request shape:
//
//	GET {endpoint}?network=ETH&token=0x...&ts=1700000000
//	-> {"usd": 1.0004}
//
// Lookup failures are cached negatively for one staleness interval so
// a dead endpoint does not amplify into a request storm.
type HTTP struct {
	endpoint  string
	staleness time.Duration
	client    *http.Client
	cache     *lru.Cache
	log       log.Logger
}

type cachedPrice struct {
	usd float64
	ok  bool
}

type priceResponse struct {
	Usd float64 `json:"usd"`
}

// NewHTTP builds an HTTP oracle for endpoint. A zero staleness picks
// the default of five minutes.
func NewHTTP(endpoint string, staleness time.Duration, logger log.Logger) *HTTP {
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	cache, _ := lru.New(cacheEntries)
	return &HTTP{
		endpoint:  endpoint,
		staleness: staleness,
		client:    &http.Client{Timeout: requestTimeout},
		cache:     cache,
		log:       logger.New("oracle", "http"),
	}
}

func (h *HTTP) USD(ctx context.Context, network, token string, at time.Time) (float64, bool) {
	if at.IsZero() {
		at = time.Now()
	}
	bucket := at.Unix() / int64(h.staleness/time.Second)
	ck := fmt.Sprintf("%s:%d", key(network, token), bucket)
	if v, ok := h.cache.Get(ck); ok {
		c := v.(cachedPrice)
		return c.usd, c.ok
	}
	usd, ok := h.fetch(ctx, network, token, at)
	h.cache.Add(ck, cachedPrice{usd: usd, ok: ok})
	return usd, ok
}

func (h *HTTP) fetch(ctx context.Context, network, token string, at time.Time) (float64, bool) {
	q := url.Values{}
	q.Set("network", network)
	q.Set("token", token)
	q.Set("ts", fmt.Sprintf("%d", at.Unix()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		h.log.Debug("Price request build failed", "token", token, "err", err)
		return 0, false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Debug("Price request failed", "token", token, "err", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.log.Debug("Price endpoint status", "token", token, "status", resp.StatusCode)
		return 0, false
	}
	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		h.log.Debug("Price response decode failed", "token", token, "err", err)
		return 0, false
	}
	if pr.Usd <= 0 {
		return 0, false
	}
	return pr.Usd, true
}
