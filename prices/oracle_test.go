package prices

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/internal/testlog"
	"github.com/arguslabs/argus/labels"
)

func TestStaticLookup(t *testing.T) {
	o := NewStatic(map[string]float64{
		"ETH:0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": 2200,
	})
	v, ok := o.USD(context.Background(), "eth", "0xC02AAA39B223FE8D0A0E5C4F27EAD9083C756CC2", time.Now())
	require.True(t, ok)
	require.Equal(t, 2200.0, v)

	_, ok = o.USD(context.Background(), "ETH", "0x01", time.Now())
	require.False(t, ok)
}

func TestStablePeg(t *testing.T) {
	o := NewStables(labels.Default())
	v, ok := o.USD(context.Background(), "ETH", "0xdac17f958d2ee523a2206206994597c13d831ec7", time.Now())
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	_, ok = o.USD(context.Background(), "ETH", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", time.Now())
	require.False(t, ok)
}

func TestChainOrder(t *testing.T) {
	first := NewStatic(map[string]float64{"ETH:0xaa": 5})
	second := NewStatic(map[string]float64{"ETH:0xaa": 9, "ETH:0xbb": 7})
	c := Chain{first, second}

	v, ok := c.USD(context.Background(), "ETH", "0xaa", time.Now())
	require.True(t, ok)
	require.Equal(t, 5.0, v, "first oracle wins")

	v, ok = c.USD(context.Background(), "ETH", "0xbb", time.Now())
	require.True(t, ok)
	require.Equal(t, 7.0, v)

	_, ok = c.USD(context.Background(), "ETH", "0xcc", time.Now())
	require.False(t, ok)
}

func TestHTTPCachesWithinBucket(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "ETH", r.URL.Query().Get("network"))
		fmt.Fprintf(w, `{"usd": 3.25}`)
	}))
	defer srv.Close()

	o := NewHTTP(srv.URL, time.Minute, testlog.Logger(t))
	at := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		v, ok := o.USD(context.Background(), "ETH", "0xaa", at)
		require.True(t, ok)
		require.Equal(t, 3.25, v)
	}
	require.Equal(t, 1, calls, "same staleness bucket must hit the cache")

	_, ok := o.USD(context.Background(), "ETH", "0xaa", at.Add(2*time.Minute))
	require.True(t, ok)
	require.Equal(t, 2, calls, "next bucket refetches")
}

func TestHTTPFailureIsNotAPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewHTTP(srv.URL, time.Minute, testlog.Logger(t))
	_, ok := o.USD(context.Background(), "ETH", "0xaa", time.Unix(1700000000, 0))
	require.False(t, ok)
}
