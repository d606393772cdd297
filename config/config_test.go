package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/ingest"
	"github.com/arguslabs/argus/params"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Ingest.Networks = []string{"ETH"}
	cfg.Providers = []Provider{{
		Network:   "ETH",
		ID:        "primary",
		URL:       "https://eth.example.org/v1/abc",
		Weight:    2,
		RateLimit: 300,
	}}
	return cfg
}

func TestCheckAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Check())
}

func TestDefaultsNeedProviders(t *testing.T) {
	cfg := Defaults()
	err := cfg.Check()
	require.ErrorContains(t, err, "has no providers")
}

func TestCheckRejectsBadMongoURI(t *testing.T) {
	cfg := validConfig()
	cfg.Mongo.URI = "postgres://localhost:5432"
	require.ErrorContains(t, cfg.Check(), "mongodb")

	cfg.Mongo.URI = ""
	require.ErrorContains(t, cfg.Check(), "Mongo.URI")
}

func TestCheckRejectsUnknownNetwork(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Networks = append(cfg.Ingest.Networks, "DOGE")
	require.ErrorContains(t, cfg.Check(), "DOGE")
}

func TestCheckRejectsBoostMode(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Mode = ingest.ModeBoost
	require.ErrorContains(t, cfg.Check(), "runtime-only")

	cfg.Ingest.Mode = "TURBO"
	require.ErrorContains(t, cfg.Check(), "TURBO")
}

func TestCheckRejectsUnknownStage(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Stages = []string{"pools", "minting"}
	require.ErrorContains(t, cfg.Check(), "minting")
}

func TestCheckAcceptsStageAliases(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Stages = []string{"Pools", "SWAPS", "liquidity"}
	require.NoError(t, cfg.Check())
}

func TestCheckRejectsDuplicateProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = append(cfg.Providers, cfg.Providers[0])
	require.ErrorContains(t, cfg.Check(), "duplicate provider ETH/primary")
}

func TestCheckRejectsBadProviderURL(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].URL = "ftp://eth.example.org"
	require.ErrorContains(t, cfg.Check(), "URL")

	cfg.Providers[0].URL = "not a url"
	require.ErrorContains(t, cfg.Check(), "URL")
}

func TestCheckRequiresProviderCoverage(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Networks = []string{"ETH", "BASE"}
	require.ErrorContains(t, cfg.Check(), "BASE has no providers")
}

func TestPoolConfigGroupsByNetwork(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = []Provider{
		{Network: "eth", ID: "a", URL: "https://a.example.org", Weight: 1},
		{Network: "ETH", ID: "b", URL: "wss://b.example.org", Weight: 3, Cooldown: time.Minute},
		{Network: "BASE", ID: "c", URL: "https://c.example.org"},
	}
	pool := cfg.PoolConfig()
	require.Len(t, pool.Networks["ETH"], 2)
	require.Len(t, pool.Networks["BASE"], 1)
	require.Equal(t, "b", pool.Networks["ETH"][1].ID)
	require.Equal(t, time.Minute, pool.Networks["ETH"][1].Cooldown)
}

func TestActiveNetworksDefaultsToAll(t *testing.T) {
	cfg := Defaults()
	require.Len(t, cfg.ActiveNetworks(), len(params.AllNetworks()))

	cfg.Ingest.Networks = []string{"ARB"}
	require.Equal(t, []string{"ARB"}, cfg.ActiveNetworks())
}

func TestBootstrapConfigBridge(t *testing.T) {
	cfg := validConfig()
	cfg.Bootstrap.MaxAttempts = 5
	cfg.Bootstrap.RetryBase = time.Minute
	bc := cfg.BootstrapConfig()
	require.Equal(t, 5, bc.MaxAttempts)
	require.Equal(t, time.Minute, bc.RetryBase)
	require.Equal(t, cfg.Bootstrap.LookbackBlocks, bc.LookbackBlocks)
}
