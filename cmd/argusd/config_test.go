package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/arguslabs/argus/config"
	"github.com/arguslabs/argus/ingest"
)

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argusd.toml")
	data := `
[Mongo]
URI = "mongodb://db0.internal:27017"
Database = "argus_test"
Timeout = 15000000000

[Ingest]
Networks = ["ETH", "BASE"]
MaxBurst = 4

[Ingest.StartBlocks]
ETH = 17000000

[[Providers]]
Network = "ETH"
ID = "primary"
URL = "https://eth.example.org"
Weight = 2

[[Providers]]
Network = "BASE"
ID = "primary"
URL = "https://base.example.org"

[Cron]
Relations = "@every 5m"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := config.Defaults()
	require.NoError(t, loadTOML(path, &cfg))

	require.Equal(t, "mongodb://db0.internal:27017", cfg.Mongo.URI)
	require.Equal(t, "argus_test", cfg.Mongo.Database)
	require.Equal(t, 15*time.Second, cfg.Mongo.Timeout)
	require.Equal(t, []string{"ETH", "BASE"}, cfg.Ingest.Networks)
	require.Equal(t, 4, cfg.Ingest.MaxBurst)
	require.Equal(t, uint64(17_000_000), cfg.Ingest.StartBlocks["ETH"])
	require.Len(t, cfg.Providers, 2)
	require.Equal(t, "@every 5m", cfg.Cron.Relations)

	// untouched sections keep their defaults
	require.Equal(t, ingest.DefaultSleep, cfg.Ingest.Sleep)
	require.Equal(t, "info", cfg.Node.LogLevel)

	require.NoError(t, cfg.Check())
}

func TestLoadTOMLRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argusd.toml")
	data := `
[Mongo]
Uri = "mongodb://db0.internal:27017"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := config.Defaults()
	err := loadTOML(path, &cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Uri")
}

func TestApplyFlagOverrides(t *testing.T) {
	var got config.Config
	probe := &cli.App{
		Flags: app.Flags,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			got = cfg
			return nil
		},
	}
	err := probe.Run([]string{"argusd",
		"--mongo.uri", "mongodb://flag.example:27017",
		"--networks", "eth, base",
		"--verbosity", "4",
		"--mode", "full",
	})
	require.NoError(t, err)
	require.Equal(t, "mongodb://flag.example:27017", got.Mongo.URI)
	require.Equal(t, []string{"ETH", "BASE"}, got.Ingest.Networks)
	require.Equal(t, "debug", got.Node.LogLevel)
	require.Equal(t, ingest.ModeFull, got.Ingest.Mode)
}

func TestDumpConfigRoundTrips(t *testing.T) {
	cfg := config.Defaults()
	cfg.Ingest.Networks = []string{"ETH"}
	cfg.Providers = []config.Provider{{
		Network:  "ETH",
		ID:       "a",
		URL:      "https://a.example.org",
		Weight:   1,
		Cooldown: 30 * time.Second,
	}}

	out, err := tomlSettings.Marshal(&cfg)
	require.NoError(t, err)

	var back config.Config
	require.NoError(t, tomlSettings.NewDecoder(bytes.NewReader(out)).Decode(&back))
	require.Equal(t, cfg.Mongo, back.Mongo)
	require.Equal(t, cfg.Providers, back.Providers)
	require.Equal(t, cfg.Cron, back.Cron)
	require.Equal(t, cfg.Ingest.Networks, back.Ingest.Networks)
}
