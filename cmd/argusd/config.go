package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/arguslabs/argus/config"
	"github.com/arguslabs/argus/ingest"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s for available fields", rt.PkgPath())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// loadConfig assembles the effective configuration: built-in defaults,
// then the TOML file, then command line flags.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Defaults()
	if path := ctx.String(configFlag.Name); path != "" {
		if err := loadTOML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyFlags(ctx, &cfg)
	return cfg, nil
}

func loadTOML(path string, cfg *config.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}

// verbosityNames maps --verbosity levels onto config level names.
var verbosityNames = []string{"crit", "error", "warn", "info", "debug", "trace"}

func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet(verbosityFlag.Name) {
		if v := ctx.Int(verbosityFlag.Name); v >= 0 && v < len(verbosityNames) {
			cfg.Node.LogLevel = verbosityNames[v]
		}
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.Node.LogJSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Node.LogFile = ctx.String(logFileFlag.Name)
	}
	if ctx.IsSet(metricsFlag.Name) {
		cfg.Node.Metrics = ctx.Bool(metricsFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.Node.MetricsAddr = ctx.String(metricsAddrFlag.Name)
	}
	if ctx.IsSet(mongoURIFlag.Name) {
		cfg.Mongo.URI = ctx.String(mongoURIFlag.Name)
	}
	if ctx.IsSet(mongoDBFlag.Name) {
		cfg.Mongo.Database = ctx.String(mongoDBFlag.Name)
	}
	if ctx.IsSet(networksFlag.Name) {
		var tags []string
		for _, t := range strings.Split(ctx.String(networksFlag.Name), ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, strings.ToUpper(t))
			}
		}
		cfg.Ingest.Networks = tags
	}
	if ctx.IsSet(modeFlag.Name) {
		cfg.Ingest.Mode = ingest.Mode(strings.ToUpper(ctx.String(modeFlag.Name)))
	}
}

// dumpConfig prints the effective configuration in TOML form.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
