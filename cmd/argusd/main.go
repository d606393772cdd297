// argusd is the ingestion daemon: it pulls transfer and DEX activity
// from the configured networks, maintains the unified ledger and the
// derived relation, analytics and snapshot layers, and runs the
// bootstrap workers for on-demand indexing.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	// Automatically set GOMAXPROCS to match Linux container CPU quota.
	_ "go.uber.org/automaxprocs"

	"github.com/arguslabs/argus/params"
)

var (
	gitCommit = "" // set via linker flag
	gitDate   = ""

	app = cli.NewApp()
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"ARGUSD_CONFIG"},
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs as JSON records",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Mirror logs into a rotated file",
	}
	metricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "Enable metrics collection and reporting",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Address to serve the metrics endpoint on",
	}
	mongoURIFlag = &cli.StringFlag{
		Name:    "mongo.uri",
		Usage:   "MongoDB connection string",
		EnvVars: []string{"ARGUSD_MONGO_URI"},
	}
	mongoDBFlag = &cli.StringFlag{
		Name:  "mongo.db",
		Usage: "MongoDB database name",
	}
	networksFlag = &cli.StringFlag{
		Name:  "networks",
		Usage: "Comma-separated network tags to ingest (default: all known)",
	}
	modeFlag = &cli.StringFlag{
		Name:  "mode",
		Usage: "Initial ingestion mode: LIMITED, STANDARD or FULL",
	}
)

func init() {
	app.Name = "argusd"
	app.Usage = "the Argus ingestion and aggregation daemon"
	app.Version = params.VersionWithCommit(gitCommit, gitDate)
	app.Action = runDaemon
	app.Flags = []cli.Flag{
		configFlag,
		verbosityFlag,
		logJSONFlag,
		logFileFlag,
		metricsFlag,
		metricsAddrFlag,
		mongoURIFlag,
		mongoDBFlag,
		networksFlag,
		modeFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name:   "dumpconfig",
			Usage:  "Print the effective configuration as TOML",
			Action: dumpConfig,
			Flags:  app.Flags,
		},
		{
			Name:   "networks",
			Usage:  "List the supported networks",
			Action: printNetworks,
		},
		{
			Name:   "version",
			Usage:  "Print version numbers",
			Action: printVersion,
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printNetworks(ctx *cli.Context) error {
	table := tablewriter.NewWriter(ctx.App.Writer)
	table.SetHeader([]string{"Tag", "Name", "Chain ID", "Window"})
	table.SetBorder(false)
	for _, n := range params.AllNetworks() {
		table.Append([]string{
			n.Tag,
			n.Name,
			fmt.Sprintf("%d", n.ChainID),
			fmt.Sprintf("%d", n.WindowSize),
		})
	}
	table.Render()
	return nil
}

func printVersion(ctx *cli.Context) error {
	fmt.Println(strings.Title(app.Name))
	fmt.Println("Version:", params.VersionWithMeta)
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	if gitDate != "" {
		fmt.Println("Git Commit Date:", gitDate)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
