// Command sfindex resolves the surface forms of a linked-data dump and
// indexes the enriched entities.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cognicore/sfindex/internal/logger"
	"github.com/cognicore/sfindex/internal/logger/console"
	"github.com/cognicore/sfindex/pkg/sfindex"
	"github.com/cognicore/sfindex/pkg/sfindex/config"
	"github.com/cognicore/sfindex/pkg/sfindex/metrics"
	"github.com/cognicore/sfindex/pkg/sfindex/store/sqlite"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sfindex"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the raw command-line values. Only flags the user set
// override the loaded configuration.
type flags struct {
	configPath string
	overwrite  bool
	ramBuffer  float64
	dir        string
	index      string
	endpoint   string
	graph      string
	lang       string
	filter     bool
	reuse      bool
	workers    int
	rps        float64
	metrics    string
	debug      bool
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Build an entity index from a DBpedia dump",
		Long: `sfindex collects the surface forms of every concept in a DBpedia dump
from its labels, redirects and disambiguation pages, fetches each concept's
attributes from a SPARQL endpoint and writes the merged documents to a
searchable index.

With --filter it only writes the filtered labels file and exits.`,
		SilenceUsage: true,
	}
	f := bindFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd.Flags(), *f)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func bindFlags(fs *pflag.FlagSet) *flags {
	f := &flags{}
	fs.StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML)")
	fs.BoolVarP(&f.overwrite, "overwrite", "o", true, "Recreate the index instead of appending to it (use -o=false to append)")
	fs.Float64VarP(&f.ramBuffer, "ram-buffer", "b", 128, "Index write buffer in MB")
	fs.StringVarP(&f.dir, "dir", "d", ".", "Directory holding the dump files")
	fs.StringVarP(&f.index, "index", "i", "", "Index directory")
	fs.StringVarP(&f.endpoint, "endpoint", "s", "", "SPARQL endpoint URL")
	fs.StringVarP(&f.graph, "graph", "g", "", "Default graph URI")
	fs.StringVarP(&f.lang, "lang", "l", "en", "Dump language code")
	fs.BoolVarP(&f.filter, "filter", "f", false, "Only write the filtered labels file")
	fs.BoolVar(&f.reuse, "reuse-surface-forms", false, "Load the surface form side file when present")
	fs.IntVar(&f.workers, "workers", 1, "Concurrent SPARQL fetchers")
	fs.Float64Var(&f.rps, "rps", 0, "SPARQL requests per second (0 = unlimited)")
	fs.StringVar(&f.metrics, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	return f
}

// buildConfig loads the config file and environment, then applies the
// flags that were set explicitly.
func buildConfig(fs *pflag.FlagSet, f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("overwrite", func() { cfg.OverwriteIndex = f.overwrite })
	set("ram-buffer", func() { cfg.RAMBufferMB = f.ramBuffer })
	set("dir", func() { cfg.BaseDir = f.dir })
	set("index", func() { cfg.IndexDir = f.index })
	set("endpoint", func() { cfg.Endpoint = f.endpoint })
	set("graph", func() { cfg.Graph = f.graph })
	set("lang", func() { cfg.Language = f.lang })
	set("filter", func() { cfg.FilterOnly = f.filter })
	set("reuse-surface-forms", func() { cfg.ReuseSurfaceForms = f.reuse })
	set("workers", func() { cfg.Workers = f.workers })
	set("rps", func() { cfg.RequestsPerSecond = f.rps })
	set("metrics-file", func() { cfg.MetricsFile = f.metrics })
	set("debug", func() { cfg.Debug = f.debug })

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: cfg.Debug, Prefix: appName}))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := sfindex.New(sfindex.Options{
		Config:  cfg,
		Backend: sqlite.Backend{},
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}

	summary, err := driver.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run interrupted", "run", summary.RunID, "state", driver.State().String())
		}
		return fmt.Errorf("run %s: %w", summary.RunID, err)
	}
	return nil
}
