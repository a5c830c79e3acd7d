// Command segments groups retail products into segments from their sales
// history.
//
// Usage:
//
//	segments [summarize] --input Online_Retail.csv --clusters 3 --method kmeans
//	segments elbow --max-k 10 --html elbow.html
//	segments dendrogram --html dendrogram.html --truncate 30
//	segments export --out segments.xlsx
//	segments serve
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"retail-segments/internal/config"
	"retail-segments/internal/observability"
	"retail-segments/internal/services"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "segments",
		Usage:   "Cluster retail products by quantity sold, unit price and order count",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags:  append(globalFlags(), summarizeFlags()...),
		Action: runSummarize,

		Commands: []*cli.Command{
			summarizeCommand(),
			elbowCommand(),
			dendrogramCommand(),
			exportCommand(),
			serveCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Optional YAML config file",
			EnvVars: []string{"SEGMENTS_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (debug, info, warn, error)",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format (json, text)",
		},
		&cli.StringFlag{
			Name:  "trace-exporter",
			Usage: "Trace exporter (none, stdout)",
		},
	}
}

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Usage:   "Online Retail dataset (.csv or .xlsx)",
	}
}

func clusterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "clusters",
			Aliases: []string{"k"},
			Usage:   "Number of clusters",
		},
		&cli.StringFlag{
			Name:    "method",
			Aliases: []string{"m"},
			Usage:   "Clustering method (kmeans, hierarchical)",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Fail on the first malformed row instead of skipping it",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Ignore and do not write the product cache",
		},
	}
}

// env is what every command needs after flags and config are resolved.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *observability.Providers
	metrics   *observability.PipelineMetrics
}

// setup loads config, lets set flags override it, and installs logging and
// telemetry. Callers must call close.
func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	providers, err := observability.Setup(cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := observability.NewPipelineMetrics(observability.Meter())
	if err != nil {
		logger.Warn("pipeline metrics disabled", "error", err)
	}

	return &env{cfg: cfg, logger: logger, telemetry: providers, metrics: metrics}, nil
}

func (e *env) close() {
	if err := e.telemetry.Shutdown(context.Background()); err != nil {
		e.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(c *cli.Context, cfg *config.Config) {
	strs := map[string]*string{
		"input":          &cfg.Input.Path,
		"method":         &cfg.Clustering.Method,
		"log-level":      &cfg.Logger.Level,
		"log-format":     &cfg.Logger.Format,
		"trace-exporter": &cfg.Telemetry.TraceExporter,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}

	ints := map[string]*int{
		"clusters": &cfg.Clustering.Clusters,
		"max-k":    &cfg.Clustering.ElbowMaxK,
		"truncate": &cfg.Clustering.DendrogramTruncate,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}

	if c.IsSet("strict") {
		cfg.Input.Strict = c.Bool("strict")
	}
	if c.Bool("no-cache") {
		cfg.Input.CacheEnabled = false
	}
	if c.Bool("clickhouse") {
		cfg.ClickHouse.Enabled = true
	}
}

func (e *env) segmenter() *services.Segmenter {
	opts := []services.SegmenterOption{
		services.WithStrictLoad(e.cfg.Input.Strict),
		services.WithMetrics(e.metrics),
		services.WithKMeansTuning(e.cfg.Clustering.Restarts, e.cfg.Clustering.MaxIterations),
		services.WithMaxHierarchicalRows(e.cfg.Clustering.MaxHierarchicalRows),
	}
	if e.cfg.Input.CacheEnabled {
		opts = append(opts, services.WithCache(services.NewProductCache(e.cfg.Input.CacheDir)))
	}
	return services.NewSegmenter(e.logger, opts...)
}
