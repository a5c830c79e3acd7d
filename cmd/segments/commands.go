package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"retail-segments/internal/charts"
	"retail-segments/internal/exporter"
	"retail-segments/internal/report"
	"retail-segments/internal/services"
	"retail-segments/internal/store/clickhouse"
)

const sinkTimeout = 30 * time.Second

func summarizeFlags() []cli.Flag {
	flags := []cli.Flag{inputFlag()}
	flags = append(flags, clusterFlags()...)
	return append(flags,
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   report.FormatTable,
			Usage:   "Output format (" + strings.Join(report.Formats, ", ") + ")",
		},
		&cli.StringFlag{
			Name:  "export",
			Usage: "Also write product labels to this .csv or .xlsx file",
		},
		&cli.BoolFlag{
			Name:  "clickhouse",
			Usage: "Store the run in ClickHouse",
		},
	)
}

func summarizeCommand() *cli.Command {
	return &cli.Command{
		Name:   "summarize",
		Usage:  "Cluster products and print per-cluster feature means",
		Flags:  summarizeFlags(),
		Action: runSummarize,
	}
}

func runSummarize(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := c.Context
	run, err := e.segmenter().SummarizeClusters(ctx, e.cfg.Input.Path, e.cfg.Clustering.Clusters, e.cfg.Clustering.Method)
	if err != nil {
		return err
	}

	if err := report.Write(c.App.Writer, c.String("format"), &run.Segmentation); err != nil {
		return err
	}

	if out := c.String("export"); out != "" {
		if err := exporter.ExportFile(out, &run.Segmentation, false); err != nil {
			return err
		}
		e.logger.Info("segments exported", "path", out)
	}

	if e.cfg.ClickHouse.Enabled {
		if err := saveToClickHouse(ctx, e, run); err != nil {
			return err
		}
	}
	return nil
}

func saveToClickHouse(ctx context.Context, e *env, run *services.Run) error {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	store, err := clickhouse.NewStore(e.cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := store.SaveRun(ctx, &run.Segmentation); err != nil {
		return err
	}

	count, err := store.RunCount(ctx, run.Source)
	if err != nil {
		e.logger.Warn("could not count stored runs", "error", err)
		return nil
	}
	e.logger.Info("run stored in clickhouse",
		"run_id", run.RunID,
		"database", e.cfg.ClickHouse.Database,
		"runs_for_source", count,
	)
	return nil
}

func elbowCommand() *cli.Command {
	return &cli.Command{
		Name:  "elbow",
		Usage: "Print the k-means WCSS curve used to pick the cluster count",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.IntFlag{
				Name:  "max-k",
				Usage: "Largest cluster count to evaluate",
			},
			&cli.StringFlag{
				Name:  "html",
				Usage: "Write the elbow chart to this HTML file",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Fail on the first malformed row instead of skipping it",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Ignore and do not write the product cache",
			},
		},
		Action: runElbow,
	}
}

func runElbow(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	points, err := e.segmenter().Elbow(c.Context, e.cfg.Input.Path, e.cfg.Clustering.ElbowMaxK)
	if err != nil {
		return err
	}
	if err := report.WriteElbow(c.App.Writer, points); err != nil {
		return err
	}

	if out := c.String("html"); out != "" {
		if err := charts.WriteFile(out, charts.Elbow(points)); err != nil {
			return err
		}
		e.logger.Info("elbow chart written", "path", out)
	}
	return nil
}

func dendrogramCommand() *cli.Command {
	return &cli.Command{
		Name:  "dendrogram",
		Usage: "Render the Ward linkage of all products as a truncated dendrogram",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.StringFlag{
				Name:  "html",
				Value: "dendrogram.html",
				Usage: "Output HTML file",
			},
			&cli.IntFlag{
				Name:  "truncate",
				Usage: "Number of merged clusters left at the bottom of the tree",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Fail on the first malformed row instead of skipping it",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Ignore and do not write the product cache",
			},
		},
		Action: runDendrogram,
	}
}

func runDendrogram(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	link, products, err := e.segmenter().Linkage(c.Context, e.cfg.Input.Path)
	if err != nil {
		return err
	}
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.StockCode
	}

	tree, err := charts.Dendrogram(link, names, e.cfg.Clustering.DendrogramTruncate)
	if err != nil {
		return err
	}
	out := c.String("html")
	if err := charts.WriteFile(out, tree); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "dendrogram of %d products written to %s\n", len(products), out)
	return nil
}

func exportCommand() *cli.Command {
	flags := []cli.Flag{inputFlag()}
	flags = append(flags, clusterFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:     "out",
			Aliases:  []string{"o"},
			Usage:    "Output file, .csv or .xlsx",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "bom",
			Usage: "Prefix CSV output with a UTF-8 byte order mark",
		},
	)
	return &cli.Command{
		Name:   "export",
		Usage:  "Write every product with its cluster label to a file",
		Flags:  flags,
		Action: runExport,
	}
}

func runExport(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.segmenter().SummarizeClusters(c.Context, e.cfg.Input.Path, e.cfg.Clustering.Clusters, e.cfg.Clustering.Method)
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := exporter.ExportFile(out, &run.Segmentation, c.Bool("bom")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d products in %d clusters written to %s\n",
		len(run.Products), run.Clusters, filepath.Clean(out))
	return nil
}
