// Package report renders cluster summaries for the console.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"retail-segments/internal/cluster"
	"retail-segments/internal/models"
)

const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Formats lists the accepted values of the --format flag.
var Formats = []string{FormatTable, FormatJSON, FormatMarkdown}

// Title names the method, e.g. "Hierarchical Cluster Summary:".
func Title(method string) string {
	switch method {
	case cluster.MethodHierarchical:
		return "Hierarchical Cluster Summary:"
	default:
		return "K-Means Cluster Summary:"
	}
}

// indexName is the label column heading for the summary table.
func indexName(method string) string {
	if method == cluster.MethodHierarchical {
		return "Cluster(Hierarchical)"
	}
	return "Cluster(KMeans)"
}

// Write renders seg in the named format.
func Write(w io.Writer, format string, seg *models.Segmentation) error {
	switch strings.ToLower(format) {
	case FormatTable, "":
		return WriteTable(w, seg)
	case FormatJSON:
		return WriteJSON(w, seg)
	case FormatMarkdown, "md":
		return WriteMarkdown(w, seg)
	default:
		return fmt.Errorf("unknown report format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// WriteTable prints the per-cluster feature means as an aligned table.
func WriteTable(w io.Writer, seg *models.Segmentation) error {
	if _, err := fmt.Fprintln(w, Title(seg.Method)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t%s\t%s\t\n", models.FeatureNames[0], models.FeatureNames[1], models.FeatureNames[2])
	fmt.Fprintf(tw, "%s\t\t\t\t\n", indexName(seg.Method))
	for _, s := range seg.Summaries {
		fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%.6f\t\n",
			s.Cluster, s.MeanQuantitySold, s.MeanAvgUnitPrice, s.MeanTransactionCount)
	}
	return tw.Flush()
}

type jsonReport struct {
	RunID      string                  `json:"run_id"`
	Source     string                  `json:"source"`
	Method     string                  `json:"method"`
	Clusters   int                     `json:"clusters"`
	Products   int                     `json:"products"`
	Stats      models.LoadStats        `json:"load_stats"`
	Summaries  []models.ClusterSummary `json:"summaries"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

func WriteJSON(w io.Writer, seg *models.Segmentation) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		RunID:      seg.RunID.String(),
		Source:     seg.Source,
		Method:     seg.Method,
		Clusters:   seg.Clusters,
		Products:   len(seg.Products),
		Stats:      seg.Stats,
		Summaries:  seg.Summaries,
		StartedAt:  seg.StartedAt,
		FinishedAt: seg.FinishedAt,
	})
}

func WriteMarkdown(w io.Writer, seg *models.Segmentation) error {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", strings.TrimSuffix(Title(seg.Method), ":"))
	b.WriteString("| Cluster | Size | TotalQuantitySold | AvgUnitPrice | TransactionCount | TotalRevenue |\n")
	b.WriteString("|---:|---:|---:|---:|---:|---:|\n")
	for _, s := range seg.Summaries {
		fmt.Fprintf(&b, "| %d | %d | %.2f | %.2f | %.2f | %.2f |\n",
			s.Cluster, s.Size, s.MeanQuantitySold, s.MeanAvgUnitPrice, s.MeanTransactionCount, s.MeanRevenue)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteElbow prints the WCSS curve one k per line.
func WriteElbow(w io.Writer, points []models.ElbowPoint) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "k\tWCSS\t")
	for _, p := range points {
		fmt.Fprintf(tw, "%d\t%.4f\t\n", p.K, p.WCSS)
	}
	return tw.Flush()
}
