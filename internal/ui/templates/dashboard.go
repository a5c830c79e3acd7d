// Package templates holds the dashboard's templ components.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"retail-segments/internal/models"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.5/bundles/datastar.js"

// DashboardData is what the index page shows before any SSE update.
type DashboardData struct {
	Title     string
	RunID     string
	Source    string
	Method    string
	Clusters  int
	Products  int
	Stats     models.LoadStats
	Summaries []models.ClusterSummary
	Ready     bool
}

// Dashboard renders the full index page.
func Dashboard(data DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		fmt.Fprintf(&b, `<title>%s</title>`, templ.EscapeString(data.Title))
		fmt.Fprintf(&b, `<script type="module" src="%s"></script>`, datastarScript)
		b.WriteString(`<style>` + styles + `</style></head><body>`)

		fmt.Fprintf(&b, `<header><h1>%s</h1>`, templ.EscapeString(data.Title))
		if data.Ready {
			fmt.Fprintf(&b, `<p class="meta">%s on <code>%s</code>, k=%d, %d products, run <code>%s</code></p>`,
				templ.EscapeString(data.Method), templ.EscapeString(data.Source),
				data.Clusters, data.Products, templ.EscapeString(data.RunID))
			fmt.Fprintf(&b, `<p class="meta">%d rows read, %d valid, %d dropped for missing fields, %d rejected</p>`,
				data.Stats.RowsRead, data.Stats.RowsValid, data.Stats.RowsDropped, data.Stats.RowsRejected)
		}
		b.WriteString(`<button data-on-click="@get('/sse/refresh-all')">Refresh</button></header><main>`)

		b.WriteString(`<section><h2>Cluster summary</h2>`)
		if err := ClusterTable(data.Method, data.Summaries).Render(ctx, &b); err != nil {
			return err
		}
		b.WriteString(`</section>`)

		b.WriteString(`<section class="charts">`)
		for _, c := range []struct{ title, path string }{
			{"Elbow curve", "/charts/elbow"},
			{"Segments", "/charts/scatter"},
			{"Dendrogram", "/charts/dendrogram"},
		} {
			fmt.Fprintf(&b, `<figure><figcaption><a href="%s">%s</a></figcaption><iframe src="%s" loading="lazy"></iframe></figure>`,
				c.path, c.title, c.path)
		}
		b.WriteString(`</section>`)
		b.WriteString(`<section><h2>Top products</h2><div id="products-content"><a href="/api/products?limit=20">/api/products</a></div></section>`)
		b.WriteString(`</main></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// ClusterTable renders the per-cluster means. Its root id is the SSE patch
// target.
func ClusterTable(method string, summaries []models.ClusterSummary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div id="cluster-content">`)
		if len(summaries) == 0 {
			b.WriteString(`<p>No segmentation loaded yet.</p></div>`)
			_, err := io.WriteString(w, b.String())
			return err
		}
		b.WriteString(`<table class="modern-table"><thead><tr>`)
		fmt.Fprintf(&b, `<th>Cluster (%s)</th><th>Size</th>`, templ.EscapeString(method))
		for _, name := range models.FeatureNames {
			fmt.Fprintf(&b, `<th>%s</th>`, name)
		}
		b.WriteString(`<th>TotalRevenue</th></tr></thead><tbody>`)
		for _, s := range summaries {
			fmt.Fprintf(&b, `<tr><td>%d</td><td>%d</td><td>%.2f</td><td>%.2f</td><td>%.2f</td><td><strong>%.2f</strong></td></tr>`,
				s.Cluster, s.Size, s.MeanQuantitySold, s.MeanAvgUnitPrice, s.MeanTransactionCount, s.MeanRevenue)
		}
		b.WriteString(`</tbody></table></div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// ProductTable lists product assignments for the products panel.
func ProductTable(products []models.ProductAssignment) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div id="products-content"><table class="modern-table"><thead><tr>`)
		b.WriteString(`<th>StockCode</th><th>Description</th><th>Cluster</th><th>Quantity</th><th>Avg price</th><th>Invoices</th><th>Revenue</th>`)
		b.WriteString(`</tr></thead><tbody>`)
		for _, p := range products {
			fmt.Fprintf(&b, `<tr><td>%s</td><td>%s</td><td><span class="category-badge">%d</span></td><td>%d</td><td>%s</td><td>%d</td><td>%s</td></tr>`,
				templ.EscapeString(p.StockCode), templ.EscapeString(p.Description), p.Cluster,
				p.TotalQuantitySold, p.AvgUnitPrice.StringFixed(2), p.TransactionCount, p.TotalRevenue.StringFixed(2))
		}
		b.WriteString(`</tbody></table></div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// RenderString renders c into a string, for SSE element patches.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

const styles = `
body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f9;color:#1d2330}
header{padding:1.5rem 2rem;background:#1d2330;color:#fff}
header .meta{margin:.25rem 0;opacity:.8}
main{padding:1.5rem 2rem}
.modern-table{border-collapse:collapse;width:100%;background:#fff}
.modern-table th,.modern-table td{padding:.5rem .75rem;border-bottom:1px solid #e3e6eb;text-align:right}
.modern-table th:first-child,.modern-table td:first-child{text-align:left}
.category-badge{background:#e8eefc;border-radius:4px;padding:0 .4rem}
.charts{display:grid;grid-template-columns:repeat(auto-fit,minmax(480px,1fr));gap:1rem}
.charts iframe{width:100%;height:640px;border:0;background:#fff}
`
