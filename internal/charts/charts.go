// Package charts renders segmentation results as standalone ECharts pages.
package charts

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"retail-segments/internal/cluster"
	"retail-segments/internal/models"
)

// DefaultTruncate is the number of clusters left visible at the bottom of a
// truncated dendrogram.
const DefaultTruncate = 30

// Renderer is implemented by every go-echarts chart.
type Renderer interface {
	Render(w io.Writer) error
}

func pageOpts(title string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle: title,
		Width:     "1000px",
		Height:    "600px",
	})
}

// Elbow plots WCSS against the number of clusters.
func Elbow(points []models.ElbowPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		pageOpts("Elbow Method"),
		charts.WithTitleOpts(opts.Title{Title: "The Elbow Method", Subtitle: "k-means WCSS per cluster count"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Number of clusters"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "WCSS"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	xs := make([]string, len(points))
	ys := make([]opts.LineData, len(points))
	for i, p := range points {
		xs[i] = strconv.Itoa(p.K)
		ys[i] = opts.LineData{Value: p.WCSS}
	}
	line.SetXAxis(xs).AddSeries("WCSS", ys)
	return line
}

// Scatter plots products by quantity sold and average price, one series per
// cluster.
func Scatter(seg *models.Segmentation) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		pageOpts("Product Segments"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Product Segments",
			Subtitle: fmt.Sprintf("%s, k=%d", seg.Method, seg.Clusters),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "TotalQuantitySold", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "AvgUnitPrice", Type: "value"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	series := make([][]opts.ScatterData, seg.Clusters)
	for i, p := range seg.Products {
		l := seg.Labels[i]
		if l < 0 || l >= len(series) {
			continue
		}
		series[l] = append(series[l], opts.ScatterData{
			Name:  p.StockCode,
			Value: []interface{}{p.TotalQuantitySold, p.AvgUnitPrice.InexactFloat64()},
		})
	}
	for l, points := range series {
		scatter.AddSeries(fmt.Sprintf("Cluster %d", l), points).
			SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))
	}
	return scatter
}

// Dendrogram draws the top of a Ward linkage as a tree, keeping the last
// p merged clusters as leaves.
func Dendrogram(link *cluster.Linkage, names []string, p int) (*charts.Tree, error) {
	root, err := Truncate(link, names, p)
	if err != nil {
		return nil, err
	}

	tree := charts.NewTree()
	tree.SetGlobalOptions(
		pageOpts("Dendrogram"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Dendrogram",
			Subtitle: fmt.Sprintf("Ward linkage, %d products, last %d merges", link.N, min(p, link.N)),
		}),
	)
	tree.AddSeries("linkage", []opts.TreeData{*root.treeData()}).
		SetSeriesOptions(
			charts.WithTreeOpts(opts.TreeChart{
				Layout: "orthogonal",
				Orient: "TB",
			}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return tree, nil
}

// Node is one vertex of a truncated dendrogram.
type Node struct {
	Name     string
	Height   float64
	Size     int
	Children []*Node
}

func (n *Node) treeData() *opts.TreeData {
	td := &opts.TreeData{Name: n.Name}
	for _, c := range n.Children {
		td.Children = append(td.Children, c.treeData())
	}
	return td
}

// Leaves returns the leaf nodes left to right.
func (n *Node) Leaves() []*Node {
	if len(n.Children) == 0 {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// Truncate builds the dendrogram tree keeping only the last p-1 merges, so
// the result has at most p leaves. Collapsed clusters are named by their
// size in parentheses; single products by names[i], or i when names is nil.
func Truncate(link *cluster.Linkage, names []string, p int) (*Node, error) {
	if link == nil || link.N == 0 {
		return nil, fmt.Errorf("charts: empty linkage")
	}
	if p < 1 {
		return nil, fmt.Errorf("charts: truncate must be positive, got %d", p)
	}
	if names != nil && len(names) != link.N {
		return nil, fmt.Errorf("charts: %d names for %d leaves", len(names), link.N)
	}

	n := link.N
	if n == 1 {
		return leafNode(0, names), nil
	}
	p = min(p, n)
	// Merges with index below cut are hidden inside leaves.
	cut := n - p

	var build func(id int) *Node
	build = func(id int) *Node {
		if id < n {
			return leafNode(id, names)
		}
		m := link.Merges[id-n]
		if id-n < cut {
			return &Node{Name: fmt.Sprintf("(%d)", m.Size), Height: m.Height, Size: m.Size}
		}
		return &Node{
			Name:     strconv.FormatFloat(m.Height, 'f', 2, 64),
			Height:   m.Height,
			Size:     m.Size,
			Children: []*Node{build(m.A), build(m.B)},
		}
	}
	return build(2*n - 2), nil
}

func leafNode(i int, names []string) *Node {
	name := strconv.Itoa(i)
	if names != nil {
		name = names[i]
	}
	return &Node{Name: name, Size: 1}
}

// WriteFile renders chart to path.
func WriteFile(path string, chart Renderer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := chart.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
