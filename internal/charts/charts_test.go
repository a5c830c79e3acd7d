package charts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"retail-segments/internal/cluster"
	"retail-segments/internal/models"
)

func linkage(t *testing.T) *cluster.Linkage {
	t.Helper()
	link, err := cluster.WardLinkage(context.Background(), mat.NewDense(4, 1, []float64{0, 1, 5, 6}))
	require.NoError(t, err)
	return link
}

func leafNames(n *Node) []string {
	var names []string
	for _, l := range n.Leaves() {
		names = append(names, l.Name)
	}
	return names
}

func TestTruncate(t *testing.T) {
	link := linkage(t)

	full, err := Truncate(link, []string{"A", "B", "C", "D"}, DefaultTruncate)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, leafNames(full))
	assert.Equal(t, 4, full.Size)
	assert.Equal(t, "7.07", full.Name)

	top, err := Truncate(link, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"(2)", "(2)"}, leafNames(top))

	three, err := Truncate(link, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"(2)", "2", "3"}, leafNames(three))
}

func TestTruncate_Errors(t *testing.T) {
	link := linkage(t)

	_, err := Truncate(nil, nil, 3)
	assert.Error(t, err)
	_, err = Truncate(link, nil, 0)
	assert.Error(t, err)
	_, err = Truncate(link, []string{"only one"}, 3)
	assert.Error(t, err)
}

func TestDendrogramRender(t *testing.T) {
	tree, err := Dendrogram(linkage(t), nil, 30)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tree.Render(&buf))
	assert.Contains(t, buf.String(), "Dendrogram")
	assert.Contains(t, buf.String(), "orthogonal")
}

func TestElbowRender(t *testing.T) {
	line := Elbow([]models.ElbowPoint{{K: 1, WCSS: 30}, {K: 2, WCSS: 10}, {K: 3, WCSS: 4}})

	var buf bytes.Buffer
	require.NoError(t, line.Render(&buf))
	assert.Contains(t, buf.String(), "The Elbow Method")
	assert.Contains(t, buf.String(), "WCSS")
}

func TestScatterWriteFile(t *testing.T) {
	seg := &models.Segmentation{
		RunID:    uuid.New(),
		Method:   cluster.MethodKMeans,
		Clusters: 2,
		Products: []models.ProductFeatures{
			{StockCode: "85123A", TotalQuantitySold: 10, AvgUnitPrice: decimal.NewFromFloat(2.65)},
			{StockCode: "71053", TotalQuantitySold: 6, AvgUnitPrice: decimal.NewFromFloat(3.39)},
		},
		Labels: []int{0, 1},
	}

	path := filepath.Join(t.TempDir(), "scatter.html")
	require.NoError(t, WriteFile(path, Scatter(seg)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cluster 1")
	assert.Contains(t, string(data), "85123A")
}
