package cluster

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"

	"github.com/mpraski/clusters"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	MethodKMeans       = "kmeans"
	MethodHierarchical = "hierarchical"
)

// ParseMethod normalises a user-facing method name.
func ParseMethod(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kmeans", "k-means":
		return MethodKMeans, nil
	case "hierarchical", "ward", "agglomerative":
		return MethodHierarchical, nil
	default:
		return "", fmt.Errorf("unknown clustering method %q (want kmeans or hierarchical)", s)
	}
}

type kmeansOptions struct {
	restarts      int
	maxIterations int
}

type KMeansOption func(*kmeansOptions)

// WithRestarts sets how many independent runs are tried; the one with the
// lowest WCSS wins.
func WithRestarts(n int) KMeansOption {
	return func(o *kmeansOptions) { o.restarts = n }
}

func WithMaxIterations(n int) KMeansOption {
	return func(o *kmeansOptions) { o.maxIterations = n }
}

// Result is a flat partition of the input rows.
type Result struct {
	K         int
	Labels    []int
	Centroids [][]float64
	WCSS      float64
}

// KMeans partitions the rows of x into k clusters. Labels are 0-based and
// every label in [0, k) is used.
func KMeans(ctx context.Context, x mat.Matrix, k int, opts ...KMeansOption) (*Result, error) {
	o := kmeansOptions{restarts: 10, maxIterations: 300}
	for _, opt := range opts {
		opt(&o)
	}
	if o.restarts < 1 || o.maxIterations < 1 {
		return nil, fmt.Errorf("cluster: restarts and iterations must be positive")
	}

	n, _ := x.Dims()
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("cluster: k must be between 1 and %d, got %d", n, k)
	}

	data := denseRows(x)
	if k == 1 {
		labels := make([]int, n)
		return newResult(data, labels, 1), nil
	}

	var (
		mu   sync.Mutex
		best *Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for r := 0; r < o.restarts; r++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			labels, err := learnOnce(data, k, o.maxIterations)
			if err != nil {
				return err
			}
			if labels == nil {
				return nil
			}
			res := newResult(data, labels, k)
			mu.Lock()
			if best == nil || res.WCSS < best.WCSS {
				best = res
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, fmt.Errorf("cluster: every k-means restart left a cluster empty (k=%d, rows=%d)", k, n)
	}
	return best, nil
}

// learnOnce runs a single library k-means fit. It returns nil labels when
// the fit left a cluster empty.
func learnOnce(data [][]float64, k, iterations int) ([]int, error) {
	c, err := clusters.KMeans(iterations, k, clusters.EuclideanDistance)
	if err != nil {
		return nil, fmt.Errorf("create k-means clusterer: %w", err)
	}

	own := make([][]float64, len(data))
	for i, row := range data {
		own[i] = append([]float64(nil), row...)
	}
	if err := c.Learn(own); err != nil {
		return nil, fmt.Errorf("learn k-means: %w", err)
	}

	guesses := c.Guesses()
	// The library numbers clusters from 1. A fit that uses neither 0 nor k
	// has an empty cluster under either numbering.
	shift := -1
	for _, g := range guesses {
		switch g {
		case 0:
			shift = 0
		case k:
			shift = 1
		}
	}
	if shift < 0 {
		return nil, nil
	}

	labels := make([]int, len(guesses))
	seen := make([]bool, k)
	for i, g := range guesses {
		l := g - shift
		if l < 0 || l >= k {
			return nil, fmt.Errorf("k-means returned label %d outside [0,%d)", l, k)
		}
		labels[i] = l
		seen[l] = true
	}
	for _, ok := range seen {
		if !ok {
			return nil, nil
		}
	}
	return labels, nil
}

func newResult(data [][]float64, labels []int, k int) *Result {
	centroids := Centroids(data, labels, k)
	return &Result{
		K:         k,
		Labels:    labels,
		Centroids: centroids,
		WCSS:      wcss(data, labels, centroids),
	}
}

// Centroids returns the mean row of each label.
func Centroids(data [][]float64, labels []int, k int) [][]float64 {
	if len(data) == 0 {
		return nil
	}
	dim := len(data[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, row := range data {
		floats.Add(sums[labels[i]], row)
		counts[labels[i]]++
	}
	for i := range sums {
		if counts[i] > 0 {
			floats.Scale(1/float64(counts[i]), sums[i])
		}
	}
	return sums
}

// WCSS is the within-cluster sum of squared Euclidean distances.
func WCSS(x mat.Matrix, labels []int, k int) float64 {
	data := denseRows(x)
	return wcss(data, labels, Centroids(data, labels, k))
}

func wcss(data [][]float64, labels []int, centroids [][]float64) float64 {
	var total float64
	for i, row := range data {
		d := floats.Distance(row, centroids[labels[i]], 2)
		total += d * d
	}
	if math.IsNaN(total) {
		return math.Inf(1)
	}
	return total
}
