package cluster

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"retail-segments/internal/models"
)

// Elbow computes the WCSS of the best k-means fit for k = 1..kMax. kMax is
// capped at the number of rows.
func Elbow(ctx context.Context, x mat.Matrix, kMax int, opts ...KMeansOption) ([]models.ElbowPoint, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if kMax > n {
		kMax = n
	}
	if kMax < 1 {
		kMax = 1
	}

	points := make([]models.ElbowPoint, kMax)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k := 1; k <= kMax; k++ {
		g.Go(func() error {
			res, err := KMeans(gctx, x, k, opts...)
			if err != nil {
				return err
			}
			points[k-1] = models.ElbowPoint{K: k, WCSS: res.WCSS}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}
