package cluster

import (
	"fmt"

	"retail-segments/internal/models"
)

// Summarize returns the mean raw features of every cluster, ordered by
// cluster id. Means are taken over unscaled values.
func Summarize(products []models.ProductFeatures, labels []int, k int) ([]models.ClusterSummary, error) {
	if len(products) != len(labels) {
		return nil, fmt.Errorf("cluster: %d products but %d labels", len(products), len(labels))
	}

	out := make([]models.ClusterSummary, k)
	for i := range out {
		out[i].Cluster = i
	}
	for i, p := range products {
		l := labels[i]
		if l < 0 || l >= k {
			return nil, fmt.Errorf("cluster: label %d outside [0,%d)", l, k)
		}
		s := &out[l]
		s.Size++
		s.MeanQuantitySold += float64(p.TotalQuantitySold)
		s.MeanAvgUnitPrice += p.AvgUnitPrice.InexactFloat64()
		s.MeanTransactionCount += float64(p.TransactionCount)
		s.MeanRevenue += p.TotalRevenue.InexactFloat64()
	}
	for i := range out {
		if n := float64(out[i].Size); n > 0 {
			out[i].MeanQuantitySold /= n
			out[i].MeanAvgUnitPrice /= n
			out[i].MeanTransactionCount /= n
			out[i].MeanRevenue /= n
		}
	}
	return out, nil
}

// Cardinality counts distinct labels.
func Cardinality(labels []int) int {
	seen := make(map[int]struct{}, 8)
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
