package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"retail-segments/internal/cluster"
	"retail-segments/internal/errors"
	"retail-segments/internal/models"
)

// PrecomputedData is everything the dashboard serves for one run.
type PrecomputedData struct {
	Run          *Run
	Elbow        []models.ElbowPoint
	LastModified time.Time
}

// Analytics holds the latest segmentation for the dashboard. Reads are cheap
// lookups into precomputed data.
type Analytics struct {
	mu          sync.RWMutex
	precomputed *PrecomputedData
	segmenter   *Segmenter
	loads       atomic.Int64
	logger      *slog.Logger
}

func NewAnalytics(segmenter *Segmenter, logger *slog.Logger) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	if segmenter == nil {
		segmenter = NewSegmenter(logger)
	}
	return &Analytics{
		precomputed: &PrecomputedData{},
		segmenter:   segmenter,
		logger:      logger,
	}
}

// SetData segments products in memory and replaces the current state.
func (a *Analytics) SetData(ctx context.Context, products []models.ProductFeatures, k int, method string, elbowMaxK int) error {
	method, err := cluster.ParseMethod(method)
	if err != nil {
		return errors.ValidationWrap(err, "invalid clustering method")
	}
	run, err := a.segmenter.Segment(ctx, products, k, method)
	if err != nil {
		return err
	}
	run.Source = "memory"
	run.StartedAt = time.Now()
	run.FinishedAt = run.StartedAt

	elbow, err := a.segmenter.ElbowProducts(ctx, products, min(elbowMaxK, len(products)))
	if err != nil {
		return err
	}
	a.store(run, elbow)
	return nil
}

// Load runs the full pipeline over path and publishes the result.
func (a *Analytics) Load(ctx context.Context, path string, k int, method string, elbowMaxK int) error {
	start := time.Now()
	run, err := a.segmenter.SummarizeClusters(ctx, path, k, method)
	if err != nil {
		return fmt.Errorf("segment %s: %w", path, err)
	}

	elbow, err := a.segmenter.ElbowProducts(ctx, run.Products, min(elbowMaxK, len(run.Products)))
	if err != nil {
		a.logger.Warn("elbow curve unavailable", "error", err)
	}

	a.store(run, elbow)
	a.logger.Info("dashboard data ready",
		"products", len(run.Products),
		"clusters", run.Clusters,
		"duration", time.Since(start),
	)
	return nil
}

func (a *Analytics) store(run *Run, elbow []models.ElbowPoint) {
	a.mu.Lock()
	a.precomputed = &PrecomputedData{
		Run:          run,
		Elbow:        elbow,
		LastModified: time.Now(),
	}
	a.mu.Unlock()
	a.loads.Add(1)
}

// Ready reports whether a segmentation has been published.
func (a *Analytics) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.precomputed.Run != nil
}

// Run returns the current run, or nil before the first load.
func (a *Analytics) Run() *Run {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.precomputed.Run
}

func (a *Analytics) Clusters() []models.ClusterSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.precomputed.Run == nil {
		return nil
	}
	return a.precomputed.Run.Summaries
}

// Products returns assignments of one cluster, or of all clusters when
// cluster is negative, ordered by revenue descending and cut to limit.
func (a *Analytics) Products(cluster, limit int) []models.ProductAssignment {
	a.mu.RLock()
	run := a.precomputed.Run
	a.mu.RUnlock()
	if run == nil {
		return nil
	}

	all := run.Assignments()
	out := all[:0]
	for _, p := range all {
		if cluster < 0 || p.Cluster == cluster {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(x, y models.ProductAssignment) int {
		return y.TotalRevenue.Cmp(x.TotalRevenue)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a *Analytics) Elbow() []models.ElbowPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.precomputed.Elbow
}

func (a *Analytics) Linkage() *cluster.Linkage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.precomputed.Run == nil {
		return nil
	}
	return a.precomputed.Run.Linkage
}

// EnsureLinkage returns the Ward linkage of the current run, computing it
// from the scaled features when the run used k-means.
func (a *Analytics) EnsureLinkage(ctx context.Context, maxRows int) (*cluster.Linkage, error) {
	a.mu.RLock()
	run := a.precomputed.Run
	var cached *cluster.Linkage
	if run != nil {
		cached = run.Linkage
	}
	a.mu.RUnlock()
	if run == nil {
		return nil, errors.ServiceUnavailable("no segmentation loaded")
	}
	if cached != nil {
		return cached, nil
	}
	if n := len(run.Products); n > maxRows {
		return nil, errors.Validation("too many products for a dendrogram").
			WithDetails(fmt.Sprintf("%d products, limit %d", n, maxRows))
	}

	link, err := cluster.WardLinkage(ctx, run.Scaled)
	if err != nil {
		return nil, errors.InternalWrap(err, "compute ward linkage")
	}

	a.mu.Lock()
	if a.precomputed.Run == run {
		run.Linkage = link
	}
	a.mu.Unlock()
	return link, nil
}

// Stats is used by the admin endpoint.
func (a *Analytics) Stats() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := map[string]any{
		"loads":          a.loads.Load(),
		"last_processed": a.precomputed.LastModified,
		"elbow_points":   len(a.precomputed.Elbow),
	}
	if run := a.precomputed.Run; run != nil {
		stats["run_id"] = run.RunID.String()
		stats["source"] = run.Source
		stats["method"] = run.Method
		stats["clusters"] = run.Clusters
		stats["products"] = len(run.Products)
		stats["rows_read"] = run.Stats.RowsRead
		stats["rows_valid"] = run.Stats.RowsValid
		stats["rows_dropped"] = run.Stats.RowsDropped
		stats["rows_rejected"] = run.Stats.RowsRejected
	}
	return stats
}
