package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/mat"

	"retail-segments/internal/cluster"
	"retail-segments/internal/errors"
	"retail-segments/internal/models"
	"retail-segments/internal/observability"
)

// Run is a segmentation plus the intermediate data the charts need.
type Run struct {
	models.Segmentation
	Scaled  *mat.Dense
	Linkage *cluster.Linkage
}

type SegmenterOption func(*Segmenter)

// WithCache enables the on-disk product cache.
func WithCache(c *ProductCache) SegmenterOption {
	return func(s *Segmenter) { s.cache = c }
}

func WithStrictLoad(strict bool) SegmenterOption {
	return func(s *Segmenter) { s.strict = strict }
}

func WithMetrics(m *observability.PipelineMetrics) SegmenterOption {
	return func(s *Segmenter) { s.metrics = m }
}

// WithKMeansTuning sets restarts and the iteration cap for every k-means fit.
func WithKMeansTuning(restarts, maxIterations int) SegmenterOption {
	return func(s *Segmenter) {
		s.restarts = restarts
		s.maxIterations = maxIterations
	}
}

// WithMaxHierarchicalRows caps the product count for Ward linkage.
func WithMaxHierarchicalRows(n int) SegmenterOption {
	return func(s *Segmenter) { s.maxHierarchicalRows = n }
}

// Segmenter runs the load, aggregate, scale, cluster and summarise pipeline.
type Segmenter struct {
	logger              *slog.Logger
	cache               *ProductCache
	metrics             *observability.PipelineMetrics
	strict              bool
	restarts            int
	maxIterations       int
	maxHierarchicalRows int
}

func NewSegmenter(logger *slog.Logger, opts ...SegmenterOption) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Segmenter{
		logger:              logger,
		restarts:            10,
		maxIterations:       300,
		maxHierarchicalRows: 10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SummarizeClusters loads path, builds product features and partitions them
// into k clusters with method ("kmeans" or "hierarchical").
func (s *Segmenter) SummarizeClusters(ctx context.Context, path string, k int, method string) (*Run, error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "segments.summarize",
		attribute.String("source", path),
		attribute.Int("clusters", k),
		attribute.String("method", method),
	)
	var err error
	defer func() { observability.FinishSpan(span, err) }()

	method, err = cluster.ParseMethod(method)
	if err != nil {
		err = errors.ValidationWrap(err, "invalid clustering method")
		return nil, err
	}

	products, stats, err := s.LoadProducts(ctx, path)
	if err != nil {
		return nil, err
	}

	run, err := s.Segment(ctx, products, k, method)
	if err != nil {
		return nil, err
	}
	run.Source = path
	run.Stats = stats
	run.StartedAt = started
	run.FinishedAt = time.Now()

	s.metrics.RecordRun(ctx, method, len(products), run.FinishedAt.Sub(started))
	s.logger.Info("segmentation complete",
		"run_id", run.RunID,
		"method", method,
		"clusters", k,
		"products", len(products),
		"duration", run.FinishedAt.Sub(started),
	)
	return run, nil
}

// LoadProducts returns the aggregated products of path, from the cache when
// a fresh entry exists.
func (s *Segmenter) LoadProducts(ctx context.Context, path string) ([]models.ProductFeatures, models.LoadStats, error) {
	if s.cache != nil {
		products, stats, err := s.cache.Load(path, s.strict)
		if err == nil {
			s.logger.Info("loaded products from cache", "products", len(products))
			return products, stats, nil
		}
		s.logger.Debug("cache miss", "path", path, "reason", err)
	}

	ctx, span := observability.StartSpan(ctx, "segments.load", attribute.String("source", path))
	txs, stats, err := NewLoader(s.logger, WithStrict(s.strict)).LoadTransactions(ctx, path)
	s.metrics.RecordLoad(ctx, stats)
	observability.FinishSpan(span, err)
	if err != nil {
		return nil, stats, err
	}

	_, span = observability.StartSpan(ctx, "segments.aggregate", attribute.Int("transactions", len(txs)))
	products := AggregateProducts(txs)
	span.SetAttributes(attribute.Int("products", len(products)))
	span.End()
	s.logger.Info("products aggregated", "transactions", len(txs), "products", len(products))

	if s.cache != nil {
		if err := s.cache.Save(path, s.strict, products, stats); err != nil {
			s.logger.Warn("failed to save cache", "error", err)
		}
	}
	return products, stats, nil
}

// Segment scales and clusters already aggregated products.
func (s *Segmenter) Segment(ctx context.Context, products []models.ProductFeatures, k int, method string) (*Run, error) {
	if len(products) == 0 {
		return nil, errors.Validation("no products to cluster")
	}
	if k < 1 || k > len(products) {
		return nil, errors.Validation("invalid cluster count").
			WithDetails(fmt.Sprintf("k must be between 1 and %d, got %d", len(products), k))
	}

	x, _, err := cluster.StandardScale(FeatureRows(products))
	if err != nil {
		return nil, errors.InternalWrap(err, "scale features")
	}

	ctx, span := observability.StartSpan(ctx, "segments.cluster",
		attribute.String("method", method),
		attribute.Int("products", len(products)),
	)
	var (
		res  *cluster.Result
		link *cluster.Linkage
	)
	switch method {
	case cluster.MethodKMeans:
		res, err = cluster.KMeans(ctx, x, k,
			cluster.WithRestarts(s.restarts),
			cluster.WithMaxIterations(s.maxIterations))
	case cluster.MethodHierarchical:
		if len(products) > s.maxHierarchicalRows {
			err = errors.Validation("too many products for hierarchical clustering").
				WithDetails(fmt.Sprintf("%d products, limit %d", len(products), s.maxHierarchicalRows))
			break
		}
		res, link, err = cluster.Hierarchical(ctx, x, k)
	default:
		err = errors.Validation("unknown clustering method").WithDetails(method)
	}
	observability.FinishSpan(span, err)
	if err != nil {
		return nil, err
	}

	summaries, err := cluster.Summarize(products, res.Labels, k)
	if err != nil {
		return nil, errors.InternalWrap(err, "summarize clusters")
	}

	return &Run{
		Segmentation: models.Segmentation{
			RunID:     uuid.New(),
			Method:    method,
			Clusters:  k,
			Products:  products,
			Labels:    res.Labels,
			Summaries: summaries,
		},
		Scaled:  x,
		Linkage: link,
	}, nil
}

// Elbow computes the k-means WCSS curve for k = 1..kMax over path.
func (s *Segmenter) Elbow(ctx context.Context, path string, kMax int) ([]models.ElbowPoint, error) {
	products, _, err := s.LoadProducts(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.ElbowProducts(ctx, products, kMax)
}

func (s *Segmenter) ElbowProducts(ctx context.Context, products []models.ProductFeatures, kMax int) ([]models.ElbowPoint, error) {
	if kMax < 1 {
		return nil, errors.Validation("elbow max k must be positive")
	}
	x, _, err := cluster.StandardScale(FeatureRows(products))
	if err != nil {
		return nil, errors.ValidationWrap(err, "scale features")
	}

	ctx, span := observability.StartSpan(ctx, "segments.elbow", attribute.Int("max_k", kMax))
	points, err := cluster.Elbow(ctx, x, kMax,
		cluster.WithRestarts(s.restarts),
		cluster.WithMaxIterations(s.maxIterations))
	observability.FinishSpan(span, err)
	if err != nil {
		return nil, errors.InternalWrap(err, "compute elbow curve")
	}
	return points, nil
}

// Linkage computes the full Ward linkage of path's products.
func (s *Segmenter) Linkage(ctx context.Context, path string) (*cluster.Linkage, []models.ProductFeatures, error) {
	products, _, err := s.LoadProducts(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if len(products) > s.maxHierarchicalRows {
		return nil, nil, errors.Validation("too many products for hierarchical clustering").
			WithDetails(fmt.Sprintf("%d products, limit %d", len(products), s.maxHierarchicalRows))
	}
	x, _, err := cluster.StandardScale(FeatureRows(products))
	if err != nil {
		return nil, nil, errors.ValidationWrap(err, "scale features")
	}

	ctx, span := observability.StartSpan(ctx, "segments.linkage", attribute.Int("products", len(products)))
	link, err := cluster.WardLinkage(ctx, x)
	observability.FinishSpan(span, err)
	if err != nil {
		return nil, nil, errors.InternalWrap(err, "compute ward linkage")
	}
	return link, products, nil
}
