package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"retail-segments/internal/models"
)

// PipelineMetrics holds the instruments recorded by each segmentation run.
type PipelineMetrics struct {
	rowsRead     metric.Int64Counter
	rowsDropped  metric.Int64Counter
	rowsRejected metric.Int64Counter
	products     metric.Int64Gauge
	runDuration  metric.Float64Histogram
}

func NewPipelineMetrics(m metric.Meter) (*PipelineMetrics, error) {
	var (
		pm  PipelineMetrics
		err error
	)
	if pm.rowsRead, err = m.Int64Counter("segments_rows_read_total",
		metric.WithDescription("Transaction rows read from the source file")); err != nil {
		return nil, err
	}
	if pm.rowsDropped, err = m.Int64Counter("segments_rows_dropped_total",
		metric.WithDescription("Rows dropped for a missing required field")); err != nil {
		return nil, err
	}
	if pm.rowsRejected, err = m.Int64Counter("segments_rows_rejected_total",
		metric.WithDescription("Rows rejected as malformed")); err != nil {
		return nil, err
	}
	if pm.products, err = m.Int64Gauge("segments_products",
		metric.WithDescription("Distinct products in the last run")); err != nil {
		return nil, err
	}
	if pm.runDuration, err = m.Float64Histogram("segments_run_duration_seconds",
		metric.WithDescription("Wall time of a segmentation run"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &pm, nil
}

func (pm *PipelineMetrics) RecordLoad(ctx context.Context, stats models.LoadStats) {
	if pm == nil {
		return
	}
	pm.rowsRead.Add(ctx, stats.RowsRead)
	pm.rowsDropped.Add(ctx, stats.RowsDropped)
	pm.rowsRejected.Add(ctx, stats.RowsRejected)
}

func (pm *PipelineMetrics) RecordRun(ctx context.Context, method string, products int, d time.Duration) {
	if pm == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("method", method))
	pm.products.Record(ctx, int64(products), attrs)
	pm.runDuration.Record(ctx, d.Seconds(), attrs)
}
