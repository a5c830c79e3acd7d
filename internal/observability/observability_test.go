package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"retail-segments/internal/config"
	"retail-segments/internal/models"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"loud":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestNewLoggerTo(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerTo(&buf, config.LoggerConfig{Level: "info", Format: "json"}).Info("loaded", "products", 3)
		assert.Contains(t, buf.String(), `"products":3`)
		assert.NotContains(t, buf.String(), `"source"`)
	})

	t.Run("text with source at debug", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerTo(&buf, config.LoggerConfig{Level: "debug", Format: "text"}).Debug("scaled")
		assert.Contains(t, buf.String(), "msg=scaled")
		assert.Contains(t, buf.String(), "observability/observability_test.go:")
	})

	t.Run("level filter", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerTo(&buf, config.LoggerConfig{Level: "warn", Format: "text"}).Info("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "r-1")
	assert.Equal(t, "r-1", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, loadSpan := StartSpan(context.Background(), "segments.load", attribute.String("source", "a.csv"))
	FinishSpan(loadSpan, nil)
	_, failed := StartSpan(context.Background(), "segments.cluster")
	FinishSpan(failed, errors.New("empty cluster"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "segments.load", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "empty cluster", spans[1].Status().Description)
}

func TestPipelineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	pm, err := NewPipelineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	pm.RecordLoad(ctx, models.LoadStats{RowsRead: 10, RowsDropped: 3, RowsValid: 7})
	pm.RecordRun(ctx, "kmeans", 5, 250*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name == "segments_rows_read_total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(10), sum.DataPoints[0].Value)
			}
		}
	}
	for _, want := range []string{"segments_rows_read_total", "segments_rows_dropped_total", "segments_products", "segments_run_duration_seconds"} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestPipelineMetrics_Nil(t *testing.T) {
	var pm *PipelineMetrics
	assert.NotPanics(t, func() {
		pm.RecordLoad(context.Background(), models.LoadStats{})
		pm.RecordRun(context.Background(), "kmeans", 1, time.Second)
	})
}

func TestSetup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := Setup(config.TelemetryConfig{TraceExporter: "none"}, logger)
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, err = Setup(config.TelemetryConfig{TraceExporter: "zipkin"}, logger)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported trace exporter"))
}
