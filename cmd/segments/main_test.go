package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-segments/internal/config"
	"retail-segments/internal/models"
	"retail-segments/internal/services"
)

const sampleCSV = "../../internal/services/testdata/online_retail_sample.csv"

// runApp executes the CLI with args and returns what it printed to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SEGMENTS_TELEMETRY_METRICS_ENABLED", "false")
	t.Setenv("SEGMENTS_INPUT_CACHE_DIR", t.TempDir())

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"segments", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestSummarize_DefaultAction(t *testing.T) {
	out, err := runApp(t, "--input", sampleCSV, "--clusters", "2")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "K-Means Cluster Summary:"), out)
	assert.Contains(t, out, "Cluster(KMeans)")
}

func TestSummarize_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		out, err := runApp(t, "summarize", "--input", sampleCSV, "-k", "2", "--format", "json")
		require.NoError(t, err)

		var report struct {
			Clusters  int                     `json:"clusters"`
			Products  int                     `json:"products"`
			Stats     models.LoadStats        `json:"load_stats"`
			Summaries []models.ClusterSummary `json:"summaries"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 2, report.Clusters)
		assert.Equal(t, 5, report.Products)
		assert.Len(t, report.Summaries, 2)
		assert.Equal(t, int64(7), report.Stats.RowsValid)
	})

	t.Run("markdown hierarchical", func(t *testing.T) {
		out, err := runApp(t, "summarize", "--input", sampleCSV, "-k", "3", "--method", "ward", "--format", "markdown")
		require.NoError(t, err)
		assert.Contains(t, out, "Hierarchical Cluster Summary:")
		assert.Contains(t, out, "|")
	})
}

func TestSummarize_Export(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.csv")
	_, err := runApp(t, "summarize", "--input", sampleCSV, "-k", "2", "--export", path, "--no-cache")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 6, "header plus one row per product")
}

func TestSummarize_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero clusters", []string{"--input", sampleCSV, "--clusters", "0"}, "Clusters"},
		{"unknown method", []string{"--input", sampleCSV, "--method", "dbscan"}, "Method"},
		{"too many clusters", []string{"--input", sampleCSV, "--clusters", "9"}, "invalid cluster count"},
		{"missing file", []string{"--input", "nope.csv"}, "INPUT_ERROR"},
		{"bad format", []string{"--input", sampleCSV, "-k", "2", "--format", "yaml"}, "unknown report format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, append([]string{"summarize"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestElbowCommand(t *testing.T) {
	html := filepath.Join(t.TempDir(), "elbow.html")
	out, err := runApp(t, "elbow", "--input", sampleCSV, "--max-k", "3", "--html", html)
	require.NoError(t, err)

	assert.Contains(t, out, "WCSS")
	info, err := os.Stat(html)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestDendrogramCommand(t *testing.T) {
	html := filepath.Join(t.TempDir(), "dendrogram.html")
	out, err := runApp(t, "dendrogram", "--input", sampleCSV, "--html", html, "--truncate", "3")
	require.NoError(t, err)

	assert.Contains(t, out, "dendrogram of 5 products")
	data, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echarts")
}

func TestExportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.xlsx")
	out, err := runApp(t, "export", "--input", sampleCSV, "-k", "2", "--out", path)
	require.NoError(t, err)

	assert.Contains(t, out, "5 products in 2 clusters")
	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = runApp(t, "export", "--input", sampleCSV, "-k", "2", "--out", filepath.Join(t.TempDir(), "x.parquet"))
	assert.Error(t, err)
}

func newTestAnalytics(t *testing.T) *services.Analytics {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := services.NewAnalytics(services.NewSegmenter(logger), logger)
	require.NoError(t, a.Load(context.Background(), sampleCSV, 2, "kmeans", 3))
	return a
}

func TestHandleDashboard(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("loaded", func(t *testing.T) {
		w := httptest.NewRecorder()
		handleDashboard(newTestAnalytics(t), logger)(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
		body := w.Body.String()
		assert.Contains(t, body, "Retail Product Segments")
		assert.Contains(t, body, "cluster-content")
		assert.Contains(t, body, "7 valid")
	})

	t.Run("empty", func(t *testing.T) {
		w := httptest.NewRecorder()
		handleDashboard(services.NewAnalytics(nil, logger), logger)(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "No segmentation loaded yet")
	})
}

func TestNewHTTPServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Clustering: config.ClusteringConfig{DendrogramTruncate: 3, MaxHierarchicalRows: 100},
		Server:     config.ServerConfig{Host: "localhost", Port: 8084},
		Security: config.SecurityConfig{
			EnableRateLimit: true,
			RateLimitRPS:    100,
			RateLimitBurst:  10,
			AllowedOrigins:  []string{"http://localhost:8084"},
		},
	}
	srv := newHTTPServer(cfg, newTestAnalytics(t), logger, nil)
	assert.Equal(t, "localhost:8084", srv.Addr)

	tests := []struct {
		path string
		want int
	}{
		{"/", http.StatusOK},
		{"/health", http.StatusOK},
		{"/api/clusters", http.StatusOK},
		{"/api/products?cluster=0&limit=3", http.StatusOK},
		{"/charts/dendrogram", http.StatusOK},
		{"/metrics", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = "127.0.0.1:4000"
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}
