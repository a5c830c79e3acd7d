package handlers

import (
	"bytes"
	"log/slog"
	"net/http"

	"retail-segments/internal/charts"
	"retail-segments/internal/errors"
	"retail-segments/internal/observability"
	"retail-segments/internal/services"
)

// ChartHandlers serve the go-echarts pages embedded by the dashboard.
type ChartHandlers struct {
	analytics           *services.Analytics
	logger              *slog.Logger
	truncate            int
	maxHierarchicalRows int
}

func NewChartHandlers(analytics *services.Analytics, logger *slog.Logger, truncate, maxHierarchicalRows int) *ChartHandlers {
	if truncate < 1 {
		truncate = charts.DefaultTruncate
	}
	return &ChartHandlers{
		analytics:           analytics,
		logger:              logger,
		truncate:            truncate,
		maxHierarchicalRows: maxHierarchicalRows,
	}
}

func (h *ChartHandlers) HandleElbow(w http.ResponseWriter, r *http.Request) {
	if !requireReady(w, r, h.analytics, h.logger) {
		return
	}
	h.render(w, r, charts.Elbow(h.analytics.Elbow()))
}

func (h *ChartHandlers) HandleScatter(w http.ResponseWriter, r *http.Request) {
	if !requireReady(w, r, h.analytics, h.logger) {
		return
	}
	h.render(w, r, charts.Scatter(&h.analytics.Run().Segmentation))
}

func (h *ChartHandlers) HandleDendrogram(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	link, err := h.analytics.EnsureLinkage(r.Context(), h.maxHierarchicalRows)
	if err != nil {
		errors.WriteError(w, h.logger, err, requestID)
		return
	}

	var names []string
	if run := h.analytics.Run(); run != nil && len(run.Products) == link.N {
		names = make([]string, link.N)
		for i, p := range run.Products {
			names[i] = p.StockCode
		}
	}

	tree, err := charts.Dendrogram(link, names, h.truncate)
	if err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "build dendrogram"), requestID)
		return
	}
	h.render(w, r, tree)
}

// render buffers the page so a failed render can still send an error status.
func (h *ChartHandlers) render(w http.ResponseWriter, r *http.Request, chart charts.Renderer) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "render chart"), observability.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheMaxAge)
	_, _ = buf.WriteTo(w)
}
