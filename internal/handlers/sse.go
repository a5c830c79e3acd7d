package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"retail-segments/internal/services"
	"retail-segments/internal/ui/templates"
)

const maxTableRows = 50

type SSEHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewSSEHandlers(analytics *services.Analytics, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

func (h *SSEHandlers) clusterTable(r *http.Request) (string, error) {
	method := ""
	if run := h.analytics.Run(); run != nil {
		method = run.Method
	}
	return templates.RenderString(r.Context(), templates.ClusterTable(method, h.analytics.Clusters()))
}

func (h *SSEHandlers) HandleClusters(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	html, err := h.clusterTable(r)
	if err != nil {
		h.logger.Error("render cluster table", "error", err)
		return
	}
	if err := sse.PatchElements(html); err != nil {
		h.logger.Warn("patch cluster table", "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandlers) HandleProducts(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	html, err := templates.RenderString(r.Context(), templates.ProductTable(h.analytics.Products(-1, maxTableRows)))
	if err != nil {
		h.logger.Error("render product table", "error", err)
		return
	}
	if err := sse.PatchElements(html); err != nil {
		h.logger.Warn("patch product table", "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleRefreshAll re-sends both tables and the chart signals in one stream.
func (h *SSEHandlers) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	html, err := h.clusterTable(r)
	if err != nil {
		h.logger.Error("render cluster table", "error", err)
		return
	}
	if err := sse.PatchElements(html); err != nil {
		h.logger.Warn("patch cluster table", "error", err)
		return
	}

	products, err := templates.RenderString(r.Context(), templates.ProductTable(h.analytics.Products(-1, maxTableRows)))
	if err != nil {
		h.logger.Error("render product table", "error", err)
		return
	}
	if err := sse.PatchElements(products); err != nil {
		h.logger.Warn("patch product table", "error", err)
		return
	}

	signals, err := json.Marshal(map[string]any{
		"clustersData": h.analytics.Clusters(),
		"elbowData":    h.analytics.Elbow(),
	})
	if err != nil {
		h.logger.Error("marshal signals", "error", err)
		return
	}
	if err := sse.PatchSignals(signals); err != nil {
		h.logger.Warn("patch signals", "error", err)
		return
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
