package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"retail-segments/internal/errors"
	"retail-segments/internal/observability"
	"retail-segments/internal/services"
)

const (
	cacheMaxAge         = "public, max-age=300"
	defaultProductLimit = 50
	maxProductLimit     = 1000
)

type APIHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
}

func NewAPIHandlers(analytics *services.Analytics, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		analytics: analytics,
		logger:    logger,
	}
}

// requireReady writes a 503 and returns false until the first segmentation
// has been published.
func requireReady(w http.ResponseWriter, r *http.Request, a *services.Analytics, logger *slog.Logger) bool {
	if a.Ready() {
		return true
	}
	errors.WriteError(w, logger, errors.ServiceUnavailable("segmentation not loaded yet"),
		observability.GetRequestID(r.Context()))
	return false
}

func (h *APIHandlers) HandleClusters(w http.ResponseWriter, r *http.Request) {
	if !requireReady(w, r, h.analytics, h.logger) {
		return
	}

	run := h.analytics.Run()
	data := map[string]any{
		"run_id":    run.RunID.String(),
		"method":    run.Method,
		"clusters":  run.Clusters,
		"summaries": run.Summaries,
	}

	errors.WriteSuccessWithHeaders(w, data, map[string]string{"Cache-Control": cacheMaxAge})
}

// HandleProducts serves /api/products?cluster=N&limit=M. Without cluster all
// products are returned.
func (h *APIHandlers) HandleProducts(w http.ResponseWriter, r *http.Request) {
	if !requireReady(w, r, h.analytics, h.logger) {
		return
	}
	requestID := observability.GetRequestID(r.Context())

	cluster := -1
	if v := r.URL.Query().Get("cluster"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errors.WriteError(w, h.logger, errors.BadRequest("cluster must be a non-negative integer"), requestID)
			return
		}
		if n >= h.analytics.Run().Clusters {
			errors.WriteError(w, h.logger, errors.NotFound("cluster "+v+" does not exist"), requestID)
			return
		}
		cluster = n
	}

	limit := defaultProductLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxProductLimit {
			errors.WriteError(w, h.logger,
				errors.BadRequest("limit must be between 1 and "+strconv.Itoa(maxProductLimit)), requestID)
			return
		}
		limit = n
	}

	errors.WriteSuccessWithHeaders(w, h.analytics.Products(cluster, limit), map[string]string{"Cache-Control": cacheMaxAge})
}

func (h *APIHandlers) HandleElbow(w http.ResponseWriter, r *http.Request) {
	if !requireReady(w, r, h.analytics, h.logger) {
		return
	}
	errors.WriteSuccessWithHeaders(w, h.analytics.Elbow(), map[string]string{"Cache-Control": cacheMaxAge})
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.analytics.Ready() {
		status = "loading"
	}

	errors.WriteSuccess(w, map[string]string{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   observability.ServiceVersion,
	})
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.analytics.Stats())
}
