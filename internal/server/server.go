package server

import (
	"log/slog"
	"net/http"

	"retail-segments/internal/config"
	"retail-segments/internal/handlers"
	"retail-segments/internal/services"
)

type Server struct {
	analytics     *services.Analytics
	mux           *http.ServeMux
	logger        *slog.Logger
	apiHandlers   *handlers.APIHandlers
	sseHandlers   *handlers.SSEHandlers
	chartHandlers *handlers.ChartHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewServer(analytics *services.Analytics, logger *slog.Logger, cfg config.ClusteringConfig, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		analytics:     analytics,
		mux:           http.NewServeMux(),
		logger:        logger,
		apiHandlers:   handlers.NewAPIHandlers(analytics, logger),
		sseHandlers:   handlers.NewSSEHandlers(analytics, logger),
		chartHandlers: handlers.NewChartHandlers(analytics, logger, cfg.DendrogramTruncate, cfg.MaxHierarchicalRows),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)
	if templateHandlers.Metrics != nil {
		s.mux.Handle("GET /metrics", templateHandlers.Metrics)
	}

	// REST API endpoints
	s.mux.HandleFunc("GET /api/clusters", s.apiHandlers.HandleClusters)
	s.mux.HandleFunc("GET /api/products", s.apiHandlers.HandleProducts)
	s.mux.HandleFunc("GET /api/elbow", s.apiHandlers.HandleElbow)

	// Chart pages
	s.mux.HandleFunc("GET /charts/elbow", s.chartHandlers.HandleElbow)
	s.mux.HandleFunc("GET /charts/scatter", s.chartHandlers.HandleScatter)
	s.mux.HandleFunc("GET /charts/dendrogram", s.chartHandlers.HandleDendrogram)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/clusters", s.sseHandlers.HandleClusters)
	s.mux.HandleFunc("GET /sse/products", s.sseHandlers.HandleProducts)
	s.mux.HandleFunc("GET /sse/refresh-all", s.sseHandlers.HandleRefreshAll)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
