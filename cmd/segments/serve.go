package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"retail-segments/internal/config"
	"retail-segments/internal/middleware"
	"retail-segments/internal/server"
	"retail-segments/internal/services"
	"retail-segments/internal/ui/templates"
)

const (
	renderTimeout = 10 * time.Second
	cacheMaxAge   = "public, max-age=300"
)

// handleDashboard renders the index page from the current run.
func handleDashboard(analytics *services.Analytics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
		defer cancel()

		data := templates.DashboardData{Title: "Retail Product Segments"}
		if run := analytics.Run(); run != nil {
			data.Ready = true
			data.RunID = run.RunID.String()
			data.Source = run.Source
			data.Method = run.Method
			data.Clusters = run.Clusters
			data.Products = len(run.Products)
			data.Stats = run.Stats
			data.Summaries = run.Summaries
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", cacheMaxAge)
		if err := templates.Dashboard(data).Render(ctx, w); err != nil {
			logger.Error("render dashboard", "error", err)
			http.Error(w, "render error", http.StatusInternalServerError)
		}
	}
}

func serveCommand() *cli.Command {
	flags := []cli.Flag{inputFlag()}
	flags = append(flags, clusterFlags()...)
	return &cli.Command{
		Name:   "serve",
		Usage:  "Segment the dataset once and serve the dashboard",
		Flags:  flags,
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	logger.Info("starting application",
		"version", version,
		"input", cfg.Input.Path,
		"method", cfg.Clustering.Method,
		"clusters", cfg.Clustering.Clusters,
	)

	analytics := services.NewAnalytics(e.segmenter(), logger)
	ctx, cancel := context.WithTimeout(c.Context, cfg.Server.LoadTimeout)
	defer cancel()

	start := time.Now()
	if err := analytics.Load(ctx, cfg.Input.Path, cfg.Clustering.Clusters, cfg.Clustering.Method, cfg.Clustering.ElbowMaxK); err != nil {
		e.close()
		return err
	}
	logger.Info("segmentation loaded", "duration", time.Since(start))

	httpServer := newHTTPServer(cfg, analytics, logger, e.telemetry.MetricsHandler)
	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterNamedShutdownHook("telemetry", func(ctx context.Context) error {
		logger.Info("flushing telemetry")
		return e.telemetry.Shutdown(ctx)
	})

	logger.Info("starting graceful server")
	if err := gracefulServer.ListenAndServe(); err != nil {
		e.close()
		return err
	}

	logger.Info("application stopped gracefully")
	return nil
}

func newHTTPServer(cfg *config.Config, analytics *services.Analytics, logger *slog.Logger, metrics http.Handler) *http.Server {
	templateHandlers := &server.TemplateHandlers{
		Dashboard: handleDashboard(analytics, logger),
		Metrics:   metrics,
	}
	srv := server.NewServer(analytics, logger, cfg.Clustering, templateHandlers)

	middlewareChain := []middleware.Middleware{
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
	}
	if cfg.Security.EnableRateLimit {
		middlewareChain = append(middlewareChain,
			middleware.RateLimit(middleware.NewRateLimiter(cfg.Security), logger))
	}

	return &http.Server{
		Addr:         cfg.Address(),
		Handler:      middleware.Chain(middlewareChain...)(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
