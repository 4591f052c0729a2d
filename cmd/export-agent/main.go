// export-agent is the HTTP server that orchestrates geospatial data
// exports: synchronous WFS downloads and asynchronous WPS export jobs
// tracked in a persisted per-user ledger.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoexport/internal/api"
	"geoexport/internal/config"
	"geoexport/internal/dispatcher"
	"geoexport/internal/export"
	"geoexport/internal/health"
	"geoexport/internal/ledgerstore"
	"geoexport/internal/observability"
	"geoexport/internal/savefile"
	"geoexport/internal/wfs"
	"geoexport/internal/wps"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	agentCfg := config.LoadAgentConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create webhook dispatcher for the event stream
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	// Ledger persistence and download target
	store, err := ledgerstore.New(agentCfg.DataDir)
	if err != nil {
		return err
	}
	saver, err := savefile.NewDir(agentCfg.DownloadDir)
	if err != nil {
		return err
	}

	// Create the export orchestrator
	orchestrator := export.New(export.Config{
		WFS:          wfs.NewDownloader(agentCfg.HTTPTimeout, saver),
		WPS:          wps.NewClient(agentCfg.HTTPTimeout),
		Store:        store,
		Metrics:      metrics,
		Webhooks:     eventDispatcher,
		CallbackURL:  agentCfg.CallbackURL,
		SigningKey:   agentCfg.SigningKey,
		PollInterval: agentCfg.PollInterval,
	})

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		orchestrator.Run(loopCtx)
	}()

	// Drain the in-process event stream into the log. External consumers
	// follow the webhook instead.
	go func() {
		for ev := range orchestrator.Events() {
			slog.Debug("Export event", "event", ev)
		}
	}()

	// Create health checker
	healthChecker := health.NewChecker(orchestrator, store)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Orchestrator:  orchestrator,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        agentCfg.APIKey,
	})

	if agentCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + agentCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + agentCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", agentCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", agentCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		stopLoop()
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if agentCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", agentCfg.ShutdownDrainWait)
		time.Sleep(agentCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop the dispatch loop. Pending jobs are interrupted here;
	// the ledger store drops them on the next restore anyway.
	stopLoop()
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		slog.Warn("Dispatch loop did not stop in time")
	}

	// Phase 4: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}
