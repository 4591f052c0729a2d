package api

import (
	"net/http"

	"geoexport/internal/export"
	"geoexport/internal/health"
	"geoexport/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Orchestrator  *export.Orchestrator
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Orchestrator, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Export endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/exports", authMiddleware(http.HandlerFunc(handler.StartExport)))
	mux.Handle("GET /v1/exports", authMiddleware(http.HandlerFunc(handler.ListExports)))
	mux.Handle("DELETE /v1/exports/{jobId}", authMiddleware(http.HandlerFunc(handler.RemoveExport)))
	mux.Handle("POST /v1/exports/reconcile", authMiddleware(http.HandlerFunc(handler.Reconcile)))
	mux.Handle("POST /v1/tool/open", authMiddleware(http.HandlerFunc(handler.OpenTool)))
	mux.Handle("POST /v1/capability", authMiddleware(http.HandlerFunc(handler.CheckCapability)))
	mux.Handle("POST /v1/session/login", authMiddleware(http.HandlerFunc(handler.Login)))
	mux.Handle("POST /v1/session/logout", authMiddleware(http.HandlerFunc(handler.Logout)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
