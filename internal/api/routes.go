package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"runproxy/internal/health"
	"runproxy/internal/job"
	"runproxy/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Submitter     *job.Submitter
	Resolver      *job.Resolver
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	RoutePrefix   string // e.g. "/api"; empty serves at the root
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Submitter, cfg.Resolver, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	prefix := cfg.RoutePrefix
	mux.Handle("POST "+prefix+"/"+startRoute, authMiddleware(http.HandlerFunc(handler.StartContainerInstance)))
	mux.Handle("GET "+prefix+"/"+resultsRoute+"/{jobId}", authMiddleware(http.HandlerFunc(handler.GetResults)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)

	return h
}
