package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/shuttle/pkg/api/handlers"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/maintenance"
	"github.com/marmos91/shuttle/pkg/metrics"
	"github.com/marmos91/shuttle/pkg/transfer"
)

// RouterConfig carries the collaborators the router wires together.
// Service, Cleaner and Authenticator are required; HTTPMetrics may be
// nil when metrics are disabled and RateLimiter may be nil for an
// unlimited deployment.
type RouterConfig struct {
	Service       *transfer.Service
	Cleaner       *maintenance.Cleaner
	Authenticator *auth.Authenticator
	RateLimiter   *auth.RateLimiter
	HTTPMetrics   *metrics.HTTPMetrics
	Version       handlers.VersionInfo
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - POST /v1/uploads/init - register an upload session
//   - PUT  /v1/uploads/{id}/chunks/{index} - submit one chunk
//   - POST /v1/uploads/{id}/complete - finalize the upload
//   - GET  /v1/uploads/{id}/missing-chunks - list chunks still owed
//   - POST /v1/uploads/{id}/abort - abandon the upload
//   - GET  /v1/uploads/{id}/download - stream the assembled file
//   - POST /v1/admin/cleanup - force a garbage collection pass (admin)
//   - GET  /health, /version, /metrics - operational, unauthenticated
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	uploads, err := handlers.NewUploadHandler(cfg.Service)
	if err != nil {
		return nil, err
	}
	admin, err := handlers.NewAdminHandler(cfg.Cleaner)
	if err != nil {
		return nil, err
	}
	ops := handlers.NewOpsHandler(cfg.Version)

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(serverHeaders(cfg.Version.Version))
	r.Use(httpMetrics(cfg.HTTPMetrics))

	// Operational endpoints - unauthenticated
	r.Get("/health", ops.Health)
	r.Get("/version", ops.Version)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		// Resolved per request so a registry installed after router
		// construction is still picked up.
		metrics.Handler().ServeHTTP(w, r)
	})

	// Versioned API - authenticated
	r.Route("/v1", func(r chi.Router) {
		r.Use(authenticate(cfg.Authenticator, cfg.RateLimiter))

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/init", uploads.Init)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/chunks/{index}", uploads.PutChunk)
				r.Post("/complete", uploads.Complete)
				r.Get("/missing-chunks", uploads.MissingChunks)
				r.Post("/abort", uploads.Abort)
				r.Get("/download", uploads.Download)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/cleanup", admin.Cleanup)
		})
	})

	return r, nil
}
