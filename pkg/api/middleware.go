package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/api/handlers"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/metrics"
)

// serverHeaders stamps every response with the request id and running
// version so clients can quote both when reporting problems.
func serverHeaders(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := middleware.GetReqID(r.Context()); id != "" {
				w.Header().Set("X-Request-ID", id)
			}
			if version != "" {
				w.Header().Set("X-Shuttle-Version", version)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger installs the per-request log context, opens a span when
// tracing is on, and logs one completion line per request.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		clientIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}

		lc := logger.NewLogContext(requestID, clientIP)

		ctx, span := telemetry.StartSpan(r.Context(), "HTTP "+r.Method)
		defer span.End()
		if sc := span.SpanContext(); sc.IsValid() {
			lc = lc.WithTrace(sc.TraceID().String(), sc.SpanID().String())
		}
		ctx = logger.WithContext(ctx, lc)

		logger.DebugCtx(ctx, "request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		// The route context is shared with the mux, so the path
		// parameters are visible here once routing has happened.
		uploadID := chi.URLParam(r, "id")
		telemetry.SetAttributes(ctx,
			telemetry.RequestID(requestID),
			telemetry.ClientIP(clientIP),
		)
		if uploadID != "" {
			telemetry.SetAttributes(ctx, telemetry.UploadID(uploadID))
		}

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", lc.DurationMs(),
		}
		if uploadID != "" {
			args = append(args, "upload_id", uploadID)
		}
		logger.InfoCtx(ctx, "request completed", args...)
	})
}

// httpMetrics observes request latency per method, route pattern and
// status code. The route pattern keeps the label cardinality bounded.
func httpMetrics(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}

// authenticate resolves the caller through the configured providers and
// rejects the request when none admits it. The principal travels in the
// request context; the per-principal limiter answers 429 with a
// Retry-After once a key exceeds its request budget.
func authenticate(authenticator *auth.Authenticator, limiter *auth.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := authenticator.Authenticate(r.Context(), r)
			if err != nil {
				if errors.Is(err, auth.ErrMissingCredentials) {
					handlers.Unauthorized(w, r, "missing API key")
					return
				}
				handlers.Forbidden(w, r, "invalid API key")
				return
			}

			if !limiter.Allow(principal.ID) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
				w.Header().Set("X-RateLimit-Reason", auth.RateLimitReason)
				handlers.Error(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			if lc := logger.FromContext(ctx); lc != nil {
				ctx = logger.WithContext(ctx, lc.WithUser(principal.ID))
			}
			telemetry.SetAttributes(ctx,
				telemetry.UserID(principal.ID),
				telemetry.AuthMode(principal.Method),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin gates a route subtree to admin principals. Must sit
// inside authenticate.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			handlers.Unauthorized(w, r, "missing API key")
			return
		}
		if !principal.Admin {
			handlers.Forbidden(w, r, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
