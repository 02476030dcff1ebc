package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const apiPrefix = "/api/v1"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level, server errors at warn.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"size", lrw.size,
			}
			l := utilities.WithTrace(r.Context(), logger)
			if status >= http.StatusInternalServerError {
				l.Warnw("http request", fields...)
				return
			}
			l.Debugw("http request", fields...)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers. API responses
// carry tokens, so they are never cached.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if h.Get("Content-Security-Policy") == "" {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
			}
			// HSTS only makes sense over TLS
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HealthCheck reports whether a dependency answers.
type HealthCheck func(ctx context.Context) error

// Deps is everything the route table needs. Metrics and Health may be nil.
type Deps struct {
	Logger        *zap.SugaredLogger
	Authenticator *auth.Authenticator
	Auth          *auth.Handler
	Users         *user.Handler
	Metrics       *metrics.Metrics
	Health        map[string]HealthCheck
}

// RegisterRoutes mounts the API on a standard library mux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	required := d.Authenticator.Middleware(auth.Required)
	optional := d.Authenticator.Middleware(auth.Optional)
	admin := func(h http.HandlerFunc) http.Handler {
		gate := auth.Authorize(auth.All(auth.RequireRoles(entity.RoleAdmin), auth.RequireVerifiedEmail()))
		return required(gate(h))
	}

	mux.HandleFunc("GET "+apiPrefix+"/health", healthHandler(d.Health))
	mux.Handle("GET /metrics", d.Metrics.Handler())

	mux.HandleFunc("POST "+apiPrefix+"/auth/signup", d.Users.Signup)
	mux.HandleFunc("POST "+apiPrefix+"/auth/login", d.Auth.Login)
	mux.HandleFunc("POST "+apiPrefix+"/auth/refresh", d.Auth.Refresh)
	mux.Handle("POST "+apiPrefix+"/auth/logout", required(http.HandlerFunc(d.Auth.Logout)))
	mux.Handle("GET "+apiPrefix+"/auth/me", required(http.HandlerFunc(d.Auth.Me)))
	mux.Handle("GET "+apiPrefix+"/auth/session", optional(http.HandlerFunc(d.Auth.Session)))
	mux.HandleFunc("POST "+apiPrefix+"/auth/revoke", d.Auth.Revoke)
	mux.Handle("POST "+apiPrefix+"/auth/introspect", admin(d.Auth.Introspect))

	mux.Handle("GET "+apiPrefix+"/admin/users/{id}", admin(d.Users.Get))
	mux.Handle("POST "+apiPrefix+"/admin/users/{id}/deactivate", admin(d.Users.Deactivate))
	mux.Handle("POST "+apiPrefix+"/admin/users/{id}/reactivate", admin(d.Users.Reactivate))
	mux.Handle("POST "+apiPrefix+"/admin/users/{id}/verify-email", admin(d.Users.VerifyEmail))

	// tracing wraps logging so request logs carry the trace id
	handler := LoggingMiddleware(d.Logger)(SecurityHeadersMiddleware()(mux))
	return otelhttp.NewHandler(handler, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
