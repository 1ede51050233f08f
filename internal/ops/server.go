// Package ops exposes the engine's operational HTTP surface: liveness and
// readiness probes, engine status, the model list, per-resort freshness,
// paginated job history, aggregate stats, Prometheus metrics, and manual
// model triggers. It is an internal surface with no authentication; deploy
// it behind the perimeter.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestMetrics records ops API request telemetry. May be nil, in which
// case requests are served without instrumentation.
type RequestMetrics interface {
	// RecordHTTPRequest records one request's method, matched route
	// pattern, response status, and latency.
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// Config carries the dependencies and settings for the ops server.
type Config struct {
	// Port is the TCP port to listen on.
	Port string

	// ReadTimeout and WriteTimeout bound request handling on the underlying
	// http.Server.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Handler serves the status and trigger endpoints.
	Handler *Handler

	// Gatherer backs the /metrics endpoint. May be nil, in which case the
	// route is not mounted.
	Gatherer prometheus.Gatherer

	// Metrics records request telemetry. May be nil.
	Metrics RequestMetrics

	// Logger receives request and lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the ops HTTP server. It wraps an http.Server with the engine's
// middleware chain and routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router, applies the middleware chain, and prepares
// the server for Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("ops: handler is required")
	}
	if cfg.Port == "" {
		return nil, errors.New("ops: port is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(recoverer(logger))
	r.Use(requestLogger(logger))
	r.Use(requestMetrics(cfg.Metrics))

	cfg.Handler.RegisterRoutes(r)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}, nil
}

// Start begins listening. Returns http.ErrServerClosed after a graceful
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying router. Used in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// statusRecorder captures the response status code for the logging and
// metrics middleware. The default is 200 per the net/http contract.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer for http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// recoverer catches panics from the handler chain, logs the stack, and
// writes a 500 JSON error. It must be the outermost middleware.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", fmt.Sprintf("%v", rvr),
						"stack", string(debug.Stack()),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":{"code":"internal_unexpected_error","message":"an unexpected error occurred"}}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request with the response status and
// latency. Status >= 500 logs at error, >= 400 at warn.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			}
			switch {
			case sr.status >= 500:
				logger.Error("request completed", args...)
			case sr.status >= 400:
				logger.Warn("request completed", args...)
			default:
				logger.Info("request completed", args...)
			}
		})
	}
}

// requestMetrics records request telemetry labeled by the matched chi route
// pattern, so /resorts/alta/status and /resorts/vail/status share one series.
func requestMetrics(m RequestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(r.Method, route, sr.status, time.Since(start))
		})
	}
}
