// Package httpapi exposes runtime readiness over HTTP for probes and
// operators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/bootready"
)

// ReadinessChecker evaluates module readiness once. *bootready.StdSystemMonitor
// satisfies it.
type ReadinessChecker interface {
	CheckModules(ctx context.Context) ([]bootready.ModuleDiagnostic, error)
}

// Option configures the router.
type Option func(*router)

// WithLogger sets the logger used for request logging.
func WithLogger(logger bootready.Logger) Option {
	return func(r *router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp reports.
func WithClock(now func() time.Time) Option {
	return func(r *router) {
		if now != nil {
			r.now = now
		}
	}
}

type router struct {
	checker  ReadinessChecker
	registry bootready.ModuleRegistry
	logger   bootready.Logger
	now      func() time.Time
}

// ReadyResponse is the body of /readyz.
type ReadyResponse struct {
	Status   bootready.HealthStatus       `json:"status"`
	Inactive []bootready.ModuleDiagnostic `json:"inactive,omitempty"`
	Error    string                       `json:"error,omitempty"`
}

// NewRouter builds the HTTP surface:
//
//	GET /readyz   200 when every module is ready, 503 otherwise
//	GET /livez    200 while the process serves requests
//	GET /modules  per-module health
//	GET /metrics  only when metrics is non-nil
func NewRouter(checker ReadinessChecker, registry bootready.ModuleRegistry, metrics http.Handler, opts ...Option) chi.Router {
	rt := &router{
		checker:  checker,
		registry: registry,
		logger:   nopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)

	r.Get("/readyz", rt.readyz)
	r.Get("/livez", rt.livez)
	r.Get("/modules", rt.modules)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (rt *router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := rt.now()
		next.ServeHTTP(ww, r)
		rt.logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", rt.now().Sub(start),
			"requestId", middleware.GetReqID(r.Context()))
	})
}

func (rt *router) readyz(w http.ResponseWriter, r *http.Request) {
	inactive, err := rt.checker.CheckModules(r.Context())
	resp := ReadyResponse{Status: bootready.HealthStatusHealthy, Inactive: inactive}

	var merr *bootready.MonitorError
	switch {
	case err == nil && len(inactive) == 0:
		writeJSON(w, http.StatusOK, resp)
		return
	case err == nil:
		resp.Status = bootready.HealthStatusDegraded
	case errors.As(err, &merr) && merr.Kind == bootready.KindTerminalState:
		resp.Status = bootready.HealthStatusUnhealthy
		resp.Error = err.Error()
	default:
		resp.Status = bootready.HealthStatusUnknown
		resp.Error = err.Error()
		rt.logger.Error("Readiness check failed", "error", err)
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

func (rt *router) livez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ReadyResponse{Status: bootready.HealthStatusHealthy})
}

func (rt *router) modules(w http.ResponseWriter, r *http.Request) {
	modules, err := rt.registry.Modules(r.Context())
	if err != nil {
		rt.logger.Error("Failed to list modules", "error", err)
		writeJSON(w, http.StatusInternalServerError, ReadyResponse{Status: bootready.HealthStatusUnknown, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, bootready.ModuleHealth(modules, rt.now()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
