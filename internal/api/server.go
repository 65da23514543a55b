// Package api exposes the pipeline over HTTP: cycle triggering, the audit
// surface, replay, and the admin endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/audit"
	"main/internal/bus"
	"main/internal/executor"
	"main/internal/pipeline"
	"main/internal/risk"
)

// Config controls the HTTP listener.
type Config struct {
	Addr       string
	AdminToken string
}

// Deps are the components the API fronts.
type Deps struct {
	Runner   *pipeline.Runner
	Store    audit.Store
	Replayer *audit.Replayer
	Risk     *risk.Manager
	Router   *executor.Router
	Bus      *bus.Bus
	Gatherer prometheus.Gatherer
}

// Server is the HTTP surface.
type Server struct {
	cfg  Config
	deps Deps
	srv  *http.Server
}

// NewServer wires the routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if deps.Store == nil {
		return nil, errors.New("api: nil audit store")
	}
	s := &Server{cfg: cfg, deps: deps}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler builds the chi router; exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cycles", s.handleRunCycle)
		r.Route("/audit", func(r chi.Router) {
			r.Get("/records", s.handleListRecords)
			r.Get("/records/{id}", s.handleGetRecord)
			r.Post("/records/{id}/replay", s.handleReplay)
			r.Get("/stats", s.handleStats)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Get("/risk", s.handleRiskStatus)
			r.Get("/execution", s.handleExecutionStatus)
			r.With(s.requireAdmin).Post("/killswitch/reset", s.handleKillSwitchReset)
		})
	})
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logs.Infof("api listening on %s", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "serve api")
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logs.Infof("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Truncate(time.Microsecond))
	})
}

// requireAdmin gates destructive admin actions behind the configured token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin token not configured")
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Warnf("encode response, err: %+v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
