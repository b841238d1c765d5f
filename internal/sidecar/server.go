// Package sidecar implements the Streaming HTTP Sidecar (§4.12): the local
// server that presents slimclaw as a provider endpoint to the host agent
// runtime, routing every chat-completion request through the orchestrator
// before forwarding it upstream and streaming the response straight back.
//
// Grounded on the teacher's internal/httpapi package (chi router,
// Dependencies-struct wiring, start/stop lifecycle with OS-assigned-port
// support) but the routes and handlers themselves are new: one optimized
// chat-completions endpoint plus /health, /admin/status, and, when their
// dependencies are wired, /admin/tsdb and /metrics.
package sidecar

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/evansantos/slimclaw/internal/async"
	"github.com/evansantos/slimclaw/internal/forwarder"
	"github.com/evansantos/slimclaw/internal/idempotency"
	"github.com/evansantos/slimclaw/internal/latency"
	"github.com/evansantos/slimclaw/internal/logging"
	"github.com/evansantos/slimclaw/internal/metrics"
	"github.com/evansantos/slimclaw/internal/orchestrator"
	"github.com/evansantos/slimclaw/internal/pricing"
	"github.com/evansantos/slimclaw/internal/ratelimit"
	"github.com/evansantos/slimclaw/internal/stats"
	"github.com/evansantos/slimclaw/internal/store"
	"github.com/evansantos/slimclaw/internal/tsdb"
)

// Dependencies wires every service the sidecar's handlers call into.
// Config is a getter rather than a value so a SIGHUP reload
// (internal/app) can swap the orchestrator config atomically without
// restarting the listener.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Forwarder    *forwarder.Forwarder
	Config       func() orchestrator.Config

	Pricing     *pricing.Table
	Metrics     *metrics.Registry
	Store       store.Store
	Stats       *stats.Collector
	Latency     *latency.Tracker
	Recorder    *async.Recorder
	RateLimiter *ratelimit.Limiter
	CORSOrigins []string
	Logger      *slog.Logger

	// TSDB records a cost/latency point per completed request when set;
	// nil disables both recording and the /admin/tsdb query route.
	TSDB *tsdb.Store

	// Idempotency replays a cached response for a repeated Idempotency-Key
	// header; nil disables the middleware entirely.
	Idempotency *idempotency.Cache
}

// Server owns the sidecar's HTTP listener lifecycle.
type Server struct {
	deps Dependencies

	mu      sync.Mutex
	ln      net.Listener
	httpSrv *http.Server
	addr    string
}

// New constructs a Server. It does not bind a listener until Start.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Start binds addr (":0" for an OS-assigned port) and begins serving in
// the background. It fails fast if the server is already running and
// reports the actual bound address, important for addr=":0" (§4.12
// lifecycle: "reports the actual bound port").
func (s *Server) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return "", fmt.Errorf("sidecar: already running on %s", s.addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("sidecar: listen %s: %w", addr, err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	router := chi.NewRouter()
	mountRoutes(router, s.deps, port)

	s.ln = ln
	s.addr = ln.Addr().String()
	s.httpSrv = &http.Server{Handler: router}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.deps.Logger.Error("sidecar: serve failed", slog.String("error", err.Error()))
		}
	}()

	return s.addr, nil
}

// Stop fails fast if the server isn't running and otherwise waits for
// in-flight responses to complete before closing the listener (§4.12
// lifecycle: "awaits pending response completion").
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return fmt.Errorf("sidecar: not running")
	}
	err := s.httpSrv.Shutdown(ctx)
	s.httpSrv = nil
	s.ln = nil
	s.addr = ""
	return err
}

// Addr returns the currently bound address, or "" if not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func mountRoutes(r chi.Router, d Dependencies, port int) {
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(d.Logger))
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", healthHandler(port))

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		if d.Idempotency != nil {
			r.Use(idempotency.Middleware(d.Idempotency))
		}
		r.Post("/chat/completions", ChatCompletionsHandler(d))
	})

	r.Get("/admin/status", StatusHandler(d))
	if d.TSDB != nil {
		r.Get("/admin/tsdb", TSDBQueryHandler(d))
	}

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

func healthHandler(port int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"port":   port,
		})
	}
}
