// Package devserver is a local REST backend for the console. It serves every
// kind in the schema registry from the sqlite storage, signs session tokens,
// pushes record changes over websocket channels and exposes Prometheus
// metrics.
//
// Routes, relative to /api:
//
//	POST   /session/login          {email} -> {token}
//	GET    /session/me             the signed-in account, role expanded
//	GET    /<collection>           every record, references expanded
//	POST   /<collection>           create
//	GET    /<record>?id=<id>       one record
//	PUT    /<record>/{id}          update (PATCH is accepted too)
//	DELETE /<record>/{id}          delete
//	GET    /channel/<kind>         websocket change feed
//
// GET /metrics serves the Prometheus exposition outside /api.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/internal/sqlite"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const (
	apiPrefix       = "/api"
	shutdownTimeout = 5 * time.Second
)

// Server is the development backend.
type Server struct {
	cfg      types.ServerConfig
	registry *schema.Registry
	backend  *sqlite.Backend
	hub      *Hub
	metrics  *metrics
	promReg  *prometheus.Registry
	handler  http.Handler
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for token issuing and checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds a server over an attached backend.
func New(cfg types.ServerConfig, reg *schema.Registry, backend *sqlite.Backend, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	promReg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		registry: reg,
		backend:  backend,
		promReg:  promReg,
		metrics:  newMetrics(promReg),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.metrics.clients)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiPrefix+"/session/login", s.handleLogin)
	mux.HandleFunc("GET "+apiPrefix+"/session/me", s.authed(s.handleMe))
	mux.HandleFunc("GET "+apiPrefix+"/channel/{kind}", s.authed(s.handleChannel))
	for _, kind := range reg.Kinds() {
		sch, err := reg.Kind(kind)
		if err != nil {
			return nil, err
		}
		r := &resource{server: s, schema: sch}
		coll := apiPrefix + "/" + sch.Collection
		rec := apiPrefix + "/" + sch.Record
		mux.HandleFunc("GET "+coll, s.authed(r.list))
		mux.HandleFunc("POST "+coll, s.authed(r.create))
		mux.HandleFunc("GET "+rec, s.authed(r.get))
		mux.HandleFunc("PUT "+rec+"/{id}", s.authed(r.update))
		mux.HandleFunc("PATCH "+rec+"/{id}", s.authed(r.update))
		mux.HandleFunc("DELETE "+rec+"/{id}", s.authed(r.remove))
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	s.handler = s.instrument(mux)
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the Prometheus registry behind /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.promReg
}

// Hub returns the change feed.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	glog.Infof("devserver: serving on http://%s%s", ln.Addr(), apiPrefix)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	glog.Infof("devserver: stopped")
	return nil
}
