// Package httpserver wires the build relay HTTP API onto a chi router and
// manages its listener.
package httpserver

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/server/handlers"
	smw "git.home.luguber.info/inful/buildrelay/internal/server/middleware"
)

// Options carries the collaborators behind the API.
type Options struct {
	Submitter handlers.Submitter
	// Tracker backs the status endpoint; nil answers 404 for every key.
	Tracker jobstate.Tracker
	// Registry is exposed on /metrics when set.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Server manages the API listener.
type Server struct {
	cfg          config.HTTPConfig
	router       chi.Router
	srv          *http.Server
	ln           net.Listener
	errorAdapter *errors.HTTPErrorAdapter
}

// New constructs the API server and its routes.
func New(cfg config.HTTPConfig, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		errorAdapter: errors.NewHTTPErrorAdapter(logger),
	}

	build := handlers.NewBuildHandlers(opts.Submitter, opts.Tracker, cfg.MaxUploadBytes, s.errorAdapter)
	monitoring := handlers.NewMonitoringHandlers(opts.Submitter.Mode(), s.errorAdapter)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(smw.Chain(logger, s.errorAdapter))

	r.Get("/healthz", monitoring.HandleHealthCheck)
	r.Route("/api/build", func(r chi.Router) {
		r.Post("/", build.HandleSubmit)
		r.Get("/{key}", build.HandleResult)
		r.Get("/{key}/status", build.HandleStatus)
	})
	if opts.Registry != nil {
		r.Handle("/metrics", metrics.HTTPHandler(opts.Registry))
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		s.errorAdapter.WriteErrorResponse(w, req, errors.NotFoundError("route not found").
			WithContext("path", req.URL.Path).
			Build())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Start binds the listener up front so an address conflict fails fast,
// then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errors.RuntimeError("http startup failed").
			WithContext("addr", s.cfg.Addr).
			WithCause(err).
			Build()
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "error", err)
		}
	}()
	slog.Info("HTTP server started", slog.String("addr", s.Addr()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
