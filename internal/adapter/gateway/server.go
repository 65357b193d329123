package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
	"bedrock-relay/internal/infra/middleware"
)

// Deps are the collaborators the relay serves.
type Deps struct {
	Generator domain.Generator
	Models    ModelResolver
	Metrics   *Metrics         // optional; a fresh set is created when nil
	Now       func() time.Time // optional; defaults to time.Now
}

// Server is the HTTP relay.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	metrics *Metrics
	logger  *slog.Logger

	httpSrv   *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewServer builds the router. ctx bounds background work owned by the
// middleware (rate limiter cleanup).
func NewServer(ctx context.Context, cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = &Metrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		cfg:     cfg,
		metrics: deps.Metrics,
		logger:  logger,
		cancel:  cancel,
	}
	s.handler = s.routes(ctx, deps)
	return s
}

func (s *Server) routes(ctx context.Context, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", healthHandler(deps.Now, s.metrics))
	r.Get("/models", modelsHandler(deps.Models))
	r.Get("/metrics", metricsHandler(deps.Now(), s.metrics))

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit.Enabled {
			r.Use(middleware.RateLimit(ctx, s.cfg.RateLimit))
		}
		r.Method(http.MethodPost, "/generate", &generateHandler{
			gen:     deps.Generator,
			models:  deps.Models,
			format:  s.cfg.StreamFormat,
			maxBody: s.cfg.MaxBodyBytes,
			metrics: s.metrics,
			logger:  s.logger,
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Metrics returns the live counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins serving. Non-blocking; serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		// Shutdown drains streams instead of cancelling them outright.
		BaseContext: func(_ net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	go func() {
		s.logger.Info("relay listening", "addr", s.boundAddr, "stream_format", s.cfg.StreamFormat)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires, then closes the rest.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing connections", "error", err)
		return s.httpSrv.Close()
	}
	return nil
}

// BoundAddr returns the listening address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
