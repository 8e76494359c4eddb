package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/auth"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	env        string // Environment (e.g., "DEV", "production")
	config     config.Config
	auth       *auth.Engine
	limiter    *ipRateLimiter
	routes     []string
	httpServer *http.Server
	lock       sync.Mutex

	metricsPath    string
	metricsHandler http.Handler
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithMetricsHandler serves handler at path outside the /oauth routes.
func WithMetricsHandler(path string, handler http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = handler
	}
}

func New(cfg config.Config, engine *auth.Engine, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[server.New] config is required")
	}
	if engine == nil {
		return nil, errors.New("[server.New] auth engine is required")
	}
	rps, burst := cfg.GetTokenRateLimit()
	s := &Server{
		env:     cfg.GetEnv(),
		config:  cfg,
		auth:    engine,
		limiter: newIPRateLimiter(rps, burst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the router. Each call returns a fresh router over the same engines.
func (s *Server) Handler() http.Handler {
	router := s.initRoutes()
	s.logRoutes()
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.GetPort(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	httpServer := s.httpServer
	s.lock.Unlock()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "[Server.Run] listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "[Server.Run] shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "[Server.Run] listen")
	}
	log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		log.Debug().Msg("route " + colourRoute(route))
	}
}
