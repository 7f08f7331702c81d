package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/observability/health"
	"github.com/inferloop/dart/internal/observability/metrics"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/suppression"
)

// ProfileSource resolves named suppression configurations. The empty name
// selects the default profile.
type ProfileSource interface {
	Profile(name string) (*suppression.Config, error)
}

// Dependencies are the components the API serves. Metrics, Health and
// Profiles may be nil.
type Dependencies struct {
	Runner   *runner.Runner
	Metrics  *metrics.PrometheusMetrics
	Health   *health.HealthMonitor
	Profiles ProfileSource
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *Config
	handlers   *Handlers
	metrics    *metrics.PrometheusMetrics
}

// NewServer creates a new HTTP server instance
func NewServer(config *Config, deps Dependencies, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.New()
	}

	if deps.Runner == nil {
		deps.Runner = runner.NewRunner(nil, nil, deps.Metrics, logger)
	}
	if deps.Health == nil {
		deps.Health = health.NewHealthMonitor(logger)
	}

	server := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   config,
		handlers: NewHandlers(deps, config, logger),
		metrics:  deps.Metrics,
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:         config.GetAddress(),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server, nil
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Starting HTTP server on %s", s.config.GetAddress())

	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		s.logger.Info("Starting HTTPS server")
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("Error shutting down HTTP server: %v", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the HTTP router
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *Config {
	return s.config
}
