package server

import (
	"net/http"

	"github.com/inferloop/dart/pkg/constants"
)

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	apiRouter := s.router.PathPrefix(constants.APIPrefix).Subrouter()

	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/health/live", s.handlers.Live).Methods(http.MethodGet)

	s.router.HandleFunc("/version", s.handlers.Version).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle(s.metrics.GetConfig().Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Redaction endpoints
	apiRouter.HandleFunc("/redact", s.handlers.Redact).Methods(http.MethodPost)
	apiRouter.HandleFunc("/runs", s.handlers.ListRuns).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs/{id}", s.handlers.GetRun).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs/{id}/log", s.handlers.GetRunLog).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handlers.MethodNotAllowed)
}

// setupMiddleware sets up HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(s.securityHeadersMiddleware)

	if s.config.RequestTimeout > 0 {
		s.router.Use(s.timeoutMiddleware(s.config.RequestTimeout))
	}
}
