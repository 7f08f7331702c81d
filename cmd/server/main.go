package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/config"
	"github.com/inferloop/dart/internal/observability/health"
	"github.com/inferloop/dart/internal/observability/metrics"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/server"
	"github.com/inferloop/dart/internal/storage"
)

func main() {
	flags := ParseFlags()

	cfg, err := config.Load(nil, flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	applyFlags(cfg, flags)

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
		"profiles":  cfg.ProfileNames(),
	}).Info("Starting Disclosure Avoidance Redaction Tool server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	pm, err := metrics.NewPrometheusMetrics(&cfg.Metrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create metrics")
	}
	if err := pm.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics server")
	}

	backends, err := storage.NewFactory(logger).Open(ctx, &cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage backends")
	}

	monitor := health.NewHealthMonitor(logger)
	backends.RegisterHealthChecks(monitor)

	// The API serves /metrics itself unless a dedicated port is configured.
	var apiMetrics *metrics.PrometheusMetrics
	if !cfg.Metrics.Enabled {
		apiMetrics = pm
	}

	cfg.Server.Version = Version
	cfg.Server.BuildTime = BuildDate
	cfg.Server.GitCommit = GitCommit

	srv, err := server.NewServer(&cfg.Server, server.Dependencies{
		Runner:   runner.NewRunner(&cfg.Runner, backends, pm, logger),
		Metrics:  apiMetrics,
		Health:   monitor,
		Profiles: cfg,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Server failed")
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if err := pm.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Metrics shutdown failed")
	}
	if err := backends.Close(); err != nil {
		logger.WithError(err).Error("Storage shutdown failed")
	}

	logger.Info("Server stopped")
}

func applyFlags(cfg *config.Config, flags *Flags) {
	if flags.Port != 0 {
		cfg.Server.Port = flags.Port
	}
	if flags.Host != "" {
		cfg.Server.Host = flags.Host
	}
	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		cfg.Logging.Format = flags.LogFormat
	}
	if flags.MetricsPort != 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = flags.MetricsPort
	}
	if flags.TLSCert != "" {
		cfg.Server.TLSCertFile = flags.TLSCert
	}
	if flags.TLSKey != "" {
		cfg.Server.TLSKeyFile = flags.TLSKey
	}
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set log format
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
