package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/constants"
)

// PrometheusMetrics provides Prometheus-based metrics collection
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Run metrics
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsActive      prometheus.Gauge
	rowsProcessed   prometheus.Counter
	cellsSuppressed *prometheus.CounterVec
	ruleFirings     *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec

	// Sink metrics
	sinkOperationsTotal *prometheus.CounterVec
	sinkDuration        *prometheus.HistogramVec

	errorsTotal *prometheus.CounterVec
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Port      int    `json:"port" mapstructure:"port"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Subsystem string `json:"subsystem" mapstructure:"subsystem"`
}

// DefaultPrometheusConfig returns the metrics configuration used when none is given.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   false,
		Port:      constants.DefaultMetricsPort,
		Path:      "/metrics",
		Namespace: constants.AppName,
	}
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Start serves the registry on its own port when enabled.
func (pm *PrometheusMetrics) Start(ctx context.Context) error {
	if !pm.config.Enabled {
		pm.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, pm.Handler())

	pm.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", pm.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: constants.DefaultReadTimeout,
	}

	pm.logger.WithFields(logrus.Fields{
		"port": pm.config.Port,
		"path": pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	if pm.server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return pm.server.Shutdown(ctx)
}

// Handler exposes the registry for mounting on another router.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// HTTP Metrics
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RunStarted marks a run as in flight. The returned func records its outcome.
func (pm *PrometheusMetrics) RunStarted(source string) func(status string) {
	start := time.Now()
	pm.runsActive.Inc()
	return func(status string) {
		pm.runsActive.Dec()
		pm.runsTotal.WithLabelValues(source, status).Inc()
		pm.runDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}
}

// RecordRunStats adds the per-column outcome of a completed run.
func (pm *PrometheusMetrics) RecordRunStats(stats *suppression.Stats) {
	if stats == nil {
		return
	}
	for _, column := range stats.Columns {
		pm.rowsProcessed.Add(float64(column.Records))
		for category, n := range column.Categories {
			if category == suppression.NotRedacted {
				continue
			}
			pm.cellsSuppressed.WithLabelValues(string(category)).Add(float64(n))
		}
		if column.Pipeline != nil {
			for rule, n := range column.Pipeline.Firings {
				pm.ruleFirings.WithLabelValues(rule).Add(float64(n))
			}
		}
	}
}

// Cache Metrics
func (pm *PrometheusMetrics) RecordCacheRequest(result string) {
	pm.cacheRequests.WithLabelValues(result).Inc()
}

// Sink Metrics
func (pm *PrometheusMetrics) RecordSinkOperation(sink, status string, duration time.Duration) {
	pm.sinkOperationsTotal.WithLabelValues(sink, status).Inc()
	pm.sinkDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// Error Metrics
func (pm *PrometheusMetrics) RecordError(component, errorType string) {
	pm.errorsTotal.WithLabelValues(component, errorType).Inc()
}

// initializeMetrics initializes all Prometheus metrics
func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Total number of redaction runs",
		},
		[]string{"source", "status"},
	)

	pm.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Redaction run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	pm.runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_active",
			Help:      "Number of redaction runs in flight",
		},
	)

	pm.rowsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rows_processed_total",
			Help:      "Total number of input rows redacted, per frequency column",
		},
	)

	pm.cellsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cells_suppressed_total",
			Help:      "Total number of detail cells suppressed, by redaction category",
		},
		[]string{"category"},
	)

	pm.ruleFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rule_firings_total",
			Help:      "Total number of cells newly suppressed, by rule",
		},
		[]string{"rule"},
	)

	pm.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_requests_total",
			Help:      "Total number of result cache lookups",
		},
		[]string{"result"},
	)

	pm.sinkOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sink_operations_total",
			Help:      "Total number of result sink writes",
		},
		[]string{"sink", "status"},
	)

	pm.sinkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sink_operation_duration_seconds",
			Help:      "Result sink write duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"sink"},
	)

	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "type"},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.runsTotal,
		pm.runDuration,
		pm.runsActive,
		pm.rowsProcessed,
		pm.cellsSuppressed,
		pm.ruleFirings,
		pm.cacheRequests,
		pm.sinkOperationsTotal,
		pm.sinkDuration,
		pm.errorsTotal,
	}

	for _, collector := range collectors {
		if err := pm.registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// GetConfig returns the metrics configuration
func (pm *PrometheusMetrics) GetConfig() *PrometheusConfig {
	return pm.config
}
