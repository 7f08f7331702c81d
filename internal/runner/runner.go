package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/export"
	"github.com/inferloop/dart/internal/observability/metrics"
	"github.com/inferloop/dart/internal/storage"
	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// Config controls how runs are coordinated with the storage backends.
type Config struct {
	// StrictSinks fails a run when a sink write fails. Otherwise sink
	// failures are logged and counted only.
	StrictSinks    bool          `json:"strict_sinks" mapstructure:"strict_sinks"`
	Retention      int           `json:"retention" mapstructure:"retention"`
	CacheTTL       time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	ArtifactFormat string        `json:"artifact_format" mapstructure:"artifact_format"`
}

// DefaultConfig returns the default runner configuration
func DefaultConfig() *Config {
	return &Config{
		Retention:      constants.DefaultRunRetention,
		CacheTTL:       constants.DefaultCacheTTL,
		ArtifactFormat: constants.FormatCSV,
	}
}

// Request is one table to redact.
type Request struct {
	Table   *table.Table
	Config  *suppression.Config
	Source  string
	Profile string
}

// Run is the outcome of a request.
type Run struct {
	ID          string                  `json:"run_id"`
	Fingerprint string                  `json:"fingerprint"`
	Source      string                  `json:"source"`
	Profile     string                  `json:"profile,omitempty"`
	Config      *suppression.Config     `json:"config"`
	Table       *table.Table            `json:"table,omitempty"`
	Logs        map[string]*table.Table `json:"-"`
	Stats       *suppression.Stats      `json:"stats"`
	Cached      bool                    `json:"cached"`
	Rows        int                     `json:"rows"`
	Artifacts   []string                `json:"artifacts,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Record converts the run into its audit form.
func (r *Run) Record() *interfaces.RunRecord {
	return &interfaces.RunRecord{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Source:      r.Source,
		Profile:     r.Profile,
		Config:      r.Config,
		Stats:       r.Stats,
		Cached:      r.Cached,
		Rows:        r.Rows,
		Artifacts:   r.Artifacts,
		CreatedAt:   r.CreatedAt,
	}
}

// LogColumns lists the frequency columns a log is held for.
func (r *Run) LogColumns() []string {
	columns := make([]string, 0, len(r.Logs))
	for c := range r.Logs {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// Runner coordinates the cache, the engine and the sinks, and keeps the most
// recent runs in memory.
type Runner struct {
	config   *Config
	backends *storage.Backends
	metrics  *metrics.PrometheusMetrics
	exporter *export.Engine
	logger   *logrus.Logger

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewRunner creates a runner. Backends and metrics may be nil.
func NewRunner(config *Config, backends *storage.Backends, pm *metrics.PrometheusMetrics, logger *logrus.Logger) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retention <= 0 {
		config.Retention = constants.DefaultRunRetention
	}
	if config.ArtifactFormat == "" {
		config.ArtifactFormat = constants.FormatCSV
	}
	if backends == nil {
		backends = &storage.Backends{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Runner{
		config:   config,
		backends: backends,
		metrics:  pm,
		exporter: export.NewEngine(logger),
		logger:   logger,
		runs:     make(map[string]*Run),
	}
}

// Redact runs the request, answering from the cache when an identical table
// and configuration were seen before.
func (r *Runner) Redact(ctx context.Context, req *Request) (*Run, error) {
	if req == nil || req.Table == nil {
		return nil, errors.NewTypeError(errors.CodeNotATable, errors.ErrNilTable.Error())
	}
	if req.Config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "suppression config is required")
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	finish := func(string) {}
	if r.metrics != nil {
		finish = r.metrics.RunStarted(source)
	}

	fingerprint, err := Fingerprint(req.Table, req.Config)
	if err != nil {
		finish("error")
		return nil, err
	}

	run := &Run{
		ID:          uuid.New().String(),
		Fingerprint: fingerprint,
		Source:      source,
		Profile:     req.Profile,
		Config:      req.Config,
		Rows:        req.Table.Len(),
		CreatedAt:   time.Now().UTC(),
	}

	logger := r.logger.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"source":      source,
		"fingerprint": fingerprint[:12],
	})

	var logs map[string]*suppression.RedactionLog
	if snapshot := r.lookup(ctx, fingerprint, logger); snapshot != nil {
		run.Table = snapshot.Table
		run.Logs = snapshot.Logs
		run.Stats = snapshot.Stats
		run.Cached = true
	} else {
		result, err := suppression.NewAnonymizer(req.Config, r.logger).Apply(ctx, req.Table)
		if err != nil {
			finish("error")
			r.recordError("engine", err)
			return nil, err
		}
		logs = result.Logs
		run.Table = result.Table
		run.Stats = result.Stats
		run.Logs = make(map[string]*table.Table, len(result.Logs))
		for column, log := range result.Logs {
			run.Logs[column] = log.Table()
		}
		if r.metrics != nil {
			r.metrics.RecordRunStats(result.Stats)
		}
	}

	if err := r.writeSinks(ctx, run, logs, logger); err != nil {
		finish("error")
		return nil, err
	}

	r.remember(run)

	status := "success"
	if run.Cached {
		status = "cached"
	}
	finish(status)

	logger.WithFields(logrus.Fields{
		"rows":      run.Rows,
		"cached":    run.Cached,
		"artifacts": len(run.Artifacts),
	}).Info("Run completed")

	return run, nil
}

// Get returns a run from memory, falling back to the audit store. Runs
// loaded from the audit store carry no table or logs.
func (r *Runner) Get(ctx context.Context, id string) (*Run, error) {
	r.mu.RLock()
	run, ok := r.runs[id]
	r.mu.RUnlock()
	if ok {
		return run, nil
	}

	if r.backends.Audit != nil {
		record, err := r.backends.Audit.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Run{
			ID:          record.ID,
			Fingerprint: record.Fingerprint,
			Source:      record.Source,
			Profile:     record.Profile,
			Config:      record.Config,
			Stats:       record.Stats,
			Cached:      record.Cached,
			Rows:        record.Rows,
			Artifacts:   record.Artifacts,
			CreatedAt:   record.CreatedAt,
		}, nil
	}

	return nil, errors.NewNotFoundError(errors.CodeRunNotFound, errors.ErrRunNotFound.Error()).
		WithContext("run_id", id)
}

// Log returns the flattened redaction log of a run. An empty column selects
// the log when the run has exactly one.
func (r *Runner) Log(ctx context.Context, id, column string) (*table.Table, error) {
	run, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if column == "" {
		columns := run.LogColumns()
		if len(columns) != 1 {
			return nil, errors.NewConfigurationError(errors.CodeMissingFrequency,
				fmt.Sprintf("run has logs for %v, choose one with column", columns))
		}
		column = columns[0]
	}
	log, ok := run.Logs[column]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("no redaction log for column %q", column)).WithContext("run_id", id)
	}
	return log, nil
}

// Recent returns the runs held in memory, newest first.
func (r *Runner) Recent() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		runs = append(runs, r.runs[r.order[i]])
	}
	return runs
}

func (r *Runner) remember(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	for len(r.order) > r.config.Retention {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
}

// lookup returns the cached snapshot or nil. Cache failures count as misses.
func (r *Runner) lookup(ctx context.Context, fingerprint string, logger *logrus.Entry) *interfaces.Snapshot {
	if r.backends.Cache == nil {
		return nil
	}

	snapshot, err := r.backends.Cache.Get(ctx, fingerprint)
	switch {
	case err == nil:
		r.recordCache("hit")
		return snapshot
	case errors.Is(err, errors.ErrCacheMiss):
		r.recordCache("miss")
	default:
		r.recordCache("error")
		logger.WithError(err).Warn("Result cache lookup failed")
	}
	return nil
}

func (r *Runner) writeSinks(ctx context.Context, run *Run, logs map[string]*suppression.RedactionLog, logger *logrus.Entry) error {
	if r.backends.Cache != nil && !run.Cached {
		err := r.sink(ctx, "cache", logger, func(ctx context.Context) error {
			return r.backends.Cache.Set(ctx, run.Fingerprint, &interfaces.Snapshot{
				Table: run.Table,
				Logs:  run.Logs,
				Stats: run.Stats,
			}, r.config.CacheTTL)
		})
		if err != nil {
			return err
		}
	}

	if r.backends.Artifacts != nil {
		err := r.sink(ctx, "artifacts", logger, func(ctx context.Context) error {
			artifacts, err := r.artifacts(ctx, run)
			if err != nil {
				return err
			}
			locations, err := r.backends.Artifacts.PutArtifacts(ctx, run.ID, artifacts)
			run.Artifacts = locations
			return err
		})
		if err != nil {
			return err
		}
	}

	if r.backends.Audit != nil {
		err := r.sink(ctx, "audit", logger, func(ctx context.Context) error {
			return r.backends.Audit.RecordRun(ctx, run.Record(), logs)
		})
		if err != nil {
			return err
		}
	}

	if r.backends.Stats != nil {
		err := r.sink(ctx, "stats", logger, func(ctx context.Context) error {
			return r.backends.Stats.WriteRun(ctx, run.Record())
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// sink runs one sink write, recording its outcome. It only returns an error
// in strict mode.
func (r *Runner) sink(ctx context.Context, name string, logger *logrus.Entry, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.RecordSinkOperation(name, status, time.Since(start))
	}
	if err == nil {
		return nil
	}

	r.recordError("sink_"+name, err)
	if r.config.StrictSinks {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			fmt.Sprintf("%s sink failed", name))
	}
	logger.WithError(err).WithField("sink", name).Warn("Sink write failed")
	return nil
}

// artifacts renders the redacted table and every log in the artifact format.
func (r *Runner) artifacts(ctx context.Context, run *Run) ([]interfaces.Artifact, error) {
	format := r.config.ArtifactFormat
	options := export.Options{}

	data, contentType, err := r.exporter.Bytes(ctx, format, run.Table, options)
	if err != nil {
		return nil, err
	}
	artifacts := []interfaces.Artifact{{
		Name:        "redacted." + format,
		ContentType: contentType,
		Data:        data,
	}}

	for _, column := range run.LogColumns() {
		data, contentType, err := r.exporter.Bytes(ctx, format, run.Logs[column], options)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, interfaces.Artifact{
			Name:        fmt.Sprintf("log_%s.%s", column, format),
			ContentType: contentType,
			Data:        data,
		})
	}
	return artifacts, nil
}

func (r *Runner) recordCache(result string) {
	if r.metrics != nil {
		r.metrics.RecordCacheRequest(result)
	}
}

func (r *Runner) recordError(component string, err error) {
	if r.metrics == nil {
		return
	}
	errType := string(errors.ErrorTypeInternal)
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		errType = string(appErr.Type)
	}
	r.metrics.RecordError(component, errType)
}

// Fingerprint identifies a table and configuration pair. Identical inputs
// always give the same fingerprint.
func Fingerprint(t *table.Table, cfg *suppression.Config) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	if err := enc.Encode(cfg); err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "Failed to fingerprint config")
	}
	if err := enc.Encode(t); err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "Failed to fingerprint table")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
