// Package suppression decides which cells of an aggregated table must be
// hidden to avoid statistical disclosure.
//
// A run resolves the configuration against the table, aggregates the records
// at every organizational and sensitive-attribute granularity, applies the
// primary and complementary suppression rules to that log, and joins the
// detail-level decisions back onto the input rows.
package suppression

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// Anonymizer runs the suppression engine for one configuration.
type Anonymizer struct {
	config *Config
	logger *logrus.Logger
}

// ColumnStats summarises the run for one frequency column.
type ColumnStats struct {
	FrequencyColumn string            `json:"frequency_column"`
	Records         int               `json:"records"`
	Cells           int               `json:"cells"`
	Groupings       int               `json:"groupings"`
	Categories      map[Redaction]int `json:"categories"`
	DroppedRows     int               `json:"dropped_rows"`
	Pipeline        *PipelineStats    `json:"pipeline"`
}

// SuppressedRecords counts detail rows hidden for any reason.
func (s *ColumnStats) SuppressedRecords() int {
	n := 0
	for category, count := range s.Categories {
		if category != NotRedacted {
			n += count
		}
	}
	return n
}

// Stats summarises a whole run.
type Stats struct {
	Columns  []*ColumnStats `json:"columns"`
	Duration time.Duration  `json:"duration"`
}

// Result is the redacted table plus the logs that produced it.
type Result struct {
	Table *table.Table
	Logs  map[string]*RedactionLog
	Stats *Stats
}

// Log returns the redaction log built for a frequency column.
func (r *Result) Log(frequency string) *RedactionLog {
	return r.Logs[frequency]
}

// NewAnonymizer creates an anonymizer. A nil config uses DefaultConfig,
// which still needs columns before Apply succeeds.
func NewAnonymizer(config *Config, logger *logrus.Logger) *Anonymizer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Anonymizer{
		config: config,
		logger: logger,
	}
}

// Config returns the configuration the anonymizer was built with.
func (a *Anonymizer) Config() *Config {
	return a.config
}

// Apply redacts t. Either every frequency column is processed and a fully
// annotated table is returned, or an error is returned and nothing else.
func (a *Anonymizer) Apply(ctx context.Context, t *table.Table) (*Result, error) {
	start := time.Now()

	if err := checkTable(t); err != nil {
		return nil, err
	}
	if err := a.config.Validate(); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"rows":              t.Len(),
		"sensitive_columns": a.config.SensitiveColumns,
		"frequency_columns": a.config.FrequencyColumns,
		"threshold":         a.config.MinimumThreshold,
	}).Info("Applying disclosure avoidance")

	var (
		out   *table.Table
		logs  = make(map[string]*RedactionLog)
		stats = &Stats{}
	)

	if len(a.config.FrequencyColumns) == 1 {
		column := a.config.FrequencyColumns[0]
		run, err := a.runColumn(ctx, t, column, "")
		if err != nil {
			return nil, err
		}
		out = run.table
		logs[column] = run.log
		stats.Columns = append(stats.Columns, run.stats)
	} else {
		runs, merged, err := a.applyMany(ctx, t)
		if err != nil {
			return nil, err
		}
		out = merged
		for i, column := range a.config.FrequencyColumns {
			logs[column] = runs[i].log
			stats.Columns = append(stats.Columns, runs[i].stats)
		}
	}

	stats.Duration = time.Since(start)
	suppressed := 0
	for _, cs := range stats.Columns {
		suppressed += cs.SuppressedRecords()
	}
	a.logger.WithFields(logrus.Fields{
		"rows":        out.Len(),
		"suppressed":  suppressed,
		"duration_ms": stats.Duration.Milliseconds(),
	}).Info("Disclosure avoidance complete")

	return &Result{Table: out, Logs: logs, Stats: stats}, nil
}

// columnRun is the outcome of one engine run over one frequency column.
type columnRun struct {
	table *table.Table
	log   *RedactionLog
	stats *ColumnStats
}

func (a *Anonymizer) runColumn(ctx context.Context, t *table.Table, column, suffix string) (*columnRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "run cancelled")
	}

	schema, records, err := Resolve(t, a.config, column)
	if err != nil {
		return nil, err
	}

	log := BuildLog(schema, records)
	opts := PipelineOptions{Converge: a.config.Converge, MaxIterations: 1}
	if a.config.Converge {
		opts.MaxIterations = a.config.maxIterations()
	}
	pstats := RunPipeline(log, opts, a.logger)

	out, dropped, err := Apply(t, log, a.config.RedactValue, suffix)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		a.logger.WithFields(logrus.Fields{
			"frequency_column": column,
			"dropped":          dropped,
		}).Warn("Rows without a detail cell were dropped")
	}

	stats := &ColumnStats{
		FrequencyColumn: column,
		Records:         len(records),
		Cells:           len(log.Cells),
		Groupings:       len(log.Groupings),
		Categories:      make(map[Redaction]int),
		DroppedRows:     dropped,
		Pipeline:        pstats,
	}
	for _, c := range log.DetailCells() {
		stats.Categories[c.Redact]++
	}

	return &columnRun{table: out, log: log, stats: stats}, nil
}
