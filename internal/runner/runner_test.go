package runner

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dart/internal/observability/metrics"
	"github.com/inferloop/dart/internal/storage"
	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

type memoryCache struct {
	mu        sync.Mutex
	snapshots map[string]*interfaces.Snapshot
}

func (c *memoryCache) Get(ctx context.Context, key string) (*interfaces.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[key]
	if !ok {
		return nil, errors.ErrCacheMiss
	}
	return s, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, s *interfaces.Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[key] = s
	return nil
}

func (c *memoryCache) Ping(ctx context.Context) error { return nil }
func (c *memoryCache) Close() error                   { return nil }

type memoryArtifacts struct {
	fail  bool
	names []string
}

func (a *memoryArtifacts) PutArtifacts(ctx context.Context, runID string, artifacts []interfaces.Artifact) ([]string, error) {
	if a.fail {
		return nil, stderrors.New("bucket unreachable")
	}
	var locations []string
	for _, artifact := range artifacts {
		a.names = append(a.names, artifact.Name)
		locations = append(locations, "mem://"+runID+"/"+artifact.Name)
	}
	return locations, nil
}

func (a *memoryArtifacts) Ping(ctx context.Context) error { return nil }
func (a *memoryArtifacts) Close() error                   { return nil }

type memoryAudit struct {
	runs map[string]*interfaces.RunRecord
	logs map[string]map[string]*suppression.RedactionLog
}

func newMemoryAudit() *memoryAudit {
	return &memoryAudit{
		runs: make(map[string]*interfaces.RunRecord),
		logs: make(map[string]map[string]*suppression.RedactionLog),
	}
}

func (a *memoryAudit) RecordRun(ctx context.Context, run *interfaces.RunRecord, logs map[string]*suppression.RedactionLog) error {
	a.runs[run.ID] = run
	a.logs[run.ID] = logs
	return nil
}

func (a *memoryAudit) GetRun(ctx context.Context, id string) (*interfaces.RunRecord, error) {
	run, ok := a.runs[id]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound, "run not found")
	}
	return run, nil
}

func (a *memoryAudit) ListRuns(ctx context.Context, limit int) ([]*interfaces.RunRecord, error) {
	return nil, nil
}

func (a *memoryAudit) Ping(ctx context.Context) error { return nil }
func (a *memoryAudit) Close() error                   { return nil }

type memoryStats struct {
	written []*interfaces.RunRecord
}

func (s *memoryStats) WriteRun(ctx context.Context, run *interfaces.RunRecord) error {
	s.written = append(s.written, run)
	return nil
}

func (s *memoryStats) Ping(ctx context.Context) error { return nil }
func (s *memoryStats) Close() error                   { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func gradeTable() *table.Table {
	return table.FromStrings(
		[]string{"Grade", "Sex", "Counts"},
		[][]string{
			{"A", "F", "3"},
			{"A", "M", "20"},
			{"B", "F", "15"},
			{"B", "M", "25"},
		},
	)
}

func gradeConfig() *suppression.Config {
	cfg := suppression.DefaultConfig()
	cfg.SensitiveColumns = []string{"Grade", "Sex"}
	cfg.FrequencyColumns = []string{"Counts"}
	return cfg
}

func TestRunnerRedact(t *testing.T) {
	cache := &memoryCache{snapshots: make(map[string]*interfaces.Snapshot)}
	artifacts := &memoryArtifacts{}
	audit := newMemoryAudit()
	stats := &memoryStats{}
	pm, err := metrics.NewPrometheusMetrics(nil, quietLogger())
	require.NoError(t, err)

	r := NewRunner(nil, &storage.Backends{
		Cache:     cache,
		Artifacts: artifacts,
		Audit:     audit,
		Stats:     stats,
	}, pm, quietLogger())

	ctx := context.Background()
	first, err := r.Redact(ctx, &Request{Table: gradeTable(), Config: gradeConfig(), Source: "cli"})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Cached)
	assert.Equal(t, 4, first.Rows)
	require.NotNil(t, first.Table)
	assert.True(t, first.Table.HasColumn("RedactBinary"))
	assert.Equal(t, []string{"Counts"}, first.LogColumns())
	assert.Equal(t, []string{"redacted.csv", "log_Counts.csv"}, artifacts.names)
	assert.Len(t, first.Artifacts, 2)
	assert.Len(t, cache.snapshots, 1)

	require.Contains(t, audit.runs, first.ID)
	assert.NotNil(t, audit.logs[first.ID]["Counts"])
	assert.Equal(t, first.Artifacts, audit.runs[first.ID].Artifacts)
	require.Len(t, stats.written, 1)

	second, err := r.Redact(ctx, &Request{Table: gradeTable(), Config: gradeConfig(), Source: "cli"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Table.Strings(), second.Table.Strings())
	assert.Nil(t, audit.logs[second.ID])

	count, err := testutil.GatherAndCount(pm.GetRegistry(), "dart_cache_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, []*Run{second, first}, r.Recent())
}

func TestRunnerSinkFailures(t *testing.T) {
	ctx := context.Background()

	r := NewRunner(nil, &storage.Backends{Artifacts: &memoryArtifacts{fail: true}}, nil, quietLogger())
	run, err := r.Redact(ctx, &Request{Table: gradeTable(), Config: gradeConfig()})
	require.NoError(t, err)
	assert.Empty(t, run.Artifacts)
	assert.Equal(t, "api", run.Source)

	config := DefaultConfig()
	config.StrictSinks = true
	r = NewRunner(config, &storage.Backends{Artifacts: &memoryArtifacts{fail: true}}, nil, quietLogger())
	_, err = r.Redact(ctx, &Request{Table: gradeTable(), Config: gradeConfig()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
	assert.Empty(t, r.Recent())
}

func TestRunnerEngineError(t *testing.T) {
	r := NewRunner(nil, nil, nil, quietLogger())
	cfg := gradeConfig()
	cfg.SensitiveColumns = []string{"Race"}

	_, err := r.Redact(context.Background(), &Request{Table: gradeTable(), Config: cfg})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	_, err = r.Redact(context.Background(), &Request{Config: cfg})
	assert.True(t, errors.IsType(err, errors.ErrorTypeType))

	_, err = r.Redact(context.Background(), &Request{Table: gradeTable()})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestRunnerGet(t *testing.T) {
	ctx := context.Background()
	audit := newMemoryAudit()
	audit.runs["old"] = &interfaces.RunRecord{ID: "old", Source: "watch", Rows: 7}

	r := NewRunner(nil, &storage.Backends{Audit: audit}, nil, quietLogger())
	run, err := r.Redact(ctx, &Request{Table: gradeTable(), Config: gradeConfig()})
	require.NoError(t, err)

	got, err := r.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Same(t, run, got)

	old, err := r.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, 7, old.Rows)
	assert.Nil(t, old.Table)

	_, err = r.Get(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = NewRunner(nil, nil, nil, quietLogger()).Get(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRunnerLog(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(nil, nil, nil, quietLogger())

	cfg := gradeConfig()
	input := gradeTable()
	require.NoError(t, input.AddColumn("Enrolled", []table.Value{table.Int(30), table.Int(30), table.Int(30), table.Int(30)}))
	cfg.FrequencyColumns = []string{"Counts", "Enrolled"}

	run, err := r.Redact(ctx, &Request{Table: input, Config: cfg})
	require.NoError(t, err)

	_, err = r.Log(ctx, run.ID, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	log, err := r.Log(ctx, run.ID, "Enrolled")
	require.NoError(t, err)
	assert.True(t, log.HasColumn("Enrolled"))

	_, err = r.Log(ctx, run.ID, "Other")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRunnerRetention(t *testing.T) {
	config := DefaultConfig()
	config.Retention = 2
	r := NewRunner(config, nil, nil, quietLogger())

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := r.Redact(context.Background(), &Request{Table: gradeTable(), Config: gradeConfig()})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	assert.Len(t, r.Recent(), 2)
	_, err := r.Get(context.Background(), ids[0])
	assert.Error(t, err)
	_, err = r.Get(context.Background(), ids[2])
	assert.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(gradeTable(), gradeConfig())
	require.NoError(t, err)
	b, err := Fingerprint(gradeTable(), gradeConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	cfg := gradeConfig()
	cfg.MinimumThreshold = 5
	c, err := Fingerprint(gradeTable(), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
