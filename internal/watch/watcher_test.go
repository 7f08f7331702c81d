package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/errors"
)

const gradeCSV = "Grade,Sex,Counts\nA,F,3\nA,M,20\nB,F,15\nB,M,25\n"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func gradeConfig() *suppression.Config {
	cfg := suppression.DefaultConfig()
	cfg.SensitiveColumns = []string{"Grade", "Sex"}
	cfg.FrequencyColumns = []string{"Counts"}
	return cfg
}

func newTestWatcher(t *testing.T) (*Watcher, *Config) {
	t.Helper()
	dir := t.TempDir()
	config := DefaultConfig()
	config.Inbox = filepath.Join(dir, "inbox")
	config.Outbox = filepath.Join(dir, "outbox")
	config.Debounce = 20 * time.Millisecond
	require.NoError(t, os.MkdirAll(config.Inbox, 0o755))

	w, err := NewWatcher(config, gradeConfig(), nil, quietLogger())
	require.NoError(t, err)
	return w, config
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	assert.Error(t, config.Validate())

	config.Inbox = "in"
	config.Outbox = "./in"
	assert.Error(t, config.Validate())

	config.Outbox = "out"
	assert.NoError(t, config.Validate())

	config.Format = "parquet"
	assert.Error(t, config.Validate())

	_, err := NewWatcher(DefaultConfig(), gradeConfig(), nil, quietLogger())
	assert.Error(t, err)
}

func TestProcessFile(t *testing.T) {
	w, config := newTestWatcher(t)

	input := filepath.Join(config.Inbox, "grades.csv")
	require.NoError(t, os.WriteFile(input, []byte(gradeCSV), 0o644))

	run, outputs, err := w.ProcessFile(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "watch", run.Source)
	assert.Equal(t, []string{
		filepath.Join(config.Outbox, "grades_redacted.csv"),
		filepath.Join(config.Outbox, "grades_log_Counts.csv"),
	}, outputs)

	data, err := os.ReadFile(outputs[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Grade,Sex,Counts,RedactBinary,Redact,RedactBreakdown", lines[0])

	_, err = os.Stat(outputs[1])
	assert.NoError(t, err)
}

func TestProcessFileFormat(t *testing.T) {
	w, config := newTestWatcher(t)
	config.Format = "json"
	config.WriteLog = false

	input := filepath.Join(config.Inbox, "grades.csv")
	require.NoError(t, os.WriteFile(input, []byte(gradeCSV), 0o644))

	_, outputs, err := w.ProcessFile(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(config.Outbox, "grades_redacted.json")}, outputs)
}

func TestProcessFileUnsupportedFormat(t *testing.T) {
	w, config := newTestWatcher(t)

	input := filepath.Join(config.Inbox, "grades.txt")
	require.NoError(t, os.WriteFile(input, []byte(gradeCSV), 0o644))

	run, outputs, err := w.ProcessFile(context.Background(), input)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration), err.Error())
	assert.Nil(t, run)
	assert.Empty(t, outputs)

	entries, err := os.ReadDir(config.Outbox)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestShouldIgnore(t *testing.T) {
	w, _ := newTestWatcher(t)

	assert.False(t, w.shouldIgnore("/in/grades.csv"))
	assert.False(t, w.shouldIgnore("/in/grades.XLSX"))
	assert.True(t, w.shouldIgnore("/in/.grades.csv"))
	assert.True(t, w.shouldIgnore("/in/grades.csv.tmp"))
	assert.True(t, w.shouldIgnore("/in/~$grades.xlsx"))
	assert.True(t, w.shouldIgnore("/in/notes.txt"))
}

func TestWatcherRun(t *testing.T) {
	w, config := newTestWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(config.Inbox, "existing.csv"), []byte(gradeCSV), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case result := <-w.Results():
		require.NoError(t, result.Err)
		assert.Equal(t, "existing.csv", filepath.Base(result.Path))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for existing file")
	}

	require.NoError(t, os.WriteFile(filepath.Join(config.Inbox, "bad.csv"), []byte("Grade,Sex,Counts\nA,F,x\n"), 0o644))

	select {
	case result := <-w.Results():
		assert.Error(t, result.Err)
		assert.Contains(t, result.Outputs, filepath.Join(config.Outbox, "bad.error.txt"))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for dropped file")
	}

	cancel()
	require.NoError(t, <-done)

	processed, failed := w.Counts()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), failed)
}
