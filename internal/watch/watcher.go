// Package watch redacts every table dropped into an inbox directory and
// writes the results to an outbox directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/export"
	"github.com/inferloop/dart/internal/ingest"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
)

// Config controls the inbox watcher.
type Config struct {
	Inbox  string `json:"inbox" mapstructure:"inbox"`
	Outbox string `json:"outbox" mapstructure:"outbox"`
	// Profile names the suppression profile applied to every file.
	Profile string `json:"profile" mapstructure:"profile"`
	// Format of the written tables. Empty keeps the input format.
	Format   string        `json:"format" mapstructure:"format"`
	WriteLog bool          `json:"write_log" mapstructure:"write_log"`
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	// ProcessExisting redacts the files already in the inbox on start.
	ProcessExisting bool     `json:"process_existing" mapstructure:"process_existing"`
	ExcludePatterns []string `json:"exclude_patterns" mapstructure:"exclude_patterns"`

	Ingest ingest.Options `json:"ingest" mapstructure:"ingest"`
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() *Config {
	return &Config{
		WriteLog:        true,
		Debounce:        constants.DefaultWatchDebounce,
		ProcessExisting: true,
		ExcludePatterns: []string{".*", "*~", "*.tmp", "~$*"},
		Ingest:          ingest.DefaultOptions(),
	}
}

// Validate checks that the directories are usable
func (c *Config) Validate() error {
	if c.Inbox == "" {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "watch inbox is required")
	}
	if c.Outbox == "" {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "watch outbox is required")
	}
	inbox, _ := filepath.Abs(c.Inbox)
	outbox, _ := filepath.Abs(c.Outbox)
	if inbox == outbox {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "watch inbox and outbox must differ")
	}
	switch c.Format {
	case "", constants.FormatCSV, constants.FormatJSON, constants.FormatXLSX:
	default:
		return errors.NewConfigurationError(errors.CodeInvalidFormat, fmt.Sprintf("unsupported watch format %q", c.Format))
	}
	if c.Debounce < 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "watch debounce cannot be negative")
	}
	return nil
}

// Result describes one processed inbox file.
type Result struct {
	Path    string
	Run     *runner.Run
	Outputs []string
	Err     error
}

// Watcher redacts inbox files through a runner.
type Watcher struct {
	config    *Config
	suppress  *suppression.Config
	runner    *runner.Runner
	exporter  *export.Engine
	logger    *logrus.Logger
	results   chan Result
	processed atomic.Int64
	failed    atomic.Int64

	debounceTimer map[string]*time.Timer
	debounceMu    sync.Mutex
	wg            sync.WaitGroup
}

// NewWatcher creates a watcher applying suppress to every file
func NewWatcher(config *Config, suppress *suppression.Config, r *runner.Runner, logger *logrus.Logger) (*Watcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if suppress == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "suppression config is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if r == nil {
		r = runner.NewRunner(nil, nil, nil, logger)
	}

	return &Watcher{
		config:        config,
		suppress:      suppress,
		runner:        r,
		exporter:      export.NewEngine(logger),
		logger:        logger,
		results:       make(chan Result, 100),
		debounceTimer: make(map[string]*time.Timer),
	}, nil
}

// Results receives one entry per processed file. Entries are dropped when
// nobody reads them.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Counts returns the number of files processed and failed so far
func (w *Watcher) Counts() (processed, failed int64) {
	return w.processed.Load(), w.failed.Load()
}

// Run watches the inbox until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.config.Outbox, 0o755); err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("cannot create outbox %s", w.config.Outbox))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to create fsnotify watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(w.config.Inbox); err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("cannot watch inbox %s", w.config.Inbox))
	}

	w.logger.WithFields(logrus.Fields{
		"inbox":  w.config.Inbox,
		"outbox": w.config.Outbox,
		"format": w.config.Format,
	}).Info("Watching inbox")

	if w.config.ProcessExisting {
		if err := w.scanExisting(ctx); err != nil {
			return err
		}
	}

	defer func() {
		w.debounceMu.Lock()
		for _, timer := range w.debounceTimer {
			timer.Stop()
		}
		w.debounceTimer = make(map[string]*time.Timer)
		w.debounceMu.Unlock()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Inbox watcher error")
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.Inbox)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeReadFailed,
			fmt.Sprintf("cannot read inbox %s", w.config.Inbox))
	}
	for _, entry := range entries {
		path := filepath.Join(w.config.Inbox, entry.Name())
		if entry.IsDir() || w.shouldIgnore(path) {
			continue
		}
		w.process(ctx, path)
	}
	return nil
}

// handleEvent debounces writes so a file is read once it stops changing.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if w.shouldIgnore(event.Name) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimer[event.Name]; exists {
		if timer.Stop() {
			w.wg.Done()
		}
	}

	w.wg.Add(1)
	w.debounceTimer[event.Name] = time.AfterFunc(w.config.Debounce, func() {
		defer w.wg.Done()

		w.debounceMu.Lock()
		delete(w.debounceTimer, event.Name)
		w.debounceMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
			return
		}
		w.process(ctx, event.Name)
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	result := Result{Path: path}
	result.Run, result.Outputs, result.Err = w.ProcessFile(ctx, path)

	logger := w.logger.WithField("file", filepath.Base(path))
	if result.Err != nil {
		w.failed.Add(1)
		logger.WithError(result.Err).Warn("Failed to redact inbox file")
		if errPath, err := w.writeError(path, result.Err); err != nil {
			logger.WithError(err).Error("Failed to write error report")
		} else {
			result.Outputs = append(result.Outputs, errPath)
		}
	} else {
		w.processed.Add(1)
		logger.WithFields(logrus.Fields{
			"run_id":  result.Run.ID,
			"cached":  result.Run.Cached,
			"outputs": len(result.Outputs),
		}).Info("Redacted inbox file")
	}

	select {
	case w.results <- result:
	default:
	}
}

// ProcessFile redacts one file and writes the redacted table, plus one log
// per frequency column when enabled, to the outbox.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (*runner.Run, []string, error) {
	format := w.config.Format
	if format == "" {
		var err error
		if format, err = ingest.FormatFromPath(path); err != nil {
			return nil, nil, err
		}
	}

	t, err := ingest.ReadFile(path, w.config.Ingest)
	if err != nil {
		return nil, nil, err
	}

	cfg := *w.suppress
	run, err := w.runner.Redact(ctx, &runner.Request{
		Table:   t,
		Config:  &cfg,
		Source:  "watch",
		Profile: w.config.Profile,
	})
	if err != nil {
		return nil, nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	outputs := []string{filepath.Join(w.config.Outbox, fmt.Sprintf("%s_redacted.%s", stem, format))}
	if err := w.exporter.ExportFile(ctx, outputs[0], run.Table, export.Options{}); err != nil {
		return run, nil, err
	}

	if w.config.WriteLog {
		for _, column := range run.LogColumns() {
			out := filepath.Join(w.config.Outbox, fmt.Sprintf("%s_log_%s.%s", stem, column, format))
			if err := w.exporter.ExportFile(ctx, out, run.Logs[column], export.Options{}); err != nil {
				return run, outputs, err
			}
			outputs = append(outputs, out)
		}
	}
	return run, outputs, nil
}

// writeError leaves a report next to the outputs so users of the inbox see
// why a file produced nothing.
func (w *Watcher) writeError(path string, cause error) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(w.config.Outbox, stem+".error.txt")
	return out, os.WriteFile(out, []byte(cause.Error()+"\n"), 0o644)
}

func (w *Watcher) shouldIgnore(path string) bool {
	name := filepath.Base(path)
	for _, pattern := range w.config.ExcludePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	_, err := ingest.FormatFromPath(path)
	return err != nil
}
