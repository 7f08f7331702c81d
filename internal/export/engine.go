// Package export writes redacted tables and redaction logs as CSV, JSON or
// XLSX.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// Engine dispatches tables to the exporter registered for a format.
type Engine struct {
	logger    *logrus.Logger
	mu        sync.RWMutex
	exporters map[string]Exporter
}

// Options contains export options shared by every format.
type Options struct {
	OmitHeaders bool   `json:"omit_headers" mapstructure:"omit_headers"`
	NullValue   string `json:"null_value" mapstructure:"null_value"`

	CSVOptions  CSVOptions  `json:"csv_options,omitempty" mapstructure:"csv"`
	JSONOptions JSONOptions `json:"json_options,omitempty" mapstructure:"json"`
	XLSXOptions XLSXOptions `json:"xlsx_options,omitempty" mapstructure:"xlsx"`
}

// CSVOptions holds CSV-specific options.
type CSVOptions struct {
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
	UseCRLF   bool   `json:"use_crlf" mapstructure:"use_crlf"`
}

// JSONOptions holds JSON-specific options.
type JSONOptions struct {
	Pretty bool `json:"pretty" mapstructure:"pretty"`
	// Records writes an array of objects instead of columns plus rows.
	Records bool `json:"records" mapstructure:"records"`
}

// XLSXOptions holds XLSX-specific options.
type XLSXOptions struct {
	Sheet string `json:"sheet" mapstructure:"sheet"`
}

// Exporter writes a table in one format.
type Exporter interface {
	Name() string
	Format() string
	ContentType() string
	Export(ctx context.Context, w io.Writer, t *table.Table, options Options) error
	ValidateOptions(options Options) error
}

// NewEngine creates an engine with the CSV, JSON and XLSX exporters registered.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}

	engine := &Engine{
		logger:    logger,
		exporters: make(map[string]Exporter),
	}
	engine.RegisterExporter(&CSVExporter{})
	engine.RegisterExporter(&JSONExporter{})
	engine.RegisterExporter(&XLSXExporter{})
	return engine
}

// RegisterExporter registers or replaces the exporter for its format.
func (e *Engine) RegisterExporter(exporter Exporter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.exporters[exporter.Format()] = exporter
	e.logger.WithField("exporter", exporter.Name()).Debug("Registered exporter")
}

// Exporter returns the exporter for format.
func (e *Engine) Exporter(format string) (Exporter, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	exporter, ok := e.exporters[strings.ToLower(format)]
	if !ok {
		return nil, errors.WrapError(errors.ErrUnsupportedFormat, errors.ErrorTypeConfiguration,
			errors.CodeInvalidFormat, fmt.Sprintf("no exporter found for format %q", format))
	}
	return exporter, nil
}

// SupportedFormats lists the registered formats in name order.
func (e *Engine) SupportedFormats() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	formats := make([]string, 0, len(e.exporters))
	for format := range e.exporters {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// Export writes t to w in the given format.
func (e *Engine) Export(ctx context.Context, format string, w io.Writer, t *table.Table, options Options) error {
	exporter, err := e.Exporter(format)
	if err != nil {
		return err
	}
	if err := exporter.ValidateOptions(options); err != nil {
		return errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig, "invalid export options")
	}

	start := time.Now()
	if err := exporter.Export(ctx, w, t, options); err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed,
			fmt.Sprintf("%s export failed", exporter.Name()))
	}

	e.logger.WithFields(logrus.Fields{
		"format":   format,
		"rows":     t.Len(),
		"duration": time.Since(start),
	}).Debug("Export completed")
	return nil
}

// Bytes renders t in memory and returns it with its content type.
func (e *Engine) Bytes(ctx context.Context, format string, t *table.Table, options Options) ([]byte, string, error) {
	exporter, err := e.Exporter(format)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := e.Export(ctx, format, &buf, t, options); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), exporter.ContentType(), nil
}

// ExportFile writes t to path. The format follows the file extension.
func (e *Engine) ExportFile(ctx context.Context, path string, t *table.Table, options Options) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed,
				fmt.Sprintf("cannot create %s", dir))
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed,
			fmt.Sprintf("cannot create %s", path))
	}
	if err := e.Export(ctx, format, f, t, options); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed,
			fmt.Sprintf("cannot write %s", path))
	}
	return os.Rename(tmp, path)
}

// FormatFromPath maps a file extension to an export format.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return constants.FormatCSV, nil
	case ".json":
		return constants.FormatJSON, nil
	case ".xlsx":
		return constants.FormatXLSX, nil
	default:
		return "", errors.WrapError(errors.ErrUnsupportedFormat, errors.ErrorTypeConfiguration,
			errors.CodeInvalidFormat, fmt.Sprintf("cannot infer export format of %q", filepath.Base(path)))
	}
}

func (o Options) render(v table.Value) string {
	if !v.Valid {
		return o.NullValue
	}
	return v.Str
}
