package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/config"
	"github.com/inferloop/dart/internal/export"
	"github.com/inferloop/dart/internal/ingest"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/table"
)

// SuppressionOptions are the flags that select a profile and override it
type SuppressionOptions struct {
	Profile       string
	Sensitive     []string
	Frequency     []string
	Parent        string
	Child         string
	RedactColumn  string
	Threshold     int
	RedactZero    bool
	RedactValue   string
	Converge      bool
	MaxIterations int
	NullValues    []string
	Delimiter     string
	Sheet         string
}

func (o *SuppressionOptions) bind(cmd *cobra.Command) {
	defaults := suppression.DefaultConfig()
	ingestDefaults := ingest.DefaultOptions()

	cmd.Flags().StringVarP(&o.Profile, "profile", "p", "", "Suppression profile from the config file")
	cmd.Flags().StringSliceVarP(&o.Sensitive, "sensitive", "s", nil, "Sensitive columns, most important first")
	cmd.Flags().StringSliceVarP(&o.Frequency, "frequency", "f", nil, "Frequency (count) columns")
	cmd.Flags().StringVar(&o.Parent, "parent", "", "Parent organization column")
	cmd.Flags().StringVar(&o.Child, "child", "", "Child organization column")
	cmd.Flags().StringVar(&o.RedactColumn, "redact-column", "", "Column flagging rows the user wants redacted")
	cmd.Flags().IntVarP(&o.Threshold, "threshold", "t", defaults.MinimumThreshold, "Minimum count that may be published")
	cmd.Flags().BoolVar(&o.RedactZero, "redact-zero", false, "Treat zero counts as primary suppressions")
	cmd.Flags().StringVar(&o.RedactValue, "redact-value", "", "Replace suppressed counts with this value")
	cmd.Flags().BoolVar(&o.Converge, "converge", false, "Repeat complementary suppression until nothing changes")
	cmd.Flags().IntVar(&o.MaxIterations, "max-iterations", defaults.MaxIterations, "Iteration bound for --converge")
	cmd.Flags().StringSliceVar(&o.NullValues, "null-values", ingestDefaults.NullValues, "Input values read as null")
	cmd.Flags().StringVar(&o.Delimiter, "delimiter", ingestDefaults.Delimiter, "CSV field delimiter")
	cmd.Flags().StringVar(&o.Sheet, "sheet", "", "XLSX worksheet (default first sheet)")
}

// resolve returns the selected profile with every changed flag applied
func (o *SuppressionOptions) resolve(cmd *cobra.Command, cfg *config.Config) (*suppression.Config, error) {
	sc, err := cfg.Profile(o.Profile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("sensitive") {
		sc.SensitiveColumns = o.Sensitive
	}
	if changed("frequency") {
		sc.FrequencyColumns = o.Frequency
	}
	if changed("parent") {
		sc.ParentOrganization = o.Parent
	}
	if changed("child") {
		sc.ChildOrganization = o.Child
	}
	if changed("redact-column") {
		sc.UserRedactionColumn = o.RedactColumn
	}
	if changed("threshold") {
		sc.MinimumThreshold = o.Threshold
	}
	if changed("redact-zero") {
		sc.RedactZero = o.RedactZero
	}
	if changed("redact-value") {
		value := o.RedactValue
		sc.RedactValue = &value
	}
	if changed("converge") {
		sc.Converge = o.Converge
	}
	if changed("max-iterations") {
		sc.MaxIterations = o.MaxIterations
	}
	return sc, nil
}

func (o *SuppressionOptions) ingestOptions() ingest.Options {
	return ingest.Options{
		NullValues: o.NullValues,
		Delimiter:  o.Delimiter,
		Sheet:      o.Sheet,
	}
}

// readInput reads a table from path, or from stdin in the given format when
// path is "-".
func (o *SuppressionOptions) readInput(cmd *cobra.Command, path, format string) (*table.Table, error) {
	if path == "-" {
		if format == "" {
			return nil, fmt.Errorf("--input-format is required when reading stdin")
		}
		return ingest.Read(cmd.InOrStdin(), format, o.ingestOptions())
	}
	return ingest.ReadFile(path, o.ingestOptions())
}

// writeTable writes t to path, or to out in the given format when path is "-".
func writeTable(ctx context.Context, exporter *export.Engine, out io.Writer, path, format string, t *table.Table) error {
	if path == "-" {
		return exporter.Export(ctx, format, out, t, export.Options{})
	}
	return exporter.ExportFile(ctx, path, t, export.Options{})
}

// derivedPath inserts suffix before the extension of path, optionally
// switching the extension to format.
func derivedPath(path, suffix, format string) string {
	ext := filepath.Ext(path)
	if format != "" {
		ext = "." + format
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix + ext
}

// printStats writes the per column summary of a run
func printStats(w io.Writer, stats *suppression.Stats) {
	if stats == nil {
		return
	}
	for _, column := range stats.Columns {
		fmt.Fprintf(w, "%s: %d of %d records suppressed", column.FrequencyColumn, column.SuppressedRecords(), column.Records)
		fmt.Fprintf(w, " (primary %d, secondary %d, user requested %d)\n",
			column.Categories[suppression.PrimarySuppression],
			column.Categories[suppression.SecondarySuppression],
			column.Categories[suppression.UserRequested])
		if column.DroppedRows > 0 {
			fmt.Fprintf(w, "  %d rows had no detail cell and were dropped\n", column.DroppedRows)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
