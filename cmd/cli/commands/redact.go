package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/export"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/storage"
	"github.com/inferloop/dart/pkg/constants"
)

type RedactOptions struct {
	SuppressionOptions

	InputFile   string
	InputFormat string
	OutputFile  string
	Format      string
	LogOutput   string
	Persist     bool
	Force       bool
}

func NewRedactCmd(g *GlobalOptions) *cobra.Command {
	opts := &RedactOptions{}

	cmd := &cobra.Command{
		Use:   "redact",
		Short: "Redact small counts from an aggregated table",
		Long: `Apply primary and complementary suppression to an aggregated table and
write it with the RedactBinary, Redact and RedactBreakdown columns added.`,
		Example: `  # Redact a table of counts by grade and sex
  dart redact --input grades.csv --sensitive Grade,Sex --frequency Counts

  # Use a profile from the config file and also write the redaction log
  dart redact --input schools.xlsx --profile schools --log-output log.csv

  # Replace suppressed counts and stream JSON to stdout
  dart redact -i grades.csv -s Grade,Sex -f Counts --redact-value "*" -o - --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedact(cmd, g, opts)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input table, .csv, .json or .xlsx, or - for stdin (required)")
	cmd.Flags().StringVar(&opts.InputFormat, "input-format", "", "Input format when reading stdin (csv, json, xlsx)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "Output file, or - for stdout (default <input>_redacted)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (csv, json, xlsx); default follows the output extension")
	cmd.Flags().StringVar(&opts.LogOutput, "log-output", "", "Write the redaction log to this file")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "Record the run in the configured storage backends")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite existing output files")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runRedact(cmd *cobra.Command, g *GlobalOptions, opts *RedactOptions) error {
	cfg, err := g.Load()
	if err != nil {
		return err
	}
	logger := g.Logger(cfg)

	sc, err := opts.resolve(cmd, cfg)
	if err != nil {
		return err
	}

	output, format, err := opts.outputTarget()
	if err != nil {
		return err
	}
	for _, path := range []string{output, opts.LogOutput} {
		if path != "" && path != "-" && !opts.Force && fileExists(path) {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}

	t, err := opts.readInput(cmd, opts.InputFile, opts.InputFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backends := &storage.Backends{}
	if opts.Persist {
		backends, err = storage.NewFactory(logger).Open(ctx, &cfg.Storage)
		if err != nil {
			return err
		}
		defer backends.Close()
	}

	r := runner.NewRunner(&cfg.Runner, backends, nil, logger)
	run, err := r.Redact(ctx, &runner.Request{
		Table:   t,
		Config:  sc,
		Source:  "cli",
		Profile: opts.Profile,
	})
	if err != nil {
		return err
	}

	exporter := export.NewEngine(logger)
	if err := writeTable(ctx, exporter, cmd.OutOrStdout(), output, format, run.Table); err != nil {
		return err
	}

	written := []string{output}
	if opts.LogOutput != "" {
		logs, err := writeLogs(ctx, exporter, cmd.OutOrStdout(), opts.LogOutput, run)
		if err != nil {
			return err
		}
		written = append(written, logs...)
	}

	report := cmd.OutOrStdout()
	if output == "-" || opts.LogOutput == "-" {
		report = cmd.ErrOrStderr()
	}
	printRunReport(report, run, written, logger)
	return nil
}

// outputTarget returns the output path and format
func (o *RedactOptions) outputTarget() (string, string, error) {
	output := o.OutputFile
	if output == "" {
		if o.InputFile == "-" {
			output = "-"
		} else {
			output = derivedPath(o.InputFile, "_redacted", o.Format)
		}
	}

	format := o.Format
	if format == "" {
		switch {
		case output != "-":
			f, err := export.FormatFromPath(output)
			if err != nil {
				return "", "", err
			}
			format = f
		case o.InputFormat != "":
			format = o.InputFormat
		default:
			format = constants.FormatCSV
		}
	}
	return output, format, nil
}

// writeLogs writes one log per frequency column, suffixing the file name
// with the column when there are several.
func writeLogs(ctx context.Context, exporter *export.Engine, out io.Writer, path string, run *runner.Run) ([]string, error) {
	columns := run.LogColumns()
	format := constants.FormatCSV
	if path != "-" {
		f, err := export.FormatFromPath(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	var written []string
	for _, column := range columns {
		target := path
		if len(columns) > 1 && path != "-" {
			target = derivedPath(path, "_"+column, "")
		}
		if err := writeTable(ctx, exporter, out, target, format, run.Logs[column]); err != nil {
			return written, err
		}
		written = append(written, target)
	}
	return written, nil
}

func printRunReport(w io.Writer, run *runner.Run, written []string, logger *logrus.Logger) {
	logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"cached": run.Cached,
		"rows":   run.Rows,
	}).Debug("Redaction finished")

	fmt.Fprintf(w, "Run %s: %d rows redacted\n", run.ID, run.Rows)
	printStats(w, run.Stats)
	for _, path := range written {
		if path != "-" {
			fmt.Fprintf(w, "Wrote %s\n", path)
		}
	}
}
