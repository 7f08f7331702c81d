package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/export"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/pkg/constants"
)

type LogOptions struct {
	SuppressionOptions

	InputFile   string
	InputFormat string
	OutputFile  string
	Format      string
	Column      string
}

func NewLogCmd(g *GlobalOptions) *cobra.Command {
	opts := &LogOptions{}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the redaction log of a table",
		Long: `Redact a table and write its redaction log instead of the table: every
aggregate cell at every granularity, with its minimum values and the rules
that suppressed it.`,
		Example: `  # Show the log of a single frequency column on stdout
  dart log --input grades.csv --sensitive Grade,Sex --frequency Counts

  # Write the log of one of several frequency columns to a workbook
  dart log -i enrolment.csv --profile schools --column Enrolled -o log.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, g, opts)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input table (required)")
	cmd.Flags().StringVar(&opts.InputFormat, "input-format", "", "Input format when reading stdin (csv, json, xlsx)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file, or - for stdout")
	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (csv, json, xlsx)")
	cmd.Flags().StringVar(&opts.Column, "column", "", "Frequency column whose log to write (default the only one)")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runLog(cmd *cobra.Command, g *GlobalOptions, opts *LogOptions) error {
	cfg, err := g.Load()
	if err != nil {
		return err
	}
	logger := g.Logger(cfg)

	sc, err := opts.resolve(cmd, cfg)
	if err != nil {
		return err
	}

	t, err := opts.readInput(cmd, opts.InputFile, opts.InputFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	r := runner.NewRunner(&cfg.Runner, nil, nil, logger)
	run, err := r.Redact(ctx, &runner.Request{Table: t, Config: sc, Source: "cli", Profile: opts.Profile})
	if err != nil {
		return err
	}

	log, err := r.Log(ctx, run.ID, opts.Column)
	if err != nil {
		return err
	}

	format := opts.Format
	if format == "" {
		format = constants.FormatCSV
		if opts.OutputFile != "-" {
			if format, err = export.FormatFromPath(opts.OutputFile); err != nil {
				return err
			}
		}
	}

	if err := writeTable(ctx, export.NewEngine(logger), cmd.OutOrStdout(), opts.OutputFile, format, log); err != nil {
		return err
	}
	if opts.OutputFile != "-" {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d log cells to %s\n", log.Len(), opts.OutputFile)
	}
	return nil
}
