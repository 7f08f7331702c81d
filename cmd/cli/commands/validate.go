package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/table"
)

type ValidateOptions struct {
	SuppressionOptions

	InputFile   string
	InputFormat string
	JSON        bool
}

// ColumnReport describes a configuration resolved for one frequency column
type ColumnReport struct {
	FrequencyColumn string   `json:"frequency_column"`
	KeyColumns      []string `json:"key_columns"`
	Records         int      `json:"records"`
	Groupings       int      `json:"groupings"`
	Cells           int      `json:"cells"`
	BelowThreshold  int      `json:"below_threshold"`
	UserRequested   int      `json:"user_requested"`
}

func NewValidateCmd(g *GlobalOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a table against a suppression configuration",
		Long: `Resolve the configuration against the table without redacting it. Reports
unknown or duplicated columns, invalid counts and duplicated keys, and summarises
the aggregation that a redaction would build.`,
		Example: `  # Check the columns and counts of a table
  dart validate --input grades.csv --sensitive Grade,Sex --frequency Counts

  # Check a profile and print the report as JSON
  dart validate --input schools.xlsx --profile schools --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, g, opts)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Input table to validate (required)")
	cmd.Flags().StringVar(&opts.InputFormat, "input-format", "", "Input format when reading stdin (csv, json, xlsx)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the report as JSON")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runValidate(cmd *cobra.Command, g *GlobalOptions, opts *ValidateOptions) error {
	cfg, err := g.Load()
	if err != nil {
		return err
	}

	sc, err := opts.resolve(cmd, cfg)
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return err
	}

	t, err := opts.readInput(cmd, opts.InputFile, opts.InputFormat)
	if err != nil {
		return err
	}

	reports, err := ValidateTable(t, sc)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	printValidation(cmd.OutOrStdout(), opts.InputFile, reports)
	return nil
}

// ValidateTable resolves sc against t for every frequency column and builds
// the aggregation log without running the suppression rules.
func ValidateTable(t *table.Table, sc *suppression.Config) ([]*ColumnReport, error) {
	reports := make([]*ColumnReport, 0, len(sc.FrequencyColumns))
	for _, frequency := range sc.FrequencyColumns {
		schema, records, err := suppression.Resolve(t, sc, frequency)
		if err != nil {
			return nil, err
		}
		log := suppression.BuildLog(schema, records)

		report := &ColumnReport{
			FrequencyColumn: frequency,
			KeyColumns:      schema.KeyNames(),
			Records:         len(records),
			Groupings:       len(log.Groupings),
			Cells:           len(log.Cells),
		}
		for _, c := range log.Cells {
			if c.Frequency <= schema.Threshold && (c.Frequency != 0 || schema.RedactZero) {
				report.BelowThreshold++
			}
		}
		for _, r := range records {
			if r.UserRequested {
				report.UserRequested++
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func printValidation(w io.Writer, input string, reports []*ColumnReport) {
	fmt.Fprintf(w, "%s is valid for redaction\n", input)
	for _, r := range reports {
		fmt.Fprintf(w, "\n%s\n", r.FrequencyColumn)
		fmt.Fprintf(w, "  key columns:     %s\n", strings.Join(r.KeyColumns, ", "))
		fmt.Fprintf(w, "  records:         %d\n", r.Records)
		fmt.Fprintf(w, "  groupings:       %d\n", r.Groupings)
		fmt.Fprintf(w, "  aggregate cells: %d\n", r.Cells)
		fmt.Fprintf(w, "  below threshold: %d\n", r.BelowThreshold)
		if r.UserRequested > 0 {
			fmt.Fprintf(w, "  user requested:  %d\n", r.UserRequested)
		}
	}
}
