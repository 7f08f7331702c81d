package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/table"
)

// CSVExporter writes RFC 4180 CSV.
type CSVExporter struct{}

// Name returns the exporter name
func (ce *CSVExporter) Name() string {
	return "csv"
}

// Format returns the format the exporter handles
func (ce *CSVExporter) Format() string {
	return constants.FormatCSV
}

// ContentType returns the MIME type of the output
func (ce *CSVExporter) ContentType() string {
	return constants.ContentTypeCSV
}

// Export writes the header row, unless omitted, then every row. Nulls are
// written as the configured null value.
func (ce *CSVExporter) Export(ctx context.Context, writer io.Writer, t *table.Table, options Options) error {
	csvWriter := csv.NewWriter(writer)
	if options.CSVOptions.Delimiter != "" {
		csvWriter.Comma = rune(options.CSVOptions.Delimiter[0])
	}
	csvWriter.UseCRLF = options.CSVOptions.UseCRLF

	if !options.OmitHeaders {
		if err := csvWriter.Write(t.Columns); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for i, v := range row {
			record[i] = options.render(v)
		}
		if err := csvWriter.Write(record[:len(row)]); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ValidateOptions validates CSV export options
func (ce *CSVExporter) ValidateOptions(options Options) error {
	d := options.CSVOptions.Delimiter
	if d != "" && (len(d) != 1 || d == "\"" || d == "\n" || d == "\r") {
		return fmt.Errorf("CSV delimiter must be a single character other than a quote or newline")
	}
	return nil
}
