package export

import (
	"context"
	"encoding/json"
	"io"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/table"
)

// JSONExporter writes tables as JSON. Nulls are written as JSON null. The
// default shape is the table's own encoding, which the ingest layer reads.
type JSONExporter struct{}

// Name returns the exporter name
func (je *JSONExporter) Name() string {
	return "json"
}

// Format returns the format the exporter handles
func (je *JSONExporter) Format() string {
	return constants.FormatJSON
}

// ContentType returns the MIME type of the output
func (je *JSONExporter) ContentType() string {
	return constants.ContentTypeJSON
}

// Export writes the table encoding or, with Records set, one object per row.
func (je *JSONExporter) Export(ctx context.Context, writer io.Writer, t *table.Table, options Options) error {
	encoder := json.NewEncoder(writer)
	if options.JSONOptions.Pretty {
		encoder.SetIndent("", "  ")
	}

	if options.JSONOptions.Records {
		records := make([]map[string]*string, 0, len(t.Rows))
		for _, row := range t.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			record := make(map[string]*string, len(row))
			for i, v := range row {
				record[t.Columns[i]] = nullable(v)
			}
			records = append(records, record)
		}
		return encoder.Encode(records)
	}

	return encoder.Encode(t)
}

// ValidateOptions validates JSON export options
func (je *JSONExporter) ValidateOptions(options Options) error {
	return nil
}

func nullable(v table.Value) *string {
	if !v.Valid {
		return nil
	}
	s := v.Str
	return &s
}
