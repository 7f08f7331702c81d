package suppression

import (
	"fmt"

	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// Output column names. Runs over several frequency columns add the column
// name as a suffix, e.g. RedactBinary_Counts.
const (
	ColumnRedactBinary    = "RedactBinary"
	ColumnRedact          = "Redact"
	ColumnRedactBreakdown = "RedactBreakdown"
)

// OutputColumns returns the three redaction columns for a suffix.
func OutputColumns(suffix string) []string {
	return []string{
		ColumnRedactBinary + suffix,
		ColumnRedact + suffix,
		ColumnRedactBreakdown + suffix,
	}
}

// Apply joins the detail-level decisions of log back onto the rows of t and
// returns a new table with the redaction columns added. Rows without a
// detail cell are dropped and counted. When redactValue is set, the
// frequency of every suppressed row is replaced by it.
func Apply(t *table.Table, log *RedactionLog, redactValue *string, suffix string) (*table.Table, int, error) {
	if err := checkOutputColumns(t, suffix); err != nil {
		return nil, 0, err
	}

	freq := log.Schema.Frequency.Index
	out := table.New(append(append([]string(nil), t.Columns...), OutputColumns(suffix)...)...)
	out.Rows = make([][]table.Value, 0, len(t.Rows))
	dropped := 0

	for i, row := range t.Rows {
		cell := log.DetailCell(i)
		if cell == nil {
			dropped++
			continue
		}
		values := make([]table.Value, 0, len(out.Columns))
		values = append(values, row...)
		if redactValue != nil && cell.Suppressed() {
			values[freq] = table.S(*redactValue)
		}
		values = append(values,
			table.Int(cell.RedactBinary),
			table.S(string(cell.Redact)),
			table.S(cell.RedactBreakdown()),
		)
		out.Rows = append(out.Rows, values)
	}
	return out, dropped, nil
}

func checkOutputColumns(t *table.Table, suffix string) error {
	for _, name := range OutputColumns(suffix) {
		if t.HasColumn(name) {
			return errors.NewConfigurationError(errors.CodeOutputColumnExists,
				fmt.Sprintf("input already contains output column %q", name))
		}
	}
	return nil
}
