package postgres

import (
	"database/sql"
	"sort"

	"github.com/lib/pq"

	"github.com/inferloop/dart/internal/suppression"
)

var cellColumns = []string{
	"run_id",
	"frequency_column",
	"cell_index",
	"grouping_id",
	"key_names",
	"key_values",
	"frequency",
	"minimum_value",
	"detail",
	"redact_binary",
	"redact",
	"breakdown",
}

// CellRows flattens a redaction log into log_cells rows, in log order.
// Key components that are absent or missing are stored as nulls.
func CellRows(runID, frequency string, log *suppression.RedactionLog) [][]interface{} {
	if log == nil {
		return nil
	}

	names := log.Schema.KeyNames()
	rows := make([][]interface{}, 0, len(log.Cells))
	for i, c := range log.Cells {
		values := make([]sql.NullString, len(c.Key))
		for j, component := range c.Key {
			if component.State == suppression.Present {
				values[j] = sql.NullString{String: component.Value, Valid: true}
			}
		}

		var minimum sql.NullInt64
		if c.MinimumValue != nil {
			minimum = sql.NullInt64{Int64: int64(*c.MinimumValue), Valid: true}
		}

		rows = append(rows, []interface{}{
			runID,
			frequency,
			i,
			c.Grouping,
			pq.Array(names),
			pq.Array(values),
			c.Frequency,
			minimum,
			c.Detail,
			c.RedactBinary,
			string(c.Redact),
			pq.Array(c.Breakdown),
		})
	}
	return rows
}

func sortedKeys(logs map[string]*suppression.RedactionLog) []string {
	keys := make([]string, 0, len(logs))
	for k := range logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
