package suppression

import (
	"github.com/inferloop/dart/pkg/table"
)

// Log export columns besides the key and frequency columns.
const (
	ColumnGrouping          = "Grouping"
	ColumnMinimumValue      = "MinimumValue"
	ColumnMinimumValueTotal = "MinimumValueTotal"
	ColumnDetail            = "Detail"
)

// Table flattens the log into one row per cell, in log order. Key columns
// that are not part of a cell's granularity are null, as are undefined
// minimums.
func (l *RedactionLog) Table() *table.Table {
	labels := l.PartitionLabels()
	hasTotal := len(l.Schema.Organization) > 0

	columns := []string{ColumnGrouping}
	columns = append(columns, l.Schema.KeyNames()...)
	columns = append(columns, l.Schema.Frequency.Name, ColumnMinimumValue)
	for _, label := range labels {
		columns = append(columns, ColumnMinimumValue+label)
	}
	if hasTotal {
		columns = append(columns, ColumnMinimumValueTotal)
	}
	columns = append(columns, ColumnDetail)
	columns = append(columns, OutputColumns("")...)

	out := table.New(columns...)
	out.Rows = make([][]table.Value, 0, len(l.Cells))
	for _, c := range l.Cells {
		row := make([]table.Value, 0, len(columns))
		row = append(row, table.Int(c.Grouping))
		for _, k := range c.Key {
			row = append(row, k.Table())
		}
		row = append(row, table.Int(c.Frequency), optional(c.MinimumValue))
		for _, label := range labels {
			if v, ok := c.PartitionMinimums[label]; ok {
				row = append(row, table.Int(v))
			} else {
				row = append(row, table.Null())
			}
		}
		if hasTotal {
			row = append(row, optional(c.MinimumValueTotal))
		}
		detail := 0
		if c.Detail {
			detail = 1
		}
		row = append(row,
			table.Int(detail),
			table.Int(c.RedactBinary),
			table.S(string(c.Redact)),
			table.S(c.RedactBreakdown()),
		)
		out.Rows = append(out.Rows, row)
	}
	return out
}

func optional(v *int) table.Value {
	if v == nil {
		return table.Null()
	}
	return table.Int(*v)
}
