package table

import (
	"encoding/json"
	"fmt"
)

type jsonTable struct {
	Columns []string    `json:"columns"`
	Rows    [][]*string `json:"rows"`
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [[...]]} with
// nulls as JSON null.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := jsonTable{
		Columns: t.Columns,
		Rows:    make([][]*string, len(t.Rows)),
	}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	for r, row := range t.Rows {
		values := make([]*string, len(row))
		for i, v := range row {
			if v.Valid {
				s := v.Str
				values[i] = &s
			}
		}
		out.Rows[r] = values
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON. Only strings and
// null are accepted as values.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in jsonTable
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode table: %w", err)
	}
	t.Columns = in.Columns
	t.Rows = make([][]Value, len(in.Rows))
	for r, row := range in.Rows {
		values := make([]Value, len(row))
		for i, s := range row {
			if s != nil {
				values[i] = S(*s)
			}
		}
		t.Rows[r] = values
	}
	return nil
}
