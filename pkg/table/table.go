// Package table holds the in-memory tabular representation shared by the
// ingest, suppression and export layers.
package table

import (
	"fmt"
	"strconv"
)

// Value is a single table cell. The zero Value is null.
type Value struct {
	Str   string
	Valid bool
}

// S returns a non-null value.
func S(s string) Value {
	return Value{Str: s, Valid: true}
}

// Int returns a non-null value holding the decimal form of n.
func Int(n int) Value {
	return S(strconv.Itoa(n))
}

// Null returns a null value.
func Null() Value {
	return Value{}
}

// String renders null as the empty string.
func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return v.Str
}

// Table is an ordered set of named columns over rectangular rows.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// FromStrings builds a table where every cell is non-null.
func FromStrings(columns []string, rows [][]string) *Table {
	t := New(columns...)
	for _, row := range rows {
		values := make([]Value, len(row))
		for i, s := range row {
			values[i] = S(s)
		}
		t.Rows = append(t.Rows, values)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether name is a column of t.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// AppendRow adds a row; it must match the column count.
func (t *Table) AppendRow(values ...Value) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// Column returns a copy of the named column's values.
func (t *Table) Column(name string) ([]Value, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	out := make([]Value, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// AddColumn appends a column. values must have one entry per row.
func (t *Table) AddColumn(name string, values []Value) error {
	if t.HasColumn(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q has %d values, table has %d rows", name, len(values), len(t.Rows))
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// Select returns a new table holding only the named columns, in that order.
func (t *Table) Select(columns ...string) (*Table, error) {
	idx := make([]int, len(columns))
	for i, name := range columns {
		idx[i] = t.ColumnIndex(name)
		if idx[i] < 0 {
			return nil, fmt.Errorf("unknown column %q", name)
		}
	}
	out := New(columns...)
	out.Rows = make([][]Value, len(t.Rows))
	for r, row := range t.Rows {
		values := make([]Value, len(idx))
		for i, j := range idx {
			values[i] = row[j]
		}
		out.Rows[r] = values
	}
	return out, nil
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([][]Value, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]Value(nil), row...)
	}
	return out
}

// Strings returns the rows with nulls rendered as empty strings.
func (t *Table) Strings() [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = v.String()
		}
	}
	return out
}
