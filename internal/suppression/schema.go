package suppression

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// issueLimit caps how many offending values an error message enumerates.
const issueLimit = 20

// Column is a configured column resolved to its position in the input table.
type Column struct {
	Name  string
	Index int
}

// Schema is a configuration resolved against one table and one frequency
// column. Key positions are the organization columns followed by the
// sensitive columns.
type Schema struct {
	Organization  []Column
	Sensitive     []Column
	Frequency     Column
	UserRedaction *Column
	Threshold     int
	RedactZero    bool
}

// Width is the number of key positions.
func (s *Schema) Width() int {
	return len(s.Organization) + len(s.Sensitive)
}

// KeyNames lists the column name behind every key position.
func (s *Schema) KeyNames() []string {
	names := make([]string, 0, s.Width())
	for _, c := range s.Organization {
		names = append(names, c.Name)
	}
	for _, c := range s.Sensitive {
		names = append(names, c.Name)
	}
	return names
}

func (s *Schema) organizationPositions() []int {
	return allPositions(len(s.Organization))
}

// sensitivePositions maps combination members to key positions.
func (s *Schema) sensitivePositions(c Combination) []int {
	out := make([]int, len(c))
	for i, idx := range c {
		out[i] = len(s.Organization) + idx
	}
	return out
}

// Record is one input row reduced to what the engine needs.
type Record struct {
	Row           int
	Key           Key
	Frequency     int
	UserRequested bool
}

// Resolve validates cfg against t for a single frequency column and extracts
// the records. The table is not modified.
func Resolve(t *table.Table, cfg *Config, frequency string) (*Schema, []Record, error) {
	if err := checkTable(t); err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		return nil, nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "configuration is required")
	}
	if cfg.MinimumThreshold < 0 {
		return nil, nil, errors.NewConfigurationError(errors.CodeInvalidThreshold, errors.ErrNegativeThreshold.Error()).
			WithContext("minimum_threshold", cfg.MinimumThreshold)
	}
	if len(cfg.SensitiveColumns) == 0 {
		return nil, nil, errors.NewConfigurationError(errors.CodeMissingSensitive, errors.ErrNoSensitiveColumns.Error())
	}

	var unknown []string
	lookup := func(name string) Column {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			unknown = append(unknown, name)
		}
		return Column{Name: name, Index: idx}
	}

	schema := &Schema{
		Threshold:  cfg.MinimumThreshold,
		RedactZero: cfg.RedactZero,
	}
	for _, name := range cfg.organizationColumns() {
		schema.Organization = append(schema.Organization, lookup(name))
	}
	for _, name := range cfg.SensitiveColumns {
		schema.Sensitive = append(schema.Sensitive, lookup(name))
	}
	schema.Frequency = lookup(frequency)
	if cfg.UserRedactionColumn != "" {
		col := lookup(cfg.UserRedactionColumn)
		schema.UserRedaction = &col
	}
	if len(unknown) > 0 {
		return nil, nil, errors.NewConfigurationError(errors.CodeUnknownColumn,
			fmt.Sprintf("unknown column(s): %s", strings.Join(unknown, ", "))).
			WithContext("columns", unknown)
	}

	records, err := schema.records(t)
	if err != nil {
		return nil, nil, err
	}
	return schema, records, nil
}

func checkTable(t *table.Table) error {
	if t == nil || len(t.Columns) == 0 {
		return errors.NewTypeError(errors.CodeNotATable, errors.ErrNilTable.Error())
	}

	seen := make(map[string]bool, len(t.Columns))
	var dupes []string
	for _, c := range t.Columns {
		if seen[c] {
			dupes = append(dupes, c)
		}
		seen[c] = true
	}
	if len(dupes) > 0 {
		return errors.NewTypeError(errors.CodeDuplicateColumns,
			fmt.Sprintf("duplicate column names: %s", strings.Join(dupes, ", ")))
	}

	var ragged errors.Issues
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			ragged.Add("", i, strconv.Itoa(len(row)))
		}
	}
	if ragged.HasErrors() {
		return errors.NewTypeError(errors.CodeRaggedRows,
			fmt.Sprintf("rows must have %d values", len(t.Columns))).
			WithDetails(ragged.Summary(issueLimit))
	}
	return nil
}

func (s *Schema) records(t *table.Table) ([]Record, error) {
	var badFrequency, badFlag errors.Issues
	records := make([]Record, len(t.Rows))

	for i, row := range t.Rows {
		key := make(Key, s.Width())
		for p, c := range s.Organization {
			key[p] = CategoryOf(row[c.Index])
		}
		for p, c := range s.Sensitive {
			key[len(s.Organization)+p] = CategoryOf(row[c.Index])
		}

		freq, ok := parseFrequency(row[s.Frequency.Index])
		if !ok {
			badFrequency.Add(s.Frequency.Name, i, row[s.Frequency.Index].String())
		}

		var requested bool
		if s.UserRedaction != nil {
			requested, ok = parseRedactFlag(row[s.UserRedaction.Index])
			if !ok {
				badFlag.Add(s.UserRedaction.Name, i, row[s.UserRedaction.Index].String())
			}
		}

		records[i] = Record{Row: i, Key: key, Frequency: freq, UserRequested: requested}
	}

	if badFrequency.HasErrors() {
		return nil, errors.NewDataError(errors.CodeNonNumericFrequency,
			fmt.Sprintf("frequency column %q must contain non-negative whole numbers", s.Frequency.Name)).
			WithDetails(badFrequency.Summary(issueLimit)).
			WithContext("column", s.Frequency.Name)
	}
	if badFlag.HasErrors() {
		return nil, errors.NewDataError(errors.CodeInvalidRedactFlag,
			fmt.Sprintf("redact column %q may only contain 0, 1 or null", s.UserRedaction.Name)).
			WithDetails(badFlag.Summary(issueLimit)).
			WithContext("column", s.UserRedaction.Name)
	}
	if err := s.checkDuplicates(records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Schema) checkDuplicates(records []Record) error {
	positions := allPositions(s.Width())
	first := make(map[string]int, len(records))
	var dupes errors.Issues
	for _, r := range records {
		id := r.Key.encode(positions)
		if _, ok := first[id]; ok {
			dupes.Add("", r.Row, r.Key.String())
			continue
		}
		first[id] = r.Row
	}
	if dupes.HasErrors() {
		return errors.NewDataError(errors.CodeDuplicateKeys,
			fmt.Sprintf("duplicate values for columns %s; add an organization column to disaggregate them",
				strings.Join(s.KeyNames(), ", "))).
			WithDetails(dupes.Summary(issueLimit))
	}
	return nil
}

// parseFrequency accepts whole, non-negative numbers, including "12.0".
func parseFrequency(v table.Value) (int, bool) {
	if !v.Valid {
		return 0, false
	}
	s := strings.TrimSpace(v.Str)
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// parseRedactFlag treats null and blank as "not requested".
func parseRedactFlag(v table.Value) (bool, bool) {
	s := strings.TrimSpace(v.Str)
	if !v.Valid || s == "" {
		return false, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, false
	}
	switch f {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}
