// Package ingest reads aggregate tables from CSV, JSON and XLSX sources.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// Options controls how source values are turned into table values.
type Options struct {
	// NullValues are read as null. Defaults to the empty string.
	NullValues []string `json:"null_values" mapstructure:"null_values"`
	// Delimiter is the CSV field separator. Defaults to a comma.
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
	// Sheet selects the XLSX worksheet. Defaults to the first sheet.
	Sheet string `json:"sheet" mapstructure:"sheet"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		NullValues: []string{""},
		Delimiter:  ",",
	}
}

func (o Options) value(s string) table.Value {
	for _, n := range o.NullValues {
		if s == n {
			return table.Null()
		}
	}
	return table.S(s)
}

// FormatFromPath infers the input format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return constants.FormatCSV, nil
	case ".json":
		return constants.FormatJSON, nil
	case ".xlsx":
		return constants.FormatXLSX, nil
	default:
		return "", errors.WrapError(errors.ErrUnsupportedFormat, errors.ErrorTypeConfiguration,
			errors.CodeInvalidFormat, fmt.Sprintf("your file must be a .csv, .json or .xlsx, got %q", filepath.Base(path)))
	}
}

// ReadFile reads path using the format implied by its extension.
func ReadFile(path string, opts Options) (*table.Table, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeNotFound, errors.CodeReadFailed,
			fmt.Sprintf("cannot open %s", path))
	}
	defer f.Close()
	return Read(f, format, opts)
}

// Read decodes r in the given format.
func Read(r io.Reader, format string, opts Options) (*table.Table, error) {
	switch format {
	case constants.FormatCSV:
		return ReadCSV(r, opts)
	case constants.FormatJSON:
		return ReadJSON(r, opts)
	case constants.FormatXLSX:
		return ReadXLSX(r, opts)
	default:
		return nil, errors.WrapError(errors.ErrUnsupportedFormat, errors.ErrorTypeConfiguration,
			errors.CodeInvalidFormat, fmt.Sprintf("unsupported input format %q", format))
	}
}

// ReadCSV reads a CSV document whose first record is the header. Rows with
// the wrong number of fields are kept so the engine can report them.
func ReadCSV(r io.Reader, opts Options) (*table.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeReadFailed, "failed to read CSV input")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	if opts.Delimiter != "" {
		if len(opts.Delimiter) != 1 {
			return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "CSV delimiter must be a single character")
		}
		reader.Comma = rune(opts.Delimiter[0])
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.CodeInvalidFormat, "malformed CSV input")
	}
	if len(records) == 0 {
		return nil, errors.NewTypeError(errors.CodeNotATable, "CSV input has no header row")
	}

	t := table.New(records[0]...)
	t.Rows = make([][]table.Value, 0, len(records)-1)
	for _, record := range records[1:] {
		t.Rows = append(t.Rows, valuesOf(record, -1, opts))
	}
	return t, nil
}

// ReadXLSX reads one worksheet whose first row is the header. Trailing
// blank cells, which the workbook does not store, are read as null.
func ReadXLSX(r io.Reader, opts Options) (*table.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeType, errors.CodeNotATable, "input is not a valid XLSX workbook")
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("cannot read worksheet %q", sheet))
	}
	if len(rows) == 0 {
		return nil, errors.NewTypeError(errors.CodeNotATable, fmt.Sprintf("worksheet %q has no header row", sheet))
	}

	header := rows[0]
	t := table.New(header...)
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		t.Rows = append(t.Rows, valuesOf(row, len(header), opts))
	}
	return t, nil
}

// Document is the JSON form of a table. Values may be strings, numbers,
// booleans or null.
type Document struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// ReadJSON decodes a Document.
func ReadJSON(r io.Reader, opts Options) (*table.Table, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.CodeInvalidFormat, "malformed JSON input")
	}
	return doc.Table(opts)
}

// Table converts the document, rejecting nested values.
func (d *Document) Table(opts Options) (*table.Table, error) {
	if len(d.Columns) == 0 {
		return nil, errors.NewTypeError(errors.CodeNotATable, errors.ErrNilTable.Error())
	}

	t := table.New(d.Columns...)
	t.Rows = make([][]table.Value, 0, len(d.Rows))
	var bad errors.Issues
	for i, row := range d.Rows {
		values := make([]table.Value, len(row))
		for j, raw := range row {
			v, ok := jsonValue(raw, opts)
			if !ok {
				bad.Add("", i, fmt.Sprint(raw))
			}
			values[j] = v
		}
		t.Rows = append(t.Rows, values)
	}
	if bad.HasErrors() {
		return nil, errors.NewDataError(errors.CodeInvalidFormat, "table values must be scalars").
			WithDetails(bad.Summary(20))
	}
	return t, nil
}

func jsonValue(raw interface{}, opts Options) (table.Value, bool) {
	switch v := raw.(type) {
	case nil:
		return table.Null(), true
	case string:
		return opts.value(v), true
	case json.Number:
		return table.S(v.String()), true
	case float64:
		return table.S(strconv.FormatFloat(v, 'f', -1, 64)), true
	case bool:
		if v {
			return table.S("1"), true
		}
		return table.S("0"), true
	default:
		return table.Null(), false
	}
}

// valuesOf converts one source row. A positive width pads the row with nulls.
func valuesOf(record []string, width int, opts Options) []table.Value {
	n := len(record)
	if width > n {
		n = width
	}
	values := make([]table.Value, n)
	for i, s := range record {
		values[i] = opts.value(s)
	}
	return values
}
