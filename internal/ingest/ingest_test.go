package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

func TestReadCSV(t *testing.T) {
	input := "\xef\xbb\xbfSchool,Gender,Count\nS1,F,12\nS1,,3\n"

	tbl, err := ReadCSV(strings.NewReader(input), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"School", "Gender", "Count"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []table.Value{table.S("S1"), table.S("F"), table.S("12")}, tbl.Rows[0])
	assert.False(t, tbl.Rows[1][1].Valid)
}

func TestReadCSVOptions(t *testing.T) {
	opts := Options{Delimiter: ";", NullValues: []string{"NA"}}

	tbl, err := ReadCSV(strings.NewReader("A;B\nx;NA\n;y\n"), opts)
	require.NoError(t, err)

	assert.False(t, tbl.Rows[0][1].Valid)
	assert.Equal(t, table.S(""), tbl.Rows[1][0])

	_, err = ReadCSV(strings.NewReader("A\n1\n"), Options{Delimiter: "::"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestReadCSVKeepsRaggedRows(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("A,B\n1\n2,3\n"), DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, tbl.Rows[0], 1)
	assert.Len(t, tbl.Rows[1], 2)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeType))
}

func TestReadJSON(t *testing.T) {
	input := `{"columns":["School","Count","Flag"],"rows":[["S1",12,true],["S2",null,false],["S3","",1.5]]}`

	tbl, err := ReadJSON(strings.NewReader(input), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []table.Value{table.S("S1"), table.S("12"), table.S("1")}, tbl.Rows[0])
	assert.False(t, tbl.Rows[1][1].Valid)
	assert.Equal(t, table.S("0"), tbl.Rows[1][2])
	assert.False(t, tbl.Rows[2][1].Valid)
	assert.Equal(t, table.S("1.5"), tbl.Rows[2][2])
}

func TestReadJSONErrors(t *testing.T) {
	_, err := ReadJSON(strings.NewReader(`{"columns":["A"],"rows":[[{"x":1}]]}`), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = ReadJSON(strings.NewReader(`{"rows":[]}`), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeType))

	_, err = ReadJSON(strings.NewReader(`not json`), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func workbook(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestReadXLSX(t *testing.T) {
	data := workbook(t,
		[]interface{}{"School", "Gender", "Count"},
		[]interface{}{"S1", "F", 12},
		[]interface{}{"S1", "M"},
	)

	tbl, err := ReadXLSX(bytes.NewReader(data), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"School", "Gender", "Count"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, table.S("12"), tbl.Rows[0][2])
	require.Len(t, tbl.Rows[1], 3)
	assert.False(t, tbl.Rows[1][2].Valid)
}

func TestReadXLSXUnknownSheet(t *testing.T) {
	data := workbook(t, []interface{}{"A"})
	_, err := ReadXLSX(bytes.NewReader(data), Options{Sheet: "Missing"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestReadXLSXInvalid(t *testing.T) {
	_, err := ReadXLSX(strings.NewReader("School,Count\n"), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeType))
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path   string
		format string
	}{
		{"data.csv", constants.FormatCSV},
		{"DATA.XLSX", constants.FormatXLSX},
		{"nested/dir/t.json", constants.FormatJSON},
	}
	for _, tt := range tests {
		format, err := FormatFromPath(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.format, format, tt.path)
	}

	_, err := FormatFromPath("data.parquet")
	assert.ErrorIs(t, err, errors.ErrUnsupportedFormat)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("A,Count\nx,5\n"), 0o644))

	tbl, err := ReadFile(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
