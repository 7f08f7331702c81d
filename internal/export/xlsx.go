package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/table"
)

const defaultSheet = "Sheet1"

// XLSXExporter writes a single-sheet workbook. Values are written as text so
// identifiers with leading zeros survive; nulls are left blank.
type XLSXExporter struct{}

// Name returns the exporter name
func (xe *XLSXExporter) Name() string {
	return "xlsx"
}

// Format returns the format the exporter handles
func (xe *XLSXExporter) Format() string {
	return constants.FormatXLSX
}

// ContentType returns the MIME type of the output
func (xe *XLSXExporter) ContentType() string {
	return constants.ContentTypeXLSX
}

// Export streams the rows into a new workbook and writes it to writer.
func (xe *XLSXExporter) Export(ctx context.Context, writer io.Writer, t *table.Table, options Options) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := defaultSheet
	if options.XLSXOptions.Sheet != "" && options.XLSXOptions.Sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, options.XLSXOptions.Sheet); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
		sheet = options.XLSXOptions.Sheet
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet writer: %w", err)
	}

	line := 1
	if !options.OmitHeaders {
		header := make([]interface{}, len(t.Columns))
		for i, c := range t.Columns {
			header[i] = c
		}
		if err := sw.SetRow("A1", header); err != nil {
			return fmt.Errorf("failed to write XLSX headers: %w", err)
		}
		line++
	}

	for _, row := range t.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			if v.Valid {
				values[i] = v.Str
			} else if options.NullValue != "" {
				values[i] = options.NullValue
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write XLSX row: %w", err)
		}
		line++
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush XLSX sheet: %w", err)
	}
	_, err = f.WriteTo(writer)
	return err
}

// ValidateOptions rejects sheet names Excel would refuse.
func (xe *XLSXExporter) ValidateOptions(options Options) error {
	if len(options.XLSXOptions.Sheet) > 31 {
		return fmt.Errorf("sheet name %q exceeds 31 characters", options.XLSXOptions.Sheet)
	}
	return nil
}
