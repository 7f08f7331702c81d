package suppression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

func schoolTable() *table.Table {
	return table.FromStrings(
		[]string{"District", "School", "Gender", "Count", "Redact"},
		[][]string{
			{"D1", "S1", "F", "3", "0"},
			{"D1", "S1", "M", "20", "0"},
			{"D1", "S2", "F", "15", "1"},
			{"D1", "S2", "M", "25", ""},
		},
	)
}

func schoolConfig() *Config {
	cfg := DefaultConfig()
	cfg.ParentOrganization = "District"
	cfg.ChildOrganization = "School"
	cfg.SensitiveColumns = []string{"Gender"}
	cfg.FrequencyColumns = []string{"Count"}
	cfg.UserRedactionColumn = "Redact"
	return cfg
}

func TestResolve(t *testing.T) {
	schema, records, err := Resolve(schoolTable(), schoolConfig(), "Count")
	require.NoError(t, err)

	assert.Equal(t, []string{"District", "School", "Gender"}, schema.KeyNames())
	assert.Equal(t, 3, schema.Frequency.Index)
	require.NotNil(t, schema.UserRedaction)
	assert.Equal(t, 4, schema.UserRedaction.Index)
	assert.Equal(t, 10, schema.Threshold)

	require.Len(t, records, 4)
	assert.Equal(t, 20, records[1].Frequency)
	assert.Equal(t, Key{{Present, "D1"}, {Present, "S1"}, {Present, "M"}}, records[1].Key)
	assert.True(t, records[2].UserRequested)
	assert.False(t, records[3].UserRequested)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		table   func() *table.Table
		config  func(*Config)
		errType errors.ErrorType
		code    string
	}{
		{
			name:    "nil table",
			table:   func() *table.Table { return nil },
			errType: errors.ErrorTypeType,
			code:    errors.CodeNotATable,
		},
		{
			name: "ragged rows",
			table: func() *table.Table {
				tbl := schoolTable()
				tbl.Rows[1] = tbl.Rows[1][:2]
				return tbl
			},
			errType: errors.ErrorTypeType,
			code:    errors.CodeRaggedRows,
		},
		{
			name: "duplicate column names",
			table: func() *table.Table {
				return table.FromStrings([]string{"A", "A"}, nil)
			},
			errType: errors.ErrorTypeType,
			code:    errors.CodeDuplicateColumns,
		},
		{
			name:    "unknown sensitive column",
			config:  func(c *Config) { c.SensitiveColumns = []string{"Race"} },
			errType: errors.ErrorTypeConfiguration,
			code:    errors.CodeUnknownColumn,
		},
		{
			name:    "unknown parent column",
			config:  func(c *Config) { c.ParentOrganization = "County" },
			errType: errors.ErrorTypeConfiguration,
			code:    errors.CodeUnknownColumn,
		},
		{
			name:    "no sensitive columns",
			config:  func(c *Config) { c.SensitiveColumns = nil },
			errType: errors.ErrorTypeConfiguration,
			code:    errors.CodeMissingSensitive,
		},
		{
			name:    "negative threshold",
			config:  func(c *Config) { c.MinimumThreshold = -1 },
			errType: errors.ErrorTypeConfiguration,
			code:    errors.CodeInvalidThreshold,
		},
		{
			name: "non numeric frequency",
			table: func() *table.Table {
				tbl := schoolTable()
				tbl.Rows[0][3] = table.S("three")
				return tbl
			},
			errType: errors.ErrorTypeData,
			code:    errors.CodeNonNumericFrequency,
		},
		{
			name: "null frequency",
			table: func() *table.Table {
				tbl := schoolTable()
				tbl.Rows[0][3] = table.Null()
				return tbl
			},
			errType: errors.ErrorTypeData,
			code:    errors.CodeNonNumericFrequency,
		},
		{
			name: "fractional frequency",
			table: func() *table.Table {
				tbl := schoolTable()
				tbl.Rows[0][3] = table.S("2.5")
				return tbl
			},
			errType: errors.ErrorTypeData,
			code:    errors.CodeNonNumericFrequency,
		},
		{
			name: "redact flag outside 0 and 1",
			table: func() *table.Table {
				tbl := schoolTable()
				tbl.Rows[0][4] = table.S("2")
				return tbl
			},
			errType: errors.ErrorTypeData,
			code:    errors.CodeInvalidRedactFlag,
		},
		{
			name: "duplicate keys",
			table: func() *table.Table {
				tbl := schoolTable()
				tbl.Rows[1][2] = table.S("F")
				return tbl
			},
			errType: errors.ErrorTypeData,
			code:    errors.CodeDuplicateKeys,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := schoolTable()
			if tt.table != nil {
				tbl = tt.table()
			}
			cfg := schoolConfig()
			if tt.config != nil {
				tt.config(cfg)
			}

			_, _, err := Resolve(tbl, cfg, "Count")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "unexpected error type: %v", err)

			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestResolveEnumeratesOffendingValues(t *testing.T) {
	tbl := schoolTable()
	tbl.Rows[0][3] = table.S("x")
	tbl.Rows[2][3] = table.S("-4")

	_, _, err := Resolve(tbl, schoolConfig(), "Count")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `row 0 "x"`)
	assert.Contains(t, err.Error(), `row 2 "-4"`)
}

func TestResolveAcceptsWholeFloats(t *testing.T) {
	tbl := schoolTable()
	tbl.Rows[0][3] = table.S("3.0")
	tbl.Rows[1][4] = table.S("1.0")

	_, records, err := Resolve(tbl, schoolConfig(), "Count")
	require.NoError(t, err)
	assert.Equal(t, 3, records[0].Frequency)
	assert.True(t, records[1].UserRequested)
}

func TestResolveNullCategories(t *testing.T) {
	tbl := schoolTable()
	tbl.Rows[0][2] = table.Null()

	_, records, err := Resolve(tbl, schoolConfig(), "Count")
	require.NoError(t, err)
	assert.Equal(t, Missing, records[0].Key[2].State)
}

func TestConfigValidate(t *testing.T) {
	cfg := schoolConfig()
	require.NoError(t, cfg.Validate())

	cfg.FrequencyColumns = []string{"Gender"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	cfg = schoolConfig()
	cfg.FrequencyColumns = nil
	assert.Error(t, cfg.Validate())
}
