package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gradeCSV = "Grade,Sex,Counts\nA,F,3\nA,M,20\nB,F,15\nB,M,25\n"

const profileConfig = `
logging:
  level: error
profiles:
  grades:
    sensitive_columns: [Grade, Sex]
    frequency_columns: [Counts]
    redact_value: "*"
`

// execute runs the root command with args, isolated from the user's home.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCLIRedact(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "grades.csv", gradeCSV)
	configFile := writeFile(t, dir, "dart.yaml", profileConfig)

	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		validate func(t *testing.T, output string)
	}{
		{
			name: "Redact to default output",
			args: []string{"redact", "--input", input, "--sensitive", "Grade,Sex", "--frequency", "Counts"},
			validate: func(t *testing.T, output string) {
				assert.Contains(t, output, "4 rows redacted")
				assert.Contains(t, output, "of 4 records suppressed")

				data, err := os.ReadFile(filepath.Join(dir, "grades_redacted.csv"))
				require.NoError(t, err)
				lines := strings.Split(strings.TrimSpace(string(data)), "\n")
				require.Len(t, lines, 5)
				assert.Equal(t, "Grade,Sex,Counts,RedactBinary,Redact,RedactBreakdown", lines[0])
				assert.True(t, strings.HasPrefix(lines[1], "A,F,3,1,"))
			},
		},
		{
			name:    "Refuse to overwrite",
			args:    []string{"redact", "--input", input, "--sensitive", "Grade,Sex", "--frequency", "Counts"},
			wantErr: true,
		},
		{
			name: "Profile with log output",
			args: []string{
				"--config", configFile,
				"redact", "--input", input, "--profile", "grades",
				"--output", filepath.Join(dir, "profiled.json"),
				"--log-output", filepath.Join(dir, "profiled_log.csv"),
			},
			validate: func(t *testing.T, output string) {
				assert.Contains(t, output, "profiled_log.csv")

				data, err := os.ReadFile(filepath.Join(dir, "profiled.json"))
				require.NoError(t, err)
				assert.Contains(t, string(data), `"*"`)

				log, err := os.ReadFile(filepath.Join(dir, "profiled_log.csv"))
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(string(log), "Grouping,Grade,Sex,Counts,MinimumValue"))
			},
		},
		{
			name: "Stream JSON to stdout",
			args: []string{"redact", "-i", input, "-s", "Grade,Sex", "-f", "Counts", "-o", "-", "--format", "json"},
			validate: func(t *testing.T, output string) {
				assert.Contains(t, output, `"RedactBinary"`)
			},
		},
		{
			name:    "Missing sensitive columns",
			args:    []string{"redact", "--input", input, "--frequency", "Counts", "-o", "-"},
			wantErr: true,
		},
		{
			name:    "Unknown column",
			args:    []string{"redact", "--input", input, "-s", "Grade,Age", "-f", "Counts", "-o", "-"},
			wantErr: true,
		},
		{
			name:    "Unknown profile",
			args:    []string{"redact", "--input", input, "--profile", "missing", "-o", "-"},
			wantErr: true,
		},
		{
			name:    "Missing input flag",
			args:    []string{"redact", "-s", "Grade,Sex", "-f", "Counts"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err, output)
			if tt.validate != nil {
				tt.validate(t, output)
			}
		})
	}
}

func TestCLIValidate(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "grades.csv", gradeCSV)

	output, err := execute(t, "validate", "-i", input, "-s", "Grade,Sex", "-f", "Counts")
	require.NoError(t, err, output)
	assert.Contains(t, output, "is valid for redaction")
	assert.Contains(t, output, "key columns:     Grade, Sex")

	output, err = execute(t, "validate", "-i", input, "-s", "Grade,Sex", "-f", "Counts", "--json")
	require.NoError(t, err, output)
	var reports []*ColumnReport
	require.NoError(t, json.Unmarshal([]byte(output), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "Counts", reports[0].FrequencyColumn)
	assert.Equal(t, []string{"Grade", "Sex"}, reports[0].KeyColumns)
	assert.Equal(t, 4, reports[0].Records)
	assert.GreaterOrEqual(t, reports[0].BelowThreshold, 1)
	assert.Greater(t, reports[0].Cells, reports[0].Records)

	bad := writeFile(t, dir, "bad.csv", "Grade,Sex,Counts\nA,F,2.5\n")
	_, err = execute(t, "validate", "-i", bad, "-s", "Grade,Sex", "-f", "Counts")
	assert.Error(t, err)
}

func TestCLILog(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "grades.csv", gradeCSV)

	output, err := execute(t, "log", "-i", input, "-s", "Grade,Sex", "-f", "Counts")
	require.NoError(t, err, output)
	assert.True(t, strings.HasPrefix(output, "Grouping,Grade,Sex,Counts,MinimumValue"), output)

	out := filepath.Join(dir, "log.xlsx")
	output, err = execute(t, "log", "-i", input, "-s", "Grade,Sex", "-f", "Counts", "-o", out)
	require.NoError(t, err, output)
	assert.Contains(t, output, "log cells to")
	_, err = os.Stat(out)
	assert.NoError(t, err)

	_, err = execute(t, "log", "-i", input, "-s", "Grade,Sex", "-f", "Counts", "--column", "Enrolled")
	assert.Error(t, err)
}

func TestCLIConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := writeFile(t, dir, "dart.yaml", profileConfig)

	output, err := execute(t, "--config", configFile, "config", "profiles")
	require.NoError(t, err, output)
	assert.Contains(t, output, "default")
	assert.Contains(t, output, "sensitive=[Grade,Sex]")

	output, err = execute(t, "--config", configFile, "config", "show", "grades")
	require.NoError(t, err, output)
	var profile map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &profile))
	assert.Equal(t, "*", profile["redact_value"])

	_, err = execute(t, "--config", configFile, "config", "show", "missing")
	assert.Error(t, err)

	target := filepath.Join(dir, "init", "dart.yaml")
	output, err = execute(t, "config", "init", "--output", target)
	require.NoError(t, err, output)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "minimum_threshold")

	_, err = execute(t, "config", "init", "--output", target)
	assert.Error(t, err)
}

func TestCLIMigrateList(t *testing.T) {
	output, err := execute(t, "migrate", "list")
	require.NoError(t, err, output)
	assert.Equal(t, "1\n2\n", output)
}

func TestCLIHelp(t *testing.T) {
	for _, command := range []string{"redact", "validate", "log", "watch", "config", "migrate"} {
		t.Run(command, func(t *testing.T) {
			output, err := execute(t, command, "--help")
			require.NoError(t, err)
			assert.Contains(t, output, "Usage:")
		})
	}
}

func TestDerivedPath(t *testing.T) {
	assert.Equal(t, "data/grades_redacted.csv", derivedPath("data/grades.csv", "_redacted", ""))
	assert.Equal(t, "grades_redacted.xlsx", derivedPath("grades.csv", "_redacted", "xlsx"))
	assert.Equal(t, "log_Counts.csv", derivedPath("log.csv", "_Counts", ""))
}
