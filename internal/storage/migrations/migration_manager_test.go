package migrations

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, versions)
}

func TestSourceReadsUpAndDown(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	up, identifier, err := src.ReadUp(1)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "create_runs", identifier)

	body, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS runs")

	down, _, err := src.ReadDown(2)
	require.NoError(t, err)
	defer down.Close()
	body, err = io.ReadAll(down)
	require.NoError(t, err)
	assert.Contains(t, string(body), "DROP TABLE IF EXISTS log_cells")
}

func TestNewMigrationManagerDefaults(t *testing.T) {
	m := NewMigrationManager("postgres://localhost/dart", nil, nil)
	assert.Equal(t, "schema_migrations", m.config.TableName)
	assert.Equal(t, 5*time.Minute, m.config.LockTimeout)
	assert.NotNil(t, m.logger)
}

func TestDownRequiresSteps(t *testing.T) {
	m := NewMigrationManager("postgres://localhost/dart", nil, nil)
	assert.Error(t, m.Down(0))
}
