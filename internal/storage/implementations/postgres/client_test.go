package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

func gradeTable() *table.Table {
	return table.FromStrings(
		[]string{"Grade", "Sex", "Counts"},
		[][]string{
			{"A", "F", "3"},
			{"A", "M", "20"},
			{"B", "F", "15"},
			{"B", "M", "25"},
		},
	)
}

func gradeConfig() *suppression.Config {
	cfg := suppression.DefaultConfig()
	cfg.SensitiveColumns = []string{"Grade", "Sex"}
	cfg.FrequencyColumns = []string{"Counts"}
	cfg.MinimumThreshold = 10
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestNewPostgresStorage(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "localhost", Database: "dart"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5432, storage.config.Port)
	assert.Equal(t, "disable", storage.config.SSLMode)
	assert.Equal(t, 10*time.Second, storage.config.ConnectTimeout)

	_, err = NewPostgresStorage(nil, nil)
	assert.Error(t, err)

	_, err = NewPostgresStorage(&PostgresConfig{Host: "localhost"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestPostgresConfigDSN(t *testing.T) {
	config := &PostgresConfig{
		Host:           "db",
		Port:           5433,
		Database:       "dart",
		Username:       "u",
		Password:       "p",
		SSLMode:        "require",
		ConnectTimeout: 5 * time.Second,
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=dart sslmode=require connect_timeout=5", config.DSN())
}

func TestPostgresStorageNotConnected(t *testing.T) {
	storage, err := NewPostgresStorage(&PostgresConfig{Host: "localhost", Database: "dart"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, storage.Ping(ctx))
	assert.Error(t, storage.RecordRun(ctx, &interfaces.RunRecord{}, nil))
	_, err = storage.GetRun(ctx, "x")
	assert.Error(t, err)
	assert.NoError(t, storage.Close())
}

func TestCellRows(t *testing.T) {
	result, err := suppression.NewAnonymizer(gradeConfig(), quietLogger()).Apply(context.Background(), gradeTable())
	require.NoError(t, err)
	log := result.Log("Counts")

	rows := CellRows("run-1", "Counts", log)
	require.Len(t, rows, len(log.Cells))

	for i, row := range rows {
		require.Len(t, row, len(cellColumns))
		cell := log.Cells[i]
		assert.Equal(t, "run-1", row[0])
		assert.Equal(t, "Counts", row[1])
		assert.Equal(t, i, row[2])
		assert.Equal(t, cell.Grouping, row[3])
		assert.Equal(t, cell.Frequency, row[6])
		assert.Equal(t, cell.RedactBinary, row[9])
		assert.Equal(t, string(cell.Redact), row[10])

		keys, err := row[5].(driver.Valuer).Value()
		require.NoError(t, err)
		assert.NotEmpty(t, keys)
	}

	detail := log.DetailCell(0)
	for i, cell := range log.Cells {
		if cell != detail {
			continue
		}
		values, err := rows[i][5].(driver.Valuer).Value()
		require.NoError(t, err)
		assert.Equal(t, `{"A","F"}`, values)
		assert.Equal(t, true, rows[i][8])
	}

	assert.Nil(t, CellRows("run-1", "Counts", nil))
}

func TestPostgresStorageIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("dart_test"),
		tcpostgres.WithUsername("dart"),
		tcpostgres.WithPassword("dart"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	storage, err := NewPostgresStorage(&PostgresConfig{
		Host:        host,
		Port:        port.Int(),
		Database:    "dart_test",
		Username:    "dart",
		Password:    "dart",
		AutoMigrate: true,
		StoreCells:  true,
	}, quietLogger())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()
	require.NoError(t, storage.Ping(ctx))

	result, err := suppression.NewAnonymizer(gradeConfig(), quietLogger()).Apply(ctx, gradeTable())
	require.NoError(t, err)

	run := &interfaces.RunRecord{
		ID:          uuid.New().String(),
		Fingerprint: "abc",
		Source:      "test",
		Config:      gradeConfig(),
		Stats:       result.Stats,
		Rows:        4,
		Artifacts:   []string{"s3://bucket/runs/x/redacted.csv"},
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, storage.RecordRun(ctx, run, result.Logs))

	got, err := storage.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Fingerprint, got.Fingerprint)
	assert.Equal(t, run.Config.SensitiveColumns, got.Config.SensitiveColumns)
	assert.Equal(t, run.Artifacts, got.Artifacts)
	assert.Equal(t, run.Suppressed(), got.Suppressed())
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))

	var cells int
	require.NoError(t, storage.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM log_cells WHERE run_id = $1`, run.ID).Scan(&cells))
	assert.Equal(t, len(result.Log("Counts").Cells), cells)

	var breakdown []sql.NullString
	require.NoError(t, storage.db.QueryRowContext(ctx,
		`SELECT breakdown FROM log_cells WHERE run_id = $1 AND redact_binary = 1 ORDER BY cell_index LIMIT 1`,
		run.ID).Scan(pq.Array(&breakdown)))
	assert.NotEmpty(t, breakdown)

	runs, err := storage.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	_, err = storage.GetRun(ctx, uuid.New().String())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
