package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/internal/storage/migrations"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/errors"
)

// PostgresConfig holds configuration for the audit database
type PostgresConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Database        string        `json:"database" mapstructure:"database"`
	Username        string        `json:"username" mapstructure:"username"`
	Password        string        `json:"password" mapstructure:"password"`
	SSLMode         string        `json:"ssl_mode" mapstructure:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`

	// AutoMigrate applies pending schema migrations on Connect.
	AutoMigrate bool `json:"auto_migrate" mapstructure:"auto_migrate"`
	// StoreCells persists every redaction log cell alongside the run.
	StoreCells bool `json:"store_cells" mapstructure:"store_cells"`
}

// DSN renders the lib/pq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host,
		c.Port,
		c.Username,
		c.Password,
		c.Database,
		c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// PostgresStorage keeps an audit trail of runs and their redaction logs
type PostgresStorage struct {
	config *PostgresConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewPostgresStorage creates a new audit store
func NewPostgresStorage(config *PostgresConfig, logger *logrus.Logger) (*PostgresStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}

	if config.Host == "" || config.Database == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres host and database are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 2
	}

	return &PostgresStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect opens the connection pool and optionally migrates the schema
func (s *PostgresStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", s.config.DSN())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to open database connection")
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to ping database")
	}

	if s.config.AutoMigrate {
		if err := migrations.NewMigrationManager(s.config.DSN(), nil, s.logger).Up(); err != nil {
			db.Close()
			return err
		}
	}

	s.db = db
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"host":     s.config.Host,
		"port":     s.config.Port,
		"database": s.config.Database,
	}).Info("Connected to Postgres")

	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	s.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to close database connection")
	}

	s.logger.Info("Postgres connection closed")
	return nil
}

// Ping tests the database connection
func (s *PostgresStorage) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Database ping failed")
	}
	return nil
}

// RecordRun stores the run and, when cell storage is enabled, its logs
func (s *PostgresStorage) RecordRun(ctx context.Context, run *interfaces.RunRecord, logs map[string]*suppression.RedactionLog) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	config, err := json.Marshal(run.Config)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed, "Failed to encode run config")
	}
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed, "Failed to encode run stats")
	}

	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, fingerprint, source, profile, config, stats, cached, row_count, suppressed, artifacts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Fingerprint, run.Source, nullString(run.Profile), config, stats,
		run.Cached, run.Rows, run.Suppressed(), pq.Array(run.Artifacts), run.CreatedAt,
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to insert run")
	}

	cells := 0
	if s.config.StoreCells && len(logs) > 0 {
		cells, err = s.copyCells(ctx, tx, run.ID, logs)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to commit transaction")
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"cells":    cells,
		"duration": time.Since(start),
	}).Debug("Recorded run")
	return nil
}

// copyCells bulk loads the log cells with COPY.
func (s *PostgresStorage) copyCells(ctx context.Context, tx *sql.Tx, runID string, logs map[string]*suppression.RedactionLog) (int, error) {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("log_cells", cellColumns...))
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to prepare cell copy")
	}

	n := 0
	for _, frequency := range sortedKeys(logs) {
		for _, row := range CellRows(runID, frequency, logs[frequency]) {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				stmt.Close()
				return n, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to copy log cell")
			}
			n++
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return n, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to flush log cells")
	}
	if err := stmt.Close(); err != nil {
		return n, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to close cell copy")
	}
	return n, nil
}

// GetRun returns a stored run
func (s *PostgresStorage) GetRun(ctx context.Context, id string) (*interfaces.RunRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	row := db.QueryRowContext(ctx, selectRuns+` WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound, errors.ErrRunNotFound.Error()).
			WithContext("run_id", id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read run")
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *PostgresStorage) ListRuns(ctx context.Context, limit int) ([]*interfaces.RunRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, selectRuns+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list runs")
	}
	defer rows.Close()

	var runs []*interfaces.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list runs")
	}
	return runs, nil
}

func (s *PostgresStorage) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.db == nil {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "Database not connected")
	}
	return s.db, nil
}

const selectRuns = `
	SELECT id, fingerprint, source, profile, config, stats, cached, row_count, artifacts, created_at
	FROM runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*interfaces.RunRecord, error) {
	var (
		run       interfaces.RunRecord
		profile   sql.NullString
		config    []byte
		stats     []byte
		artifacts []string
	)
	err := row.Scan(&run.ID, &run.Fingerprint, &run.Source, &profile, &config, &stats,
		&run.Cached, &run.Rows, pq.Array(&artifacts), &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	run.Profile = profile.String
	run.Artifacts = artifacts
	if err := json.Unmarshal(config, &run.Config); err != nil {
		return nil, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
