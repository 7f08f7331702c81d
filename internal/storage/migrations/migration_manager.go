package migrations

import (
	"database/sql"
	"embed"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/pkg/errors"
)

//go:embed sql/*.sql
var files embed.FS

// MigrationConfig contains migration configuration
type MigrationConfig struct {
	TableName   string        `json:"table_name" mapstructure:"table_name"`
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"`
}

// MigrationStatus represents the state of the audit schema
type MigrationStatus struct {
	CurrentVersion uint `json:"current_version"`
	LatestVersion  uint `json:"latest_version"`
	Dirty          bool `json:"dirty"`
	PendingCount   int  `json:"pending_count"`
}

// MigrationManager applies the embedded audit schema migrations. It opens its
// own connection because the migrate driver closes the database it is given.
type MigrationManager struct {
	dsn    string
	config *MigrationConfig
	logger *logrus.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(dsn string, config *MigrationConfig, logger *logrus.Logger) *MigrationManager {
	if config == nil {
		config = &MigrationConfig{}
	}
	if config.TableName == "" {
		config.TableName = "schema_migrations"
	}
	if config.LockTimeout == 0 {
		config.LockTimeout = 5 * time.Minute
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &MigrationManager{
		dsn:    dsn,
		config: config,
		logger: logger,
	}
}

// Source returns the embedded migrations as a migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}

// Versions lists the embedded migration versions in order.
func Versions() ([]uint, error) {
	src, err := Source()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return nil, err
	}
	versions := []uint{v}
	for {
		next, err := src.Next(v)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return versions, nil
			}
			return nil, err
		}
		versions = append(versions, next)
		v = next
	}
}

// Up applies every pending migration.
func (m *MigrationManager) Up() error {
	return m.run("up", func(mg *migrate.Migrate) error { return mg.Up() })
}

// Down rolls back the given number of migrations.
func (m *MigrationManager) Down(steps int) error {
	if steps <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "steps must be positive")
	}
	return m.run("down", func(mg *migrate.Migrate) error { return mg.Steps(-steps) })
}

// Force sets the recorded version without running migrations, clearing the
// dirty flag left by a failed migration.
func (m *MigrationManager) Force(version int) error {
	return m.run("force", func(mg *migrate.Migrate) error { return mg.Force(version) })
}

// Status reports the applied and latest versions.
func (m *MigrationManager) Status() (*MigrationStatus, error) {
	versions, err := Versions()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "Failed to read migrations")
	}

	status := &MigrationStatus{LatestVersion: versions[len(versions)-1]}
	err = m.with(func(mg *migrate.Migrate) error {
		version, dirty, err := mg.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return err
		}
		status.CurrentVersion = version
		status.Dirty = dirty
		return nil
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Failed to read migration version")
	}

	for _, v := range versions {
		if v > status.CurrentVersion {
			status.PendingCount++
		}
	}
	return status, nil
}

func (m *MigrationManager) run(action string, fn func(*migrate.Migrate) error) error {
	start := time.Now()
	err := m.with(func(mg *migrate.Migrate) error {
		if err := fn(mg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Migration "+action+" failed")
	}

	m.logger.WithFields(logrus.Fields{
		"action":   action,
		"duration": time.Since(start),
	}).Info("Migrations applied")
	return nil
}

func (m *MigrationManager) with(fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("postgres", m.dsn)
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: m.config.TableName,
	})
	if err != nil {
		db.Close()
		return err
	}

	src, err := Source()
	if err != nil {
		driver.Close()
		return err
	}

	mg, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		src.Close()
		driver.Close()
		return err
	}
	mg.LockTimeout = m.config.LockTimeout
	mg.Log = &migrateLogger{logger: m.logger}
	defer mg.Close()

	return fn(mg)
}

type migrateLogger struct {
	logger *logrus.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.IsLevelEnabled(logrus.DebugLevel)
}
