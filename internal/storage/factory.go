package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/observability/health"
	"github.com/inferloop/dart/internal/storage/implementations/influxdb"
	"github.com/inferloop/dart/internal/storage/implementations/postgres"
	"github.com/inferloop/dart/internal/storage/implementations/redis"
	"github.com/inferloop/dart/internal/storage/implementations/s3"
	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
)

// Config selects a backend for each storage role. An empty type or "none"
// disables the role.
type Config struct {
	Cache     string `json:"cache" mapstructure:"cache"`
	Artifacts string `json:"artifacts" mapstructure:"artifacts"`
	Audit     string `json:"audit" mapstructure:"audit"`
	Stats     string `json:"stats" mapstructure:"stats"`

	Redis    redis.RedisConfig       `json:"redis" mapstructure:"redis"`
	S3       s3.S3Config             `json:"s3" mapstructure:"s3"`
	Postgres postgres.PostgresConfig `json:"postgres" mapstructure:"postgres"`
	InfluxDB influxdb.InfluxDBConfig `json:"influxdb" mapstructure:"influxdb"`
}

// Backends holds the connected storage of every enabled role. Disabled roles
// are nil.
type Backends struct {
	Cache     interfaces.ResultCache
	Artifacts interfaces.ArtifactStore
	Audit     interfaces.AuditStore
	Stats     interfaces.StatsSink

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Close closes every backend, returning the first error.
func (b *Backends) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].close(); err != nil && first == nil {
			first = errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
				fmt.Sprintf("Failed to close %s", b.closers[i].name))
		}
	}
	b.closers = nil
	return first
}

// RegisterHealthChecks adds a non-critical ping check per enabled backend.
// The engine works without any of them.
func (b *Backends) RegisterHealthChecks(monitor *health.HealthMonitor) {
	add := func(name string, ping func(context.Context) error) {
		monitor.RegisterCheck(health.NewBasicHealthCheck(name, false, constants.DefaultConnectionTimeout, ping))
	}
	if b.Cache != nil {
		add("cache", b.Cache.Ping)
	}
	if b.Artifacts != nil {
		add("artifacts", b.Artifacts.Ping)
	}
	if b.Audit != nil {
		add("audit", b.Audit.Ping)
	}
	if b.Stats != nil {
		add("stats", b.Stats.Ping)
	}
}

// Connector is implemented by every backend client.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// CreateFunc builds an unconnected backend from the storage config.
type CreateFunc func(config *Config, logger *logrus.Logger) (Connector, error)

// Factory creates storage backends by role and type
type Factory struct {
	creators map[string]map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// Storage roles
const (
	RoleCache     = "cache"
	RoleArtifacts = "artifacts"
	RoleAudit     = "audit"
	RoleStats     = "stats"
)

// NewFactory creates a new storage factory
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]map[string]CreateFunc),
		logger:   logger,
	}

	factory.registerDefaults()

	return factory
}

// RegisterStorage registers a backend type for a role
func (f *Factory) RegisterStorage(role, storageType string, createFunc CreateFunc) error {
	if role == "" || storageType == "" {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "Storage role and type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.creators[role] == nil {
		f.creators[role] = make(map[string]CreateFunc)
	}
	f.creators[role][storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"role":         role,
		"storage_type": storageType,
	}).Debug("Registered storage type")

	return nil
}

// GetSupportedTypes returns the backend types registered for a role
func (f *Factory) GetSupportedTypes(role string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators[role]))
	for storageType := range f.creators[role] {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a backend type is registered for a role
func (f *Factory) IsSupported(role, storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[role][storageType]
	return exists
}

// Open creates and connects every enabled backend. On failure the backends
// already connected are closed.
func (f *Factory) Open(ctx context.Context, config *Config) (*Backends, error) {
	if config == nil {
		config = &Config{}
	}
	if err := f.Validate(config); err != nil {
		return nil, err
	}

	backends := &Backends{}
	roles := []struct {
		role        string
		storageType string
		assign      func(Connector) bool
	}{
		{RoleCache, config.Cache, func(c Connector) bool {
			v, ok := c.(interfaces.ResultCache)
			backends.Cache = v
			return ok
		}},
		{RoleArtifacts, config.Artifacts, func(c Connector) bool {
			v, ok := c.(interfaces.ArtifactStore)
			backends.Artifacts = v
			return ok
		}},
		{RoleAudit, config.Audit, func(c Connector) bool {
			v, ok := c.(interfaces.AuditStore)
			backends.Audit = v
			return ok
		}},
		{RoleStats, config.Stats, func(c Connector) bool {
			v, ok := c.(interfaces.StatsSink)
			backends.Stats = v
			return ok
		}},
	}

	for _, r := range roles {
		if disabled(r.storageType) {
			continue
		}

		f.mu.RLock()
		create := f.creators[r.role][r.storageType]
		f.mu.RUnlock()

		client, err := create(config, f.logger)
		if err != nil {
			backends.Close()
			return nil, err
		}
		if !r.assign(client) {
			backends.Close()
			return nil, errors.NewInternalError(fmt.Sprintf("%s backend %q does not implement the role", r.role, r.storageType))
		}
		if err := client.Connect(ctx); err != nil {
			backends.Close()
			return nil, err
		}
		backends.closers = append(backends.closers, namedCloser{name: r.role, close: client.Close})

		f.logger.WithFields(logrus.Fields{
			"role":         r.role,
			"storage_type": r.storageType,
		}).Info("Storage backend ready")
	}

	return backends, nil
}

// Validate checks that every enabled role names a registered type.
func (f *Factory) Validate(config *Config) error {
	checks := map[string]string{
		RoleCache:     config.Cache,
		RoleArtifacts: config.Artifacts,
		RoleAudit:     config.Audit,
		RoleStats:     config.Stats,
	}
	for _, role := range []string{RoleCache, RoleArtifacts, RoleAudit, RoleStats} {
		storageType := checks[role]
		if disabled(storageType) {
			continue
		}
		if !f.IsSupported(role, storageType) {
			return errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("Storage type '%s' is not supported for %s (supported: %s)",
					storageType, role, strings.Join(f.GetSupportedTypes(role), ", ")))
		}
	}
	return nil
}

func disabled(storageType string) bool {
	return storageType == "" || storageType == constants.StorageTypeNone
}

// registerDefaults registers the built-in backends
func (f *Factory) registerDefaults() {
	f.RegisterStorage(RoleCache, constants.StorageTypeRedis, func(config *Config, logger *logrus.Logger) (Connector, error) {
		redisConfig := config.Redis
		if redisConfig.KeyPrefix == "" {
			redisConfig.KeyPrefix = constants.DefaultCacheKeyPrefix
		}
		return redis.NewRedisCache(&redisConfig, logger)
	})

	f.RegisterStorage(RoleArtifacts, constants.StorageTypeS3, func(config *Config, logger *logrus.Logger) (Connector, error) {
		s3Config := config.S3
		if s3Config.Timeout == 0 {
			s3Config.Timeout = constants.DefaultStorageTimeout
		}
		return s3.NewS3Storage(&s3Config, logger)
	})

	f.RegisterStorage(RoleAudit, constants.StorageTypePostgres, func(config *Config, logger *logrus.Logger) (Connector, error) {
		postgresConfig := config.Postgres
		return postgres.NewPostgresStorage(&postgresConfig, logger)
	})

	f.RegisterStorage(RoleStats, constants.StorageTypeInfluxDB, func(config *Config, logger *logrus.Logger) (Connector, error) {
		influxConfig := config.InfluxDB
		if influxConfig.Timeout == 0 {
			influxConfig.Timeout = constants.DefaultStorageTimeout
		}
		return influxdb.NewInfluxDBStorage(&influxConfig, logger)
	})
}
