package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dart/internal/observability/health"
	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
)

type fakeCache struct {
	connected bool
	closed    bool
}

func (c *fakeCache) Connect(ctx context.Context) error { c.connected = true; return nil }
func (c *fakeCache) Close() error                      { c.closed = true; return nil }
func (c *fakeCache) Ping(ctx context.Context) error    { return nil }
func (c *fakeCache) Get(ctx context.Context, key string) (*interfaces.Snapshot, error) {
	return nil, errors.ErrCacheMiss
}
func (c *fakeCache) Set(ctx context.Context, key string, snapshot *interfaces.Snapshot, ttl time.Duration) error {
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestFactorySupportedTypes(t *testing.T) {
	f := NewFactory(quietLogger())
	assert.Equal(t, []string{constants.StorageTypeRedis}, f.GetSupportedTypes(RoleCache))
	assert.True(t, f.IsSupported(RoleArtifacts, constants.StorageTypeS3))
	assert.True(t, f.IsSupported(RoleAudit, constants.StorageTypePostgres))
	assert.True(t, f.IsSupported(RoleStats, constants.StorageTypeInfluxDB))
	assert.False(t, f.IsSupported(RoleCache, constants.StorageTypeS3))
}

func TestFactoryOpenDisabled(t *testing.T) {
	f := NewFactory(quietLogger())
	backends, err := f.Open(context.Background(), &Config{Cache: constants.StorageTypeNone})
	require.NoError(t, err)
	assert.Nil(t, backends.Cache)
	assert.Nil(t, backends.Artifacts)
	assert.Nil(t, backends.Audit)
	assert.Nil(t, backends.Stats)
	assert.NoError(t, backends.Close())
}

func TestFactoryValidate(t *testing.T) {
	f := NewFactory(quietLogger())
	err := f.Validate(&Config{Audit: "mysql"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	assert.Contains(t, err.Error(), "postgres")

	_, err = f.Open(context.Background(), &Config{Cache: constants.StorageTypeS3})
	assert.Error(t, err)
}

func TestFactoryRegisterStorage(t *testing.T) {
	f := NewFactory(quietLogger())
	assert.Error(t, f.RegisterStorage("", "x", nil))
	assert.Error(t, f.RegisterStorage(RoleCache, "memory", nil))

	cache := &fakeCache{}
	require.NoError(t, f.RegisterStorage(RoleCache, "memory", func(config *Config, logger *logrus.Logger) (Connector, error) {
		return cache, nil
	}))

	backends, err := f.Open(context.Background(), &Config{Cache: "memory"})
	require.NoError(t, err)
	assert.True(t, cache.connected)
	assert.Same(t, cache, backends.Cache)

	monitor := health.NewHealthMonitor(quietLogger())
	backends.RegisterHealthChecks(monitor)
	status := monitor.CheckAll(context.Background())
	assert.Equal(t, health.StatusHealthy, status.OverallStatus)
	assert.Contains(t, status.CheckResults, "cache")

	require.NoError(t, backends.Close())
	assert.True(t, cache.closed)
}

func TestFactoryOpenRoleMismatch(t *testing.T) {
	f := NewFactory(quietLogger())
	require.NoError(t, f.RegisterStorage(RoleAudit, "memory", func(config *Config, logger *logrus.Logger) (Connector, error) {
		return &fakeCache{}, nil
	}))

	_, err := f.Open(context.Background(), &Config{Audit: "memory"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}
