// Package config loads the application configuration with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/inferloop/dart/internal/observability/metrics"
	"github.com/inferloop/dart/internal/runner"
	"github.com/inferloop/dart/internal/server"
	"github.com/inferloop/dart/internal/storage"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/internal/watch"
	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
)

// Config is the full application configuration
type Config struct {
	// Profiles are named suppression configurations. The "default" profile
	// is used when none is selected.
	Profiles map[string]*suppression.Config `json:"profiles" mapstructure:"profiles"`

	Server  server.Config            `json:"server" mapstructure:"server"`
	Metrics metrics.PrometheusConfig `json:"metrics" mapstructure:"metrics"`
	Logging LoggingConfig            `json:"logging" mapstructure:"logging"`
	Storage storage.Config           `json:"storage" mapstructure:"storage"`
	Runner  runner.Config            `json:"runner" mapstructure:"runner"`
	Watch   watch.Config             `json:"watch" mapstructure:"watch"`
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Load reads cfgFile, or $HOME/.dart.yaml when empty, into v and returns the
// decoded configuration. A missing default file is not an error. Values can
// be overridden with DART_ environment variables, e.g. DART_SERVER_PORT.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("." + constants.AppName)
	}

	v.SetEnvPrefix(strings.ToUpper(constants.AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
				"error reading config file")
		}
	}

	return Decode(v)
}

// Decode unmarshals the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"error unmarshaling config")
	}

	if config.Profiles == nil {
		config.Profiles = make(map[string]*suppression.Config)
	}
	// Profile entries only carry the keys the file sets.
	for name, profile := range config.Profiles {
		if profile == nil {
			profile = &suppression.Config{}
			config.Profiles[name] = profile
		}
		if !v.IsSet("profiles." + name + ".minimum_threshold") {
			profile.MinimumThreshold = constants.DefaultMinimumThreshold
		}
		if profile.MaxIterations == 0 {
			profile.MaxIterations = constants.DefaultMaxIterations
		}
	}
	if _, ok := config.Profiles[constants.DefaultProfile]; !ok {
		config.Profiles[constants.DefaultProfile] = suppression.DefaultConfig()
	}

	config.Server.Version = constants.AppVersion
	return config, nil
}

// SetDefaults registers the default of every setting
func SetDefaults(v *viper.Viper) {
	serverDefaults := server.DefaultConfig()
	v.SetDefault("server.host", serverDefaults.Host)
	v.SetDefault("server.port", serverDefaults.Port)
	v.SetDefault("server.read_timeout", serverDefaults.ReadTimeout)
	v.SetDefault("server.write_timeout", serverDefaults.WriteTimeout)
	v.SetDefault("server.idle_timeout", serverDefaults.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", serverDefaults.ShutdownTimeout)
	v.SetDefault("server.request_timeout", serverDefaults.RequestTimeout)
	v.SetDefault("server.enable_cors", serverDefaults.EnableCORS)
	v.SetDefault("server.max_request_size", serverDefaults.MaxRequestSize)

	metricsDefaults := metrics.DefaultPrometheusConfig()
	v.SetDefault("metrics.enabled", metricsDefaults.Enabled)
	v.SetDefault("metrics.port", metricsDefaults.Port)
	v.SetDefault("metrics.path", metricsDefaults.Path)
	v.SetDefault("metrics.namespace", metricsDefaults.Namespace)

	v.SetDefault("logging.level", constants.DefaultLogLevel)
	v.SetDefault("logging.format", constants.DefaultLogFormat)

	v.SetDefault("storage.cache", constants.StorageTypeNone)
	v.SetDefault("storage.artifacts", constants.StorageTypeNone)
	v.SetDefault("storage.audit", constants.StorageTypeNone)
	v.SetDefault("storage.stats", constants.StorageTypeNone)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.key_prefix", constants.DefaultCacheKeyPrefix)
	v.SetDefault("storage.redis.ttl", constants.DefaultCacheTTL)
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.prefix", constants.AppName)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.database", constants.AppName)
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.auto_migrate", true)
	v.SetDefault("storage.postgres.store_cells", true)
	v.SetDefault("storage.influxdb.url", "http://localhost:8086")
	v.SetDefault("storage.influxdb.bucket", constants.AppName)

	runnerDefaults := runner.DefaultConfig()
	v.SetDefault("runner.strict_sinks", runnerDefaults.StrictSinks)
	v.SetDefault("runner.retention", runnerDefaults.Retention)
	v.SetDefault("runner.cache_ttl", runnerDefaults.CacheTTL)
	v.SetDefault("runner.artifact_format", runnerDefaults.ArtifactFormat)

	watchDefaults := watch.DefaultConfig()
	v.SetDefault("watch.profile", constants.DefaultProfile)
	v.SetDefault("watch.write_log", watchDefaults.WriteLog)
	v.SetDefault("watch.debounce", watchDefaults.Debounce)
	v.SetDefault("watch.process_existing", watchDefaults.ProcessExisting)
	v.SetDefault("watch.exclude_patterns", watchDefaults.ExcludePatterns)
	v.SetDefault("watch.ingest.null_values", watchDefaults.Ingest.NullValues)
	v.SetDefault("watch.ingest.delimiter", watchDefaults.Ingest.Delimiter)
}

// Profile returns a copy of the named profile. The empty name selects the
// default profile.
func (c *Config) Profile(name string) (*suppression.Config, error) {
	if name == "" {
		name = constants.DefaultProfile
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return nil, errors.NewConfigurationError(errors.CodeUnknownProfile,
			fmt.Sprintf("unknown profile %q, available: %s", name, strings.Join(c.ProfileNames(), ", ")))
	}

	copied := *profile
	copied.SensitiveColumns = append([]string(nil), profile.SensitiveColumns...)
	copied.FrequencyColumns = append([]string(nil), profile.FrequencyColumns...)
	if profile.RedactValue != nil {
		value := *profile.RedactValue
		copied.RedactValue = &value
	}
	return &copied, nil
}

// ProfileNames returns the configured profile names in order
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the sections used by every command
func (c *Config) Validate() error {
	for name, profile := range c.Profiles {
		if profile.MinimumThreshold < 0 {
			return errors.NewConfigurationError(errors.CodeInvalidThreshold,
				fmt.Sprintf("profile %q: %s", name, errors.ErrNegativeThreshold.Error()))
		}
	}
	return nil
}

// DefaultConfigPath returns the file Load reads when no path is given
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+constants.AppName+".yaml")
}

// Save writes the settings held by v to path, creating its directory
func Save(v *viper.Viper, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed,
			fmt.Sprintf("error creating config directory %s", filepath.Dir(path)))
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeWriteFailed,
			fmt.Sprintf("error writing config file %s", path))
	}
	return nil
}
