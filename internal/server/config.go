package server

import (
	"fmt"
	"time"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
)

// Config contains server configuration
type Config struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	EnableCORS      bool          `json:"enable_cors" mapstructure:"enable_cors"`
	MaxRequestSize  int64         `json:"max_request_size" mapstructure:"max_request_size"`
	TLSCertFile     string        `json:"tls_cert_file,omitempty" mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `json:"tls_key_file,omitempty" mapstructure:"tls_key_file"`

	// Build information reported by /version
	Version   string `json:"version" mapstructure:"-"`
	BuildTime string `json:"build_time" mapstructure:"-"`
	GitCommit string `json:"git_commit" mapstructure:"-"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		RequestTimeout:  constants.DefaultWriteTimeout,
		EnableCORS:      true,
		MaxRequestSize:  constants.MaxUploadSize,
		Version:         constants.AppVersion,
	}
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("invalid port: %d", c.Port))
	}

	if c.ReadTimeout <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "read timeout must be positive")
	}

	if c.WriteTimeout <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "write timeout must be positive")
	}

	if c.MaxRequestSize <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "max request size must be positive")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "tls cert and key must be set together")
	}

	return nil
}

// GetAddress returns the server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
