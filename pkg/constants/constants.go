package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "dart"
	AppDescription = "Disclosure Avoidance Redaction Tool"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Suppression defaults
	DefaultMinimumThreshold = 10
	DefaultMaxIterations    = 25
	DefaultProfile          = "default"

	// Storage defaults
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultCacheTTL          = 24 * time.Hour
	DefaultCacheKeyPrefix    = "dart"

	// Run registry
	DefaultRunRetention = 256

	// Watch mode
	DefaultWatchDebounce = 500 * time.Millisecond

	// File size limits
	MaxUploadSize = 100 * 1024 * 1024 // 100MB
)

// HTTP headers
const (
	HeaderContentType        = "Content-Type"
	HeaderContentDisposition = "Content-Disposition"
	HeaderRequestID          = "X-Request-ID"
	HeaderRunID              = "X-Run-ID"
	HeaderCache              = "X-Cache"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Storage backend types
const (
	StorageTypeNone     = "none"
	StorageTypeRedis    = "redis"
	StorageTypeS3       = "s3"
	StorageTypePostgres = "postgres"
	StorageTypeInfluxDB = "influxdb"
)

// File formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)
