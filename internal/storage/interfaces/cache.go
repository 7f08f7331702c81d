package interfaces

import (
	"context"
	"time"

	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/table"
)

// Snapshot is everything needed to answer a repeated run without running
// the engine: the redacted table, the flattened log per frequency column,
// and the statistics of the original run.
type Snapshot struct {
	Table *table.Table            `json:"table"`
	Logs  map[string]*table.Table `json:"logs"`
	Stats *suppression.Stats      `json:"stats"`
}

// ResultCache stores snapshots by the fingerprint of their input.
type ResultCache interface {
	// Get returns errors.ErrCacheMiss when nothing is stored under key
	Get(ctx context.Context, key string) (*Snapshot, error)

	// Set stores a snapshot; a zero ttl uses the configured default
	Set(ctx context.Context, key string, snapshot *Snapshot, ttl time.Duration) error

	// Ping checks the cache connection
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}
