package interfaces

import (
	"context"
	"time"

	"github.com/inferloop/dart/internal/suppression"
)

// RunRecord describes one completed run.
type RunRecord struct {
	ID          string              `json:"id"`
	Fingerprint string              `json:"fingerprint"`
	Source      string              `json:"source"`
	Profile     string              `json:"profile,omitempty"`
	Config      *suppression.Config `json:"config"`
	Stats       *suppression.Stats  `json:"stats"`
	Cached      bool                `json:"cached"`
	Rows        int                 `json:"rows"`
	Artifacts   []string            `json:"artifacts,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Suppressed counts detail rows hidden across every frequency column.
func (r *RunRecord) Suppressed() int {
	if r.Stats == nil {
		return 0
	}
	n := 0
	for _, c := range r.Stats.Columns {
		n += c.SuppressedRecords()
	}
	return n
}

// AuditStore persists runs and their redaction logs.
type AuditStore interface {
	// RecordRun stores the run and, when logs are given, every cell of them
	RecordRun(ctx context.Context, run *RunRecord, logs map[string]*suppression.RedactionLog) error

	// GetRun returns the stored run, or a not_found error
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// Ping checks the database connection
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// StatsSink records run statistics as time series points.
type StatsSink interface {
	WriteRun(ctx context.Context, run *RunRecord) error
	Ping(ctx context.Context) error
	Close() error
}
