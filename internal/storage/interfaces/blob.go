package interfaces

import (
	"context"
)

// Artifact is one rendered output of a run.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ArtifactStore keeps the rendered outputs of runs in object storage.
type ArtifactStore interface {
	// PutArtifacts uploads the artifacts of a run and returns their locations
	PutArtifacts(ctx context.Context, runID string, artifacts []Artifact) ([]string, error)

	// Ping checks that the bucket is reachable
	Ping(ctx context.Context) error

	// Close releases the client
	Close() error
}
