package stateapi

import (
	"context"
	"errors"
	"time"
)

// Archive errors.
var (
	ErrJobNotFound = errors.New("stateapi: archived job not found")
	ErrJobExists   = errors.New("stateapi: archived job already exists")
)

// JobRecord is an explicitly exported reduction configuration. Properties is
// the stringified flat form of every stage; types are restored through the
// stage definitions on import.
type JobRecord struct {
	JobID      string            `json:"job_id"`
	Name       string            `json:"name"`
	CreatedAt  time.Time         `json:"created_at"`
	BlobKey    string            `json:"blob_key,omitempty"`
	Properties map[string]string `json:"properties"`
}

// JobSummary lists an archived job without its properties.
type JobSummary struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	BlobKey   string    `json:"blob_key,omitempty"`
}

// Archive persists exported jobs. Jobs are write-once.
type Archive interface {
	SaveJob(ctx context.Context, job JobRecord) error
	LoadJob(ctx context.Context, jobID string) (JobRecord, error)
	ListJobs(ctx context.Context) ([]JobSummary, error)
}

// GeometryCatalog is a GeometryLookup that can be seeded.
type GeometryCatalog interface {
	GeometryLookup
	PutGeometry(ctx context.Context, g DetectorGeometry) error
}

// CloneProperties copies a stringified property set.
func CloneProperties(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
