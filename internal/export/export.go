// Package export moves a frozen AllStates across a process boundary: the
// stringified property map is written to blob storage and recorded in the
// job archive, and either copy can be imported back into typed records.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reductioncore/internal/blob"
	"reductioncore/internal/state"
	"reductioncore/internal/telemetry"
	"reductioncore/pkg/stateapi"
)

// ContentType of exported state blobs.
const ContentType = "application/vnd.reduction-state+json"

// ErrMismatch reports that the archived and blob copies of a job differ.
var ErrMismatch = errors.New("export: archive and blob copies differ")

// Option configures a Service.
type Option func(*Service)

// WithRegistry sets the registry used to restore field types on import.
func WithRegistry(r *state.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service exports and imports reduction jobs.
type Service struct {
	blobs    blob.Store
	archive  stateapi.Archive
	registry *state.Registry
	logger   *slog.Logger
	metrics  telemetry.MetricsRecorder
	now      func() time.Time
}

// New constructs a Service. Either store may be nil, in which case that copy
// is skipped.
func New(blobs blob.Store, archive stateapi.Archive, opts ...Option) (*Service, error) {
	if blobs == nil && archive == nil {
		return nil, errors.New("export: blob store or archive required")
	}
	s := &Service{
		blobs:    blobs,
		archive:  archive,
		registry: state.DefaultRegistry(),
		logger:   slog.New(slog.DiscardHandler),
		metrics:  telemetry.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BlobKey is the blob location of an exported job.
func BlobKey(jobID string) string { return "jobs/" + jobID + "/state.json" }

// Export writes all under a new job. An empty jobID is replaced by a random
// UUID. The blob and archive writes run concurrently; when one fails the
// blob copy is removed.
func (s *Service) Export(ctx context.Context, jobID, name string, all *state.AllStates) (stateapi.JobRecord, error) {
	start := time.Now()
	job, err := s.export(ctx, jobID, name, all)
	s.metrics.Observe(ctx, "export", err == nil, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "export failed", "job", jobID, "error", err)
		return stateapi.JobRecord{}, err
	}
	s.logger.InfoContext(ctx, "state exported", "job", job.JobID, "properties", len(job.Properties), "blob", job.BlobKey)
	return job, nil
}

func (s *Service) export(ctx context.Context, jobID, name string, all *state.AllStates) (stateapi.JobRecord, error) {
	if all == nil {
		return stateapi.JobRecord{}, errors.New("export: nothing to export")
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}
	job := stateapi.JobRecord{
		JobID:      jobID,
		Name:       name,
		CreatedAt:  s.now(),
		Properties: state.EncodeAll(all).Strings(),
	}
	if s.blobs != nil {
		job.BlobKey = BlobKey(jobID)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return stateapi.JobRecord{}, fmt.Errorf("encode job: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	wroteBlob := false
	if s.blobs != nil {
		g.Go(func() error {
			_, err := s.blobs.Put(gctx, job.BlobKey, bytes.NewReader(payload), blob.PutOptions{
				ContentType: ContentType,
				Metadata:    map[string]string{"job": jobID},
			})
			if err != nil {
				return fmt.Errorf("write blob: %w", err)
			}
			wroteBlob = true
			return nil
		})
	}
	if s.archive != nil {
		g.Go(func() error {
			if err := s.archive.SaveJob(gctx, job); err != nil {
				return fmt.Errorf("archive job: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if wroteBlob {
			if _, derr := s.blobs.Delete(context.WithoutCancel(ctx), job.BlobKey); derr != nil {
				s.logger.WarnContext(ctx, "orphaned export blob", "key", job.BlobKey, "error", derr)
			}
		}
		return stateapi.JobRecord{}, err
	}
	return job, nil
}

// Import restores an archived job. When the job also has a blob copy the two
// must agree.
func (s *Service) Import(ctx context.Context, jobID string) (*state.AllStates, stateapi.JobRecord, error) {
	start := time.Now()
	all, job, err := s.importJob(ctx, jobID)
	s.metrics.Observe(ctx, "import", err == nil, time.Since(start))
	return all, job, err
}

func (s *Service) importJob(ctx context.Context, jobID string) (*state.AllStates, stateapi.JobRecord, error) {
	if s.archive == nil {
		return s.importKey(ctx, BlobKey(jobID))
	}
	job, err := s.archive.LoadJob(ctx, jobID)
	if err != nil {
		return nil, stateapi.JobRecord{}, err
	}
	if job.BlobKey != "" && s.blobs != nil {
		copyJob, err := s.readBlob(ctx, job.BlobKey)
		if err != nil {
			return nil, stateapi.JobRecord{}, err
		}
		if !sameProperties(job.Properties, copyJob.Properties) {
			return nil, stateapi.JobRecord{}, fmt.Errorf("%w: %s", ErrMismatch, jobID)
		}
	}
	all, err := s.decode(job)
	if err != nil {
		return nil, stateapi.JobRecord{}, err
	}
	return all, job, nil
}

// ImportBlob restores a job straight from a blob key.
func (s *Service) ImportBlob(ctx context.Context, key string) (*state.AllStates, stateapi.JobRecord, error) {
	start := time.Now()
	all, job, err := s.importKey(ctx, key)
	s.metrics.Observe(ctx, "import", err == nil, time.Since(start))
	return all, job, err
}

func (s *Service) importKey(ctx context.Context, key string) (*state.AllStates, stateapi.JobRecord, error) {
	if s.blobs == nil {
		return nil, stateapi.JobRecord{}, errors.New("export: no blob store configured")
	}
	job, err := s.readBlob(ctx, key)
	if err != nil {
		return nil, stateapi.JobRecord{}, err
	}
	all, err := s.decode(job)
	if err != nil {
		return nil, stateapi.JobRecord{}, err
	}
	return all, job, nil
}

// List returns the archived jobs.
func (s *Service) List(ctx context.Context) ([]stateapi.JobSummary, error) {
	if s.archive == nil {
		return nil, errors.New("export: no archive configured")
	}
	return s.archive.ListJobs(ctx)
}

func (s *Service) readBlob(ctx context.Context, key string) (stateapi.JobRecord, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return stateapi.JobRecord{}, fmt.Errorf("read blob: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return stateapi.JobRecord{}, fmt.Errorf("read blob: %w", err)
	}
	var job stateapi.JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return stateapi.JobRecord{}, &stateapi.SerializationError{Issues: stateapi.Issues{{
			Field:   key,
			Kind:    stateapi.SerializationFailed,
			Message: err.Error(),
		}}}
	}
	return job, nil
}

func (s *Service) decode(job stateapi.JobRecord) (*state.AllStates, error) {
	props := make(stateapi.PropertyMap, len(job.Properties))
	for k, v := range job.Properties {
		props[k] = v
	}
	return state.DecodeAll(s.registry, props)
}

func sameProperties(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
