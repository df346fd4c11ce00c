// Package memory provides the in-process archive of exported jobs and the
// detector geometry catalog. The sqlite and postgres stores wrap it and
// snapshot its state after each write.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"reductioncore/pkg/stateapi"
)

var (
	_ stateapi.Archive         = (*Store)(nil)
	_ stateapi.GeometryCatalog = (*Store)(nil)
)

// Snapshot is the full serialisable content of a Store.
type Snapshot struct {
	Jobs       []stateapi.JobRecord        `json:"jobs"`
	Geometries []stateapi.DetectorGeometry `json:"geometries"`
}

// Store is a concurrency-safe archive and geometry catalog.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]stateapi.JobRecord
	geoms map[string][]stateapi.DetectorGeometry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]stateapi.JobRecord),
		geoms: make(map[string][]stateapi.DetectorGeometry),
	}
}

// SaveJob archives job. Job IDs are write-once.
func (s *Store) SaveJob(ctx context.Context, job stateapi.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(job.JobID) == "" {
		return fmt.Errorf("archive job: empty job id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("%w: %s", stateapi.ErrJobExists, job.JobID)
	}
	s.jobs[job.JobID] = cloneJob(job)
	return nil
}

// LoadJob returns a copy of the archived job.
func (s *Store) LoadJob(ctx context.Context, jobID string) (stateapi.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return stateapi.JobRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return stateapi.JobRecord{}, fmt.Errorf("%w: %s", stateapi.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// ListJobs returns job summaries ordered by creation time, then ID.
func (s *Store) ListJobs(ctx context.Context) ([]stateapi.JobSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]stateapi.JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, stateapi.JobSummary{JobID: j.JobID, Name: j.Name, CreatedAt: j.CreatedAt, BlobKey: j.BlobKey})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].JobID < out[k].JobID
	})
	return out, nil
}

// PutGeometry records g as valid from g.Run. An entry for the same
// instrument and run is replaced.
func (s *Store) PutGeometry(ctx context.Context, g stateapi.DetectorGeometry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(g.Instrument) == "" {
		return fmt.Errorf("put geometry: empty instrument")
	}
	if g.Run < 0 {
		return fmt.Errorf("put geometry: negative run %d", g.Run)
	}
	key := strings.ToUpper(g.Instrument)
	g.Detectors = append([]string(nil), g.Detectors...)
	s.mu.Lock()
	defer s.mu.Unlock()
	epochs := s.geoms[key]
	i := sort.Search(len(epochs), func(i int) bool { return epochs[i].Run >= g.Run })
	switch {
	case i < len(epochs) && epochs[i].Run == g.Run:
		epochs[i] = g
	default:
		epochs = append(epochs, stateapi.DetectorGeometry{})
		copy(epochs[i+1:], epochs[i:])
		epochs[i] = g
	}
	s.geoms[key] = epochs
	return nil
}

// Geometry returns the latest epoch for instrument starting at or before run.
func (s *Store) Geometry(ctx context.Context, instrument string, run int) (stateapi.DetectorGeometry, error) {
	if err := ctx.Err(); err != nil {
		return stateapi.DetectorGeometry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	epochs := s.geoms[strings.ToUpper(instrument)]
	i := sort.Search(len(epochs), func(i int) bool { return epochs[i].Run > run })
	if i == 0 {
		return stateapi.DetectorGeometry{}, fmt.Errorf("%w: %s run %d", stateapi.ErrGeometryNotFound, instrument, run)
	}
	g := epochs[i-1]
	g.Detectors = append([]string(nil), g.Detectors...)
	return g, nil
}

// ExportState returns a deep copy of the store content.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Jobs:       make([]stateapi.JobRecord, 0, len(s.jobs)),
		Geometries: []stateapi.DetectorGeometry{},
	}
	for _, j := range s.jobs {
		snap.Jobs = append(snap.Jobs, cloneJob(j))
	}
	sort.Slice(snap.Jobs, func(i, k int) bool { return snap.Jobs[i].JobID < snap.Jobs[k].JobID })
	keys := make([]string, 0, len(s.geoms))
	for k := range s.geoms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, g := range s.geoms[k] {
			g.Detectors = append([]string(nil), g.Detectors...)
			snap.Geometries = append(snap.Geometries, g)
		}
	}
	return snap
}

// ImportState replaces the store content with snap.
func (s *Store) ImportState(snap Snapshot) {
	jobs := make(map[string]stateapi.JobRecord, len(snap.Jobs))
	for _, j := range snap.Jobs {
		jobs[j.JobID] = cloneJob(j)
	}
	geoms := make(map[string][]stateapi.DetectorGeometry)
	for _, g := range snap.Geometries {
		key := strings.ToUpper(g.Instrument)
		g.Detectors = append([]string(nil), g.Detectors...)
		geoms[key] = append(geoms[key], g)
	}
	for _, epochs := range geoms {
		sort.SliceStable(epochs, func(i, k int) bool { return epochs[i].Run < epochs[k].Run })
	}
	s.mu.Lock()
	s.jobs = jobs
	s.geoms = geoms
	s.mu.Unlock()
}

func cloneJob(j stateapi.JobRecord) stateapi.JobRecord {
	j.Properties = stateapi.CloneProperties(j.Properties)
	return j
}
