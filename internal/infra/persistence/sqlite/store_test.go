package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reductioncore/pkg/stateapi"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "archive.db")
	s, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Path() != path || s.DB() == nil {
		t.Fatalf("unexpected store handles")
	}
	job := stateapi.JobRecord{
		JobID:      "job-1",
		Name:       "SANS2D batch",
		CreatedAt:  time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC),
		BlobKey:    "jobs/job-1/state.json",
		Properties: map[string]string{"Data.sample_scatter": "SANS2D00022048", "@instrument": "SANS2D"},
	}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.PutGeometry(ctx, stateapi.DetectorGeometry{Instrument: "SANS2D", Run: 1000, DetectorCount: 2, SpectrumCount: 36872}); err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, err := reopened.LoadJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != job.Name || !got.CreatedAt.Equal(job.CreatedAt) || got.Properties["@instrument"] != "SANS2D" {
		t.Fatalf("unexpected job %+v", got)
	}
	if err := reopened.SaveJob(ctx, job); !errors.Is(err, stateapi.ErrJobExists) {
		t.Fatalf("expected ErrJobExists after reopen, got %v", err)
	}
	g, err := reopened.Geometry(ctx, "SANS2D", 22048)
	if err != nil || g.SpectrumCount != 36872 {
		t.Fatalf("geometry not persisted: %+v %v", g, err)
	}
	if _, err := reopened.Geometry(ctx, "SANS2D", 10); !errors.Is(err, stateapi.ErrGeometryNotFound) {
		t.Fatalf("expected ErrGeometryNotFound before first epoch, got %v", err)
	}
}

func TestStoreRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	if err := s.SaveJob(ctx, stateapi.JobRecord{JobID: "j"}); err == nil {
		t.Fatalf("expected persist error on closed db")
	}
	if _, err := s.LoadJob(ctx, "j"); !errors.Is(err, stateapi.ErrJobNotFound) {
		t.Fatalf("expected failed save to be rolled back, got %v", err)
	}
}

func TestFailedSaveKeepsEarlierJobs(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveJob(ctx, stateapi.JobRecord{JobID: "kept"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = s.Close()
	if err := s.SaveJob(ctx, stateapi.JobRecord{JobID: "lost"}); err == nil {
		t.Fatalf("expected persist error on closed db")
	}
	if _, err := s.LoadJob(ctx, "kept"); err != nil {
		t.Fatalf("rollback dropped an earlier job: %v", err)
	}
}

func TestConcurrentSavesAllPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveJob(ctx, stateapi.JobRecord{JobID: fmt.Sprintf("job-%d", i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- s.PutGeometry(ctx, stateapi.DetectorGeometry{Instrument: "LOQ", Run: i + 1, SpectrumCount: i + 1})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = s.Close()

	reopened, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	jobs, err := reopened.ListJobs(ctx)
	if err != nil || len(jobs) != writers {
		t.Fatalf("expected %d persisted jobs, got %d (%v)", writers, len(jobs), err)
	}
	if g, err := reopened.Geometry(ctx, "LOQ", writers); err != nil || g.SpectrumCount != writers {
		t.Fatalf("expected latest epoch persisted, got %+v %v", g, err)
	}
}
