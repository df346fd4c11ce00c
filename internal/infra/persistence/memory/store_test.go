package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"reductioncore/pkg/stateapi"
)

func TestArchiveJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	job := stateapi.JobRecord{JobID: "b", Name: "second", CreatedAt: t0.Add(time.Hour), Properties: map[string]string{"Data.sample_scatter": "SANS2D00022048"}}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveJob(ctx, stateapi.JobRecord{JobID: "a", Name: "first", CreatedAt: t0}); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.SaveJob(ctx, job); !errors.Is(err, stateapi.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
	if err := s.SaveJob(ctx, stateapi.JobRecord{}); err == nil {
		t.Fatalf("expected empty id error")
	}
	job.Properties["Data.sample_scatter"] = "mutated"
	got, err := s.LoadJob(ctx, "b")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Properties["Data.sample_scatter"] != "SANS2D00022048" {
		t.Fatalf("archive shares caller map: %+v", got.Properties)
	}
	if _, err := s.LoadJob(ctx, "missing"); !errors.Is(err, stateapi.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	list, err := s.ListJobs(ctx)
	if err != nil || len(list) != 2 || list[0].JobID != "a" || list[1].JobID != "b" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
}

func TestGeometryEpochs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, g := range []stateapi.DetectorGeometry{
		{Instrument: "SANS2D", Run: 20000, DetectorCount: 2, SpectrumCount: 73736},
		{Instrument: "SANS2D", Run: 0, DetectorCount: 2, SpectrumCount: 36872},
		{Instrument: "LOQ", Run: 0, DetectorCount: 2, SpectrumCount: 17792},
	} {
		if err := s.PutGeometry(ctx, g); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	cases := []struct {
		instrument string
		run        int
		spectra    int
	}{
		{"SANS2D", 1, 36872},
		{"sans2d", 19999, 36872},
		{"SANS2D", 20000, 73736},
		{"SANS2D", 99999, 73736},
		{"LOQ", 74044, 17792},
	}
	for _, tc := range cases {
		g, err := s.Geometry(ctx, tc.instrument, tc.run)
		if err != nil {
			t.Fatalf("%s %d: %v", tc.instrument, tc.run, err)
		}
		if g.SpectrumCount != tc.spectra {
			t.Fatalf("%s %d: expected %d spectra, got %d", tc.instrument, tc.run, tc.spectra, g.SpectrumCount)
		}
	}
	if _, err := s.Geometry(ctx, "ZOOM", 1); !errors.Is(err, stateapi.ErrGeometryNotFound) {
		t.Fatalf("expected ErrGeometryNotFound, got %v", err)
	}
	if err := s.PutGeometry(ctx, stateapi.DetectorGeometry{Instrument: "SANS2D", Run: 20000, SpectrumCount: 1}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if g, _ := s.Geometry(ctx, "SANS2D", 20000); g.SpectrumCount != 1 {
		t.Fatalf("expected replaced epoch, got %+v", g)
	}
	if err := s.PutGeometry(ctx, stateapi.DetectorGeometry{Instrument: "SANS2D", Run: -1}); err == nil {
		t.Fatalf("expected negative run error")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.SaveJob(ctx, stateapi.JobRecord{JobID: "j", Properties: map[string]string{"k": "v"}})
	_ = s.PutGeometry(ctx, stateapi.DetectorGeometry{Instrument: "LARMOR", Run: 5, Detectors: []string{"DetectorBench"}})
	_ = s.PutGeometry(ctx, stateapi.DetectorGeometry{Instrument: "LARMOR", Run: 1})

	other := NewStore()
	other.ImportState(s.ExportState())
	if got, err := other.LoadJob(ctx, "j"); err != nil || got.Properties["k"] != "v" {
		t.Fatalf("job not restored: %+v %v", got, err)
	}
	if g, err := other.Geometry(ctx, "LARMOR", 7); err != nil || g.Run != 5 || len(g.Detectors) != 1 {
		t.Fatalf("geometry not restored: %+v %v", g, err)
	}
	if g, err := other.Geometry(ctx, "LARMOR", 2); err != nil || g.Run != 1 {
		t.Fatalf("epoch order lost: %+v %v", g, err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStore()
	if err := s.SaveJob(ctx, stateapi.JobRecord{JobID: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if _, err := s.Geometry(ctx, "LOQ", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
