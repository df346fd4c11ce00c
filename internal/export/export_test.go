package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reductioncore/internal/blob"
	"reductioncore/internal/infra/persistence/memory"
	"reductioncore/internal/state"
	"reductioncore/internal/telemetry"
	"reductioncore/pkg/stateapi"
)

func buildLOQ(t *testing.T) *state.AllStates {
	t.Helper()
	d := state.NewDirector(state.WithGeometry(state.NominalGeometry()))
	require.NoError(t, d.Select(state.FacilityISIS, "LOQ"))
	require.NoError(t, d.Apply([]state.Input{
		{Stage: stateapi.StageData, Field: "sample", Value: "LOQ74044"},
		{Stage: stateapi.StageMask, Field: "spectra", Value: []int{1, 2}},
		{Stage: stateapi.StageWavelength, Field: "low", Value: 2.2},
		{Stage: stateapi.StageWavelength, Field: "high", Value: 10.0},
		{Stage: stateapi.StageWavelength, Field: "step", Value: 0.035},
		{Stage: stateapi.StageWavelength, Field: "step_type", Value: "log"},
		{Stage: stateapi.StageSave, Field: "formats", Value: []string{"nxcansas"}},
	}))
	all, report := d.BuildAll(context.Background())
	require.True(t, report.OK(), "issues: %v", report.Issues())
	return all
}

func newService(t *testing.T, opts ...Option) (*Service, blob.Store, *memory.Store) {
	t.Helper()
	blobs := blob.NewMemory()
	archive := memory.NewStore()
	svc, err := New(blobs, archive, opts...)
	require.NoError(t, err)
	return svc, blobs, archive
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	metrics := telemetry.NewExpvarRecorder("")
	svc, blobs, _ := newService(t, WithClock(func() time.Time { return fixed }), WithMetrics(metrics))
	all := buildLOQ(t)

	job, err := svc.Export(ctx, "", "LOQ transmission", all)
	require.NoError(t, err)
	_, err = uuid.Parse(job.JobID)
	require.NoError(t, err, "job id should be a uuid")
	assert.Equal(t, fixed, job.CreatedAt)
	assert.Equal(t, BlobKey(job.JobID), job.BlobKey)
	assert.Equal(t, "LOQ", job.Properties["data."+state.InstrumentKey])

	info, err := blobs.Head(ctx, job.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, ContentType, info.ContentType)
	assert.Equal(t, job.JobID, info.Metadata["job"])

	restored, got, err := svc.Import(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	for _, stage := range all.Stages() {
		want, _ := all.Record(stage)
		have, ok := restored.Record(stage)
		require.True(t, ok, stage)
		assert.True(t, want.Equal(have), "stage %s differs", stage)
	}

	fromBlob, _, err := svc.ImportBlob(ctx, job.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, restored.Len(), fromBlob.Len())

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, job.JobID, list[0].JobID)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Results["export"]["success"])
	assert.Equal(t, int64(2), snap.Results["import"]["success"])
}

func TestExportDuplicateJobRemovesBlob(t *testing.T) {
	ctx := context.Background()
	svc, blobs, archive := newService(t)
	require.NoError(t, archive.SaveJob(ctx, stateapi.JobRecord{JobID: "taken"}))

	_, err := svc.Export(ctx, "taken", "dup", buildLOQ(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stateapi.ErrJobExists), "got %v", err)
	_, err = blobs.Head(ctx, BlobKey("taken"))
	assert.True(t, errors.Is(err, blob.ErrNotFound), "blob should be removed, got %v", err)
}

func TestImportDetectsTamperedBlob(t *testing.T) {
	ctx := context.Background()
	svc, blobs, _ := newService(t)
	job, err := svc.Export(ctx, "j1", "", buildLOQ(t))
	require.NoError(t, err)

	_, err = blobs.Delete(ctx, job.BlobKey)
	require.NoError(t, err)
	_, err = blobs.Put(ctx, job.BlobKey, bytes.NewBufferString(`{"job_id":"j1","properties":{"wavelength.wavelength_low":"3"}}`), blob.PutOptions{})
	require.NoError(t, err)
	_, _, err = svc.Import(ctx, "j1")
	assert.True(t, errors.Is(err, ErrMismatch), "got %v", err)
}

func TestImportBlobRejectsBadPayloads(t *testing.T) {
	ctx := context.Background()
	svc, blobs, _ := newService(t)
	_, err := blobs.Put(ctx, "bad.json", bytes.NewBufferString("not json"), blob.PutOptions{})
	require.NoError(t, err)
	_, _, err = svc.ImportBlob(ctx, "bad.json")
	var serr *stateapi.SerializationError
	require.ErrorAs(t, err, &serr)

	_, err = blobs.Put(ctx, "unknown.json", bytes.NewBufferString(`{"properties":{"nowhere.x":"1"}}`), blob.PutOptions{})
	require.NoError(t, err)
	_, _, err = svc.ImportBlob(ctx, "unknown.json")
	require.ErrorAs(t, err, &serr)

	_, _, err = svc.ImportBlob(ctx, "missing.json")
	assert.True(t, errors.Is(err, blob.ErrNotFound), "got %v", err)
}

func TestServiceWithSingleStore(t *testing.T) {
	ctx := context.Background()
	_, err := New(nil, nil)
	require.Error(t, err)

	blobOnly, err := New(blob.NewMemory(), nil)
	require.NoError(t, err)
	job, err := blobOnly.Export(ctx, "b1", "", buildLOQ(t))
	require.NoError(t, err)
	_, _, err = blobOnly.Import(ctx, job.JobID)
	require.NoError(t, err)
	_, err = blobOnly.List(ctx)
	require.Error(t, err)

	archiveOnly, err := New(nil, memory.NewStore())
	require.NoError(t, err)
	job, err = archiveOnly.Export(ctx, "a1", "", buildLOQ(t))
	require.NoError(t, err)
	assert.Empty(t, job.BlobKey)
	_, _, err = archiveOnly.Import(ctx, "a1")
	require.NoError(t, err)
	_, _, err = archiveOnly.ImportBlob(ctx, "x")
	require.Error(t, err)
	_, err = archiveOnly.Export(ctx, "", "", nil)
	require.Error(t, err)
}
