package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reductioncore/internal/blob"
	"reductioncore/internal/infra/persistence"
	"reductioncore/internal/logging"
)

type harness struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T) (*harness, persistence.Store, blob.Store) {
	t.Helper()
	archive, err := persistence.Open(context.Background(), persistence.Config{Driver: persistence.DriverMemory})
	require.NoError(t, err)
	blobs := blob.NewMemory()
	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.app = newApp(h.stdout, h.stderr)
	h.app.logger = logging.Discard()
	h.app.openBlobs = func(context.Context) (blob.Store, error) { return blobs, nil }
	h.app.openArchive = func(context.Context) (persistence.Store, error) { return archive, nil }
	return h, archive, blobs
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.app.execute(context.Background(), args)
}

func fixture(name string) string { return filepath.Join("testdata", name) }

func TestValidate(t *testing.T) {
	h, _, _ := newHarness(t)
	require.Equal(t, exitOK, h.run("validate", fixture("sans2d.yaml")), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "ok: 10 stages")
	assert.Equal(t, int64(1), h.app.totals.Snapshot().Results["build_all"]["success"])

	require.Equal(t, exitRejected, h.run("validate", fixture("reversed.yaml")))
	assert.Contains(t, h.stdout.String(), "wavelength: FAILED")
	assert.NotContains(t, h.stdout.String(), "data: FAILED")

	require.Equal(t, exitError, h.run("validate", fixture("missing.yaml")))
	assert.Contains(t, h.stderr.String(), "error:")

	require.Equal(t, exitError, h.run("frobnicate"))
}

func TestShowFormats(t *testing.T) {
	h, _, _ := newHarness(t)
	require.Equal(t, exitOK, h.run("show", fixture("sans2d.yaml"), "--format", "json"), h.stderr.String())
	var props map[string]string
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &props))
	assert.Equal(t, "SANS2D", props["data.@instrument"])
	assert.Equal(t, "SANS2D00022048", props["data.sample_scatter"])

	require.Equal(t, exitOK, h.run("show", fixture("sans2d.yaml")))
	assert.Contains(t, h.stdout.String(), "wavelength.wavelength_low = 2\n")

	require.Equal(t, exitError, h.run("show", fixture("sans2d.yaml"), "--format", "xml"))
}

func TestPlanUsesDocumentSteps(t *testing.T) {
	h, _, _ := newHarness(t)
	require.Equal(t, exitOK, h.run("plan", fixture("sans2d.yaml")), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "planned 5 steps for job run-22048")
	assert.Contains(t, out, "(convert_to_q) on ISIS/SANS2D")
	assert.NotContains(t, out, "(mask)")
}

func TestExportImportList(t *testing.T) {
	h, archive, blobs := newHarness(t)
	require.Equal(t, exitOK, h.run("export", fixture("sans2d.yaml")), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "exported job run-22048")

	job, err := archive.LoadJob(context.Background(), "run-22048")
	require.NoError(t, err)
	assert.Equal(t, "SANS2D", job.Name)
	_, err = blobs.Head(context.Background(), job.BlobKey)
	require.NoError(t, err)

	require.Equal(t, exitError, h.run("export", fixture("sans2d.yaml")), "job ids are write-once")

	require.Equal(t, exitOK, h.run("import", "run-22048"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "save.@facility = ISIS")

	require.Equal(t, exitOK, h.run("import", job.BlobKey, "--format", "json"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), `"data.@instrument": "SANS2D"`)

	require.Equal(t, exitError, h.run("import", "nope"))

	require.Equal(t, exitOK, h.run("list"))
	assert.Contains(t, h.stdout.String(), "run-22048\t")
}

func TestArchiveGeometryAndMetrics(t *testing.T) {
	h, _, _ := newHarness(t)
	require.Equal(t, exitRejected, h.run("validate", "--archive-geometry", fixture("sans2d.yaml")))
	assert.Contains(t, h.stdout.String(), "DerivationFailed")

	require.Equal(t, exitOK, h.run("seed-geometry"))
	assert.Contains(t, h.stdout.String(), "seeded 4 instruments")

	require.Equal(t, exitOK, h.run("validate", "--archive-geometry", "--metrics", fixture("sans2d.yaml")), h.stdout.String())
	assert.Contains(t, h.stderr.String(), "reduction_core_operations_total")
}
