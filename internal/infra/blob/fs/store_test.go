package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"reductioncore/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	body := []byte(`{"@facility":"ISIS"}`)
	info, err := store.Put(ctx, "jobs/j1/state.json", bytes.NewReader(body), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"instrument": "SANS2D"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256(body)
	if info.ETag != hex.EncodeToString(sum[:]) || info.Size != int64(len(body)) {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "jobs/j1/state.json", bytes.NewReader(body), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "jobs/j1/state.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, body) || got.Metadata["instrument"] != "SANS2D" || got.ContentType != "application/json" {
		t.Fatalf("unexpected get %+v %s", got, data)
	}

	if _, err := store.Put(ctx, "jobs/j2/state.json", bytes.NewBufferString("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put j2: %v", err)
	}
	list, err := store.List(ctx, "jobs/j1/")
	if err != nil || len(list) != 1 || list[0].Key != "jobs/j1/state.json" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 || all[0].Key > all[1].Key {
		t.Fatalf("expected two sorted keys, got %+v", all)
	}

	existed, err := store.Delete(ctx, "jobs/j1/state.json")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "jobs/j1/state.json")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
	if _, err := store.Head(ctx, "jobs/j1/state.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "jobs/j1/state.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b", "x.meta"} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, err := New(""); err == nil {
		t.Fatalf("expected empty root error")
	}
}

func TestStoreCorruptSidecar(t *testing.T) {
	root := t.TempDir()
	store, _ := New(root)
	if _, err := store.Put(context.Background(), "a.json", bytes.NewBufferString("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.json.meta"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Head(context.Background(), "a.json"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestStoreHonoursCancellation(t *testing.T) {
	store, _ := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "a", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
