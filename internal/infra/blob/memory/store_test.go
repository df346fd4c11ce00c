package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"reductioncore/internal/blob/core"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"job": "j1"}
	info, err := s.Put(ctx, "jobs/j1/state.json", bytes.NewBufferString("{}"), core.PutOptions{Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["job"] = "mutated"
	info.Metadata["job"] = "mutated"
	head, err := s.Head(ctx, "jobs/j1/state.json")
	if err != nil || head.Metadata["job"] != "j1" || head.ETag == "" {
		t.Fatalf("metadata not isolated: %+v err=%v", head, err)
	}
	if _, err := s.Put(ctx, "jobs/j1/state.json", bytes.NewBufferString("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, " ", bytes.NewBufferString("{}"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	_, rc, err := s.Get(ctx, "jobs/j1/state.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "{}" {
		t.Fatalf("unexpected body %q", b)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, _ := s.List(ctx, "jobs/")
	if len(list) != 1 {
		t.Fatalf("expected one listed blob, got %d", len(list))
	}
	if ok, _ := s.Delete(ctx, "jobs/j1/state.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "jobs/j1/state.json"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
}

func TestMemoryStoreConcurrentPut(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(context.Background(), "same", bytes.NewBufferString("x"), core.PutOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, core.ErrExists) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
