package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	t.Setenv(EnvDriver, "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}

	t.Setenv(EnvDriver, "fs")
	t.Setenv(EnvFSRoot, t.TempDir())
	store, err = Open(context.Background())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if _, err := store.Put(context.Background(), "exports/a.json", bytes.NewBufferString("{}"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(context.Background(), "exports/a.json", bytes.NewBufferString("{}"), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	t.Setenv(EnvDriver, "tape")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestS3ConfigFromEnv(t *testing.T) {
	t.Setenv(EnvS3Bucket, "")
	if _, err := S3ConfigFromEnv(); err == nil {
		t.Fatalf("expected bucket error")
	}
	t.Setenv(EnvS3Bucket, "reductions")
	t.Setenv(EnvS3PathStyle, "TRUE")
	t.Setenv(EnvS3Prefix, "isis/")
	cfg, err := S3ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Bucket != "reductions" || cfg.Region != defaultS3Region || !cfg.PathStyle || cfg.Prefix != "isis/" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
