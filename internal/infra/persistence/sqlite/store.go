// Package sqlite persists the archive to a single SQLite file. State lives in
// a memory.Store and is snapshotted as JSON buckets after each write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"reductioncore/internal/infra/persistence/memory"
	"reductioncore/pkg/stateapi"
)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "reduction-archive.db"

const (
	bucketJobs       = "jobs"
	bucketGeometries = "geometries"
)

// Store is a snapshotting SQLite-backed archive and geometry catalog.
type Store struct {
	*memory.Store
	db *sql.DB
	// mu serialises writers across the memory write, the snapshot and any
	// rollback.
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the archive.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS archive_state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive_state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM archive_state`)
	if err != nil {
		return fmt.Errorf("select archive_state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snap memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var target any
		switch bucket {
		case bucketJobs:
			target = &snap.Jobs
		case bucketGeometries:
			target = &snap.Geometries
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.ImportState(snap)
	return nil
}

// persist snapshots the memory view. Callers hold s.mu.
func (s *Store) persist(ctx context.Context) (retErr error) {
	snap := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for bucket, v := range map[string]any{bucketJobs: snap.Jobs, bucketGeometries: snap.Geometries} {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO archive_state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

// SaveJob archives job and snapshots the archive.
func (s *Store) SaveJob(ctx context.Context, job stateapi.JobRecord) error {
	return s.write(ctx, func() error { return s.Store.SaveJob(ctx, job) })
}

// PutGeometry records a geometry epoch and snapshots the archive.
func (s *Store) PutGeometry(ctx context.Context, g stateapi.DetectorGeometry) error {
	return s.write(ctx, func() error { return s.Store.PutGeometry(ctx, g) })
}

// write applies mutate to the memory view and persists it, restoring the
// previous view when the snapshot cannot be written.
func (s *Store) write(ctx context.Context, mutate func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := mutate(); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
