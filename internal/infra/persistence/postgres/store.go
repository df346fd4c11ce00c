// Package postgres persists the archive in Postgres through the pgx
// database/sql driver. Reads are served from a memory.Store hydrated on open;
// each write is upserted as a JSONB row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"reductioncore/internal/infra/persistence/memory"
	"reductioncore/pkg/stateapi"
)

var (
	_ stateapi.Archive         = (*Store)(nil)
	_ stateapi.GeometryCatalog = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when NewStore receives an empty DSN.
	DefaultDSN = "postgres://localhost/reduction?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reduction_jobs (
		job_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS detector_geometries (
		epoch_key TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
}

// Store is a Postgres-backed archive and geometry catalog.
type Store struct {
	*memory.Store
	db *sql.DB
	// mu serialises writers across the memory write, the row upsert and any
	// rollback.
	mu sync.Mutex
}

// NewStore connects, ensures the schema and hydrates the in-memory view.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	snap, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snap)
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snap memory.Snapshot
	err := scanPayloads(ctx, db, `SELECT job_id, payload FROM reduction_jobs`, func(payload []byte) error {
		var job stateapi.JobRecord
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		snap.Jobs = append(snap.Jobs, job)
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load jobs: %w", err)
	}
	err = scanPayloads(ctx, db, `SELECT epoch_key, payload FROM detector_geometries`, func(payload []byte) error {
		var g stateapi.DetectorGeometry
		if err := json.Unmarshal(payload, &g); err != nil {
			return err
		}
		snap.Geometries = append(snap.Geometries, g)
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load geometries: %w", err)
	}
	return snap, nil
}

func scanPayloads(ctx context.Context, db *sql.DB, query string, fn func([]byte) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return err
		}
		if len(payload) == 0 {
			continue
		}
		if err := fn(payload); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return rows.Err()
}

// upsert writes one row and returns the number of rows the statement
// affected. Callers hold s.mu.
func (s *Store) upsert(ctx context.Context, stmt, key string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	res, err := tx.ExecContext(ctx, stmt, key, data)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("upsert %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("upsert %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// SaveJob archives job. The job ID is checked against the hydrated view and
// again by the insert, which affects no row when another writer already
// holds the ID.
func (s *Store) SaveJob(ctx context.Context, job stateapi.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := s.Store.SaveJob(ctx, job); err != nil {
		return err
	}
	n, err := s.upsert(ctx, `INSERT INTO reduction_jobs(job_id,payload) VALUES($1,$2) ON CONFLICT(job_id) DO NOTHING`, job.JobID, job)
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: %s", stateapi.ErrJobExists, job.JobID)
	}
	if err != nil {
		s.ImportState(before)
	}
	return err
}

// PutGeometry records a geometry epoch.
func (s *Store) PutGeometry(ctx context.Context, g stateapi.DetectorGeometry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	if err := s.Store.PutGeometry(ctx, g); err != nil {
		return err
	}
	key := strings.ToUpper(g.Instrument) + "/" + strconv.Itoa(g.Run)
	_, err := s.upsert(ctx, `INSERT INTO detector_geometries(epoch_key,payload) VALUES($1,$2) ON CONFLICT(epoch_key) DO UPDATE SET payload=EXCLUDED.payload`, key, g)
	if err != nil {
		s.ImportState(before)
	}
	return err
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sql.Open function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
