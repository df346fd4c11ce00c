// Package persistence opens the configured job archive and geometry catalog.
package persistence

import (
	"context"
	"fmt"
	"os"
	"strings"

	"reductioncore/internal/infra/persistence/memory"
	"reductioncore/internal/infra/persistence/postgres"
	"reductioncore/internal/infra/persistence/sqlite"
	"reductioncore/pkg/stateapi"
)

// Driver names an archive backend.
type Driver string

// Archive drivers.
const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Environment variables read by Open.
const (
	EnvDriver = "REDUCTION_ARCHIVE_DRIVER"
	EnvDSN    = "REDUCTION_ARCHIVE_DSN"
)

// Store is an archive that also serves detector geometry.
type Store interface {
	stateapi.Archive
	stateapi.GeometryCatalog
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// Config selects and addresses a backend. DSN is a file path for sqlite and
// a connection string for postgres.
type Config struct {
	Driver Driver
	DSN    string
}

// ConfigFromEnv reads REDUCTION_ARCHIVE_DRIVER (default sqlite) and
// REDUCTION_ARCHIVE_DSN.
func ConfigFromEnv() Config {
	d := Driver(strings.ToLower(os.Getenv(EnvDriver)))
	if d == "" {
		d = DriverSQLite
	}
	return Config{Driver: d, DSN: os.Getenv(EnvDSN)}
}

// Open constructs the backend named by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		return memoryStore{memory.NewStore()}, nil
	case DriverSQLite, "":
		return sqlite.NewStore(ctx, cfg.DSN)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// Seed loads geometries into catalog.
func Seed(ctx context.Context, catalog stateapi.GeometryCatalog, geometries []stateapi.DetectorGeometry) error {
	for _, g := range geometries {
		if err := catalog.PutGeometry(ctx, g); err != nil {
			return fmt.Errorf("seed %s run %d: %w", g.Instrument, g.Run, err)
		}
	}
	return nil
}
