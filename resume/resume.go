// Package resume opens the session store that lets interrupted multipart
// uploads continue where they stopped. The in-memory store lives here; the
// durable drivers are in the sqlite and postgres subpackages and Open
// dispatches between all three.
package resume

import (
	"context"
	"fmt"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/resume/postgres"
	"github.com/quaydock/lighter/resume/sqlite"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and parameterizes a session store.
type Config struct {
	// Driver is one of memory, sqlite, postgres. Empty means memory.
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=memory sqlite postgres"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// Open builds the session store for cfg.
func Open(ctx context.Context, cfg Config) (lighter.SessionStore, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("resume: sqlite driver needs a dsn: %w", lighter.ErrConfig)
		}
		return sqlite.New(ctx, cfg.DSN)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("resume: postgres driver needs a dsn: %w", lighter.ErrConfig)
		}
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("resume: unsupported driver %q: %w", cfg.Driver, lighter.ErrConfig)
	}
}
