// Package migrate applies the embedded schema (users, login_identities, audit_logs) with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"log/slog"

	"manifold/backend/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Direction is the migration direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts exactly "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Up, Down:
		return d, nil
	}
	return "", fmt.Errorf("direction must be up or down, got %q", s)
}

// Options controls a migration run.
type Options struct {
	Direction Direction
	// Steps limits the run to that many migrations; zero applies all of them.
	Steps int
	// Log receives golang-migrate's progress lines. Nil discards them.
	Log *slog.Logger
}

// Status is the schema version after a run. Version is zero when no migration is applied.
type Status struct {
	Version uint
	Dirty   bool
}

// Run migrates the database at dsn. A run with nothing to do is not an error.
func Run(dsn string, opts Options) (Status, error) {
	if dsn == "" {
		return Status{}, errors.New("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	if _, err := ParseDirection(string(opts.Direction)); err != nil {
		return Status{}, err
	}
	if opts.Steps < 0 {
		return Status{}, fmt.Errorf("steps must not be negative, got %d", opts.Steps)
	}

	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return Status{}, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return Status{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if opts.Log != nil {
		m.Log = logAdapter{opts.Log}
	}

	if err := apply(m, opts); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Status{}, fmt.Errorf("migrate %s: %w", opts.Direction, err)
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}

func apply(m *migrate.Migrate, opts Options) error {
	switch {
	case opts.Steps > 0 && opts.Direction == Down:
		return m.Steps(-opts.Steps)
	case opts.Steps > 0:
		return m.Steps(opts.Steps)
	case opts.Direction == Down:
		return m.Down()
	default:
		return m.Up()
	}
}

// logAdapter satisfies migrate.Logger.
type logAdapter struct{ log *slog.Logger }

func (a logAdapter) Printf(format string, v ...any) {
	a.log.Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (a logAdapter) Verbose() bool { return false }
