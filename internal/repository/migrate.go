package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

// migrations holds one directory of versioned scripts per dialect.
//
//go:embed migrations
var migrations embed.FS

// Migrate applies the pending migrations for the connected dialect. Applied
// versions are recorded in schema_migrations, so running it again is a no-op.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	dialect := Dialect(db.DriverName())

	var driver database.Driver
	switch dialect {
	case DialectPostgres:
		// A dedicated connection keeps the advisory lock and the migration on the same session.
		conn, err := db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire migration connection: %w", err)
		}
		defer conn.Close()

		driver, err = migratepostgres.WithConnection(ctx, conn, &migratepostgres.Config{})
		if err != nil {
			return fmt.Errorf("failed to create postgres migration driver: %w", err)
		}

	case DialectSQLite:
		var err error
		driver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}

	default:
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}

	source, err := iofs.New(migrations, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}

		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
