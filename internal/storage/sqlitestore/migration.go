package sqlitestore

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

//go:embed migrations/*
var migrationFiles embed.FS

// Migrate brings the database file at path up to the latest schema
// version, following the same embed+iofs+golang-migrate shape the
// teacher's repository package uses for its own schema.
func Migrate(path string) error {
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("sqlitestore: load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite3://%s?_foreign_keys=on", path))
	if err != nil {
		return fmt.Errorf("sqlitestore: init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlitestore: migrate up: %w", err)
	}
	cclog.Infof("sqlitestore: schema at %s is up to date", path)
	return nil
}
