package db

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"clinicbooking/pkg/config"
)

// MigrateConfig applies all pending up migrations found at migrationsPath (e.g. file://migrations).
func MigrateConfig(migrationsPath string, cfg config.Config) error {
	return withMigrator(migrationsPath, cfg, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// RollbackConfig reverts the last n applied migrations.
func RollbackConfig(migrationsPath string, cfg config.Config, n int) error {
	if n <= 0 {
		n = 1
	}
	return withMigrator(migrationsPath, cfg, func(m *migrate.Migrate) error {
		return m.Steps(-n)
	})
}

func withMigrator(migrationsPath string, cfg config.Config, fn func(m *migrate.Migrate) error) error {
	m, err := migrate.New(migrationsPath, migrationConnString(cfg))
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
