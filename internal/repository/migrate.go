package repository

import (
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate brings the schema up to the latest embedded version.
func Migrate(db *database.DB, log zerolog.Logger) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read migrations")
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{MigrationsTable: "aforo_schema_migrations"})
	if err != nil {
		return classifyStoreError(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create migrate instance")
	}
	defer m.Close()

	err = m.Up()
	if stderrors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("Schema up to date")
		return nil
	}
	if err != nil {
		return classifyStoreError(err, "migration up failed")
	}

	version, dirty, err := m.Version()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to get migration version")
	}
	log.Info().
		Uint("version", version).
		Bool("dirty", dirty).
		Msg("Migrations completed")
	return nil
}
