package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type migrator struct {
	db *sqlx.DB

	logger *slog.Logger
}

func NewDatabaseMigrator(db *sqlx.DB, logger *slog.Logger) *migrator {
	return &migrator{
		db:     db,
		logger: logger,
	}
}

// Migrate brings the schema up to date. schemaName is ignored for sqlite.
func (m *migrator) Migrate(ctx context.Context, schemaName string) error {
	switch m.db.DriverName() {
	case "postgres":
		return m.migratePostgres(ctx, schemaName)
	case SQLITE_DRIVER_NAME:
		return m.migrateSQLite(ctx)
	}
	return fmt.Errorf("migrate: unsupported driver %s", m.db.DriverName())
}

func (m *migrator) migratePostgres(ctx context.Context, schemaName string) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrate: failed to connect to db: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return fmt.Errorf("migrate: failed to create schema: %w", err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		return fmt.Errorf("migrate: failed to set search path: %w", err)
	}

	dbDriver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName: DB_NAME,
		SchemaName:   schemaName,
	})
	if err != nil {
		return fmt.Errorf("migrate: failed to create postgres driver: %w", err)
	}

	migratorInstance, err := m.newInstance("postgres", dbDriver)
	if err != nil {
		return err
	}
	defer migratorInstance.Close()

	return m.up(ctx, migratorInstance)
}

func (m *migrator) migrateSQLite(ctx context.Context) error {
	dbDriver, err := sqlite.WithInstance(m.db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate: failed to create sqlite driver: %w", err)
	}

	migratorInstance, err := m.newInstance("sqlite", dbDriver)
	if err != nil {
		return err
	}
	// Closing the instance would close the shared *sql.DB

	return m.up(ctx, migratorInstance)
}

func (m *migrator) newInstance(databaseName string, dbDriver migratedb.Driver) (*migrate.Migrate, error) {
	migrationSource, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to create driver from embedded migrations: %w", err)
	}

	migratorInstance, err := migrate.NewWithInstance("iofs", migrationSource, databaseName, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to create migration instance: %w", err)
	}
	return migratorInstance, nil
}

func (m *migrator) up(ctx context.Context, migratorInstance *migrate.Migrate) error {
	m.logger.InfoContext(ctx, "Starting migrations...", "driver", m.db.DriverName())
	if err := migratorInstance.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.InfoContext(ctx, "No migrations to run.")
		} else {
			return fmt.Errorf("migrate: failed to migrate: %w", err)
		}
	}
	m.logger.InfoContext(ctx, "Migrations completed successfully.")

	return nil
}
