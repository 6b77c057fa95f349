package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/model"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded SQL migrations to postgres
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

// NewMigrator prepares a migrator over an open lib/pq connection
func NewMigrator(db *DB, dbName string, log *zap.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    dbName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &Migrator{m: m, log: log}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Info("no migrations to run")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, _, _ := m.m.Version()
	m.log.Info("migrations applied", zap.Uint("version", version))
	return nil
}

// Down rolls back one migration
func (m *Migrator) Down() error {
	if err := m.m.Steps(-1); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	m.log.Info("rolled back one migration")
	return nil
}

// Version returns the current schema version
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// AutoMigrate creates the schema through gorm. Used for sqlite, where the
// SQL migrations (pgvector, jsonb) do not apply.
func AutoMigrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	}
	return db.AutoMigrate(&model.Recipe{})
}
