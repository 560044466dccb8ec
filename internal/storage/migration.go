package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLock ensures only one migration can run at a time
var migrationLock sync.Mutex

// Migrate applies all pending database migrations
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	migrationLock.Lock()
	defer migrationLock.Unlock()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	sourceInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer sourceInstance.Close()

	// The driver's Close would close s.db, so the migrate instance is
	// deliberately left unclosed.
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceInstance, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// MigrationStatus reports the schema version recorded by the migrator.
type MigrationStatus struct {
	Version int64
	Dirty   bool
}

// GetMigrationStatus returns the current migration status
func (s *SQLiteStorage) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	var status MigrationStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&status.Version, &status.Dirty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &status, nil
		}
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	return &status, nil
}
