package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration in fsys.
// goose needs a *sql.DB, so the pool config is reopened through the pgx stdlib driver.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	return migrate(ctx, sqlDB, fsys)
}

func migrate(ctx context.Context, sqlDB *sql.DB, fsys fs.FS) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		slog.InfoContext(ctx, "migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration)
	}
	return nil
}

// MigrationStatus reports the applied state of every known migration.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) ([]*goose.MigrationStatus, error) {
	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return nil, fmt.Errorf("creating migration provider: %w", err)
	}
	return provider.Status(ctx)
}
