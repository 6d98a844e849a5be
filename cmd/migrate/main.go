// Command migrate applies the embedded goose migrations.
//
//	migrate           apply pending migrations
//	migrate status    print the state of every migration
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/core/config"
	"lumen.app/studio/core/db"
	"lumen.app/studio/migrations"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeMigrate)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if len(os.Args) > 1 && os.Args[1] == "status" {
		statuses, err := database.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			slog.ErrorContext(ctx, "failed to read migration status", "error", err)
			os.Exit(1)
		}
		for _, s := range statuses {
			fmt.Printf("%-8s %5d  %s\n", s.State, s.Source.Version, s.Source.Path)
		}
		return
	}

	if err := database.Migrate(ctx, migrations.FS); err != nil {
		slog.ErrorContext(ctx, "migration failed", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "migrations up to date")
}
