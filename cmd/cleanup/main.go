// Command cleanup runs one janitor pass and exits; meant for cron.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lumen.app/studio/common/id"
	"lumen.app/studio/common/logger"
	"lumen.app/studio/common/otel"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeCleanup)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		return 1
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()
	logger.Setup(cfg)

	if err := id.Init(id.NodeCleanup); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		return 1
	}

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start", "error", err)
		return 1
	}
	defer rt.Close()

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "studio.cleanup"})
	report, err := rt.Services.Janitor().RunOnce(ctx)
	if report != nil {
		_ = json.NewEncoder(os.Stdout).Encode(report)
	}
	if err != nil {
		slog.ErrorContext(ctx, "cleanup failed", "error", err)
		return 1
	}
	if report.Errors > 0 {
		slog.WarnContext(ctx, "cleanup finished with row errors", "errors", report.Errors)
		return 1
	}

	slog.InfoContext(ctx, "cleanup finished", "report", report)
	return 0
}
