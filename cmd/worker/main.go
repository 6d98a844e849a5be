package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lumen.app/studio/common/id"
	"lumen.app/studio/common/logger"
	"lumen.app/studio/common/otel"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/app"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "studio worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// different node id than the server
	if err := id.Init(id.NodeWorker); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	consumer, err := queue.NewRedisConsumer(ctx, rt.Redis, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: 2 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, rt.Services.Runner(), worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(rt.Redis, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   cfg.Pipeline.ReclaimMinIdle,
		Interval:  cfg.Pipeline.ReclaimInterval,
		BatchSize: 10,
	}, consumer, w.HandleMessage)

	poller := rt.Services.Poller()
	pollLoop := worker.NewPeriodic("poller", cfg.Pipeline.PollInterval, func(ctx context.Context) error {
		n, err := poller.ScheduleSyncs(ctx)
		if n > 0 {
			slog.InfoContext(ctx, "scheduled status syncs", "count", n)
		}
		return err
	})

	janitor := rt.Services.Janitor()
	janitorLoop := worker.NewPeriodic("janitor", cfg.Janitor.Interval, func(ctx context.Context) error {
		report, err := janitor.RunOnce(ctx)
		if report != nil {
			slog.InfoContext(ctx, "janitor pass finished", "report", report)
		}
		return err
	})

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "worker stopped with error", "error", err)
		}
	}()
	go func() { defer wg.Done(); reclaimer.Run(ctx) }()
	go func() { defer wg.Done(); pollLoop.Run(ctx) }()
	go func() { defer wg.Done(); janitorLoop.Run(ctx) }()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// background loops first, the worker may be mid-task
	reclaimer.Stop()
	pollLoop.Stop()
	janitorLoop.Stop()
	w.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-done:
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 _     _   _ __  __ _____ _   _  __        _____  ____  _  _______ ____
| |   | | | |  \/  | ____| \ | | \ \      / / _ \|  _ \| |/ / ____|  _ \
| |   | | | | |\/| |  _| |  \| |  \ \ /\ / / | | | |_) | ' /|  _| | |_) |
| |___| |_| | |  | | |___| |\  |   \ V  V /| |_| |  _ <| . \| |___|  _ <
|_____|\___/|_|  |_|_____|_| \_|    \_/\_/  \___/|_| \_\_|\_\_____|_| \_\
`
