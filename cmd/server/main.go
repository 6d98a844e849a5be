package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"lumen.app/studio/common/id"
	"lumen.app/studio/common/logger"
	"lumen.app/studio/common/otel"
	"lumen.app/studio/core/config"
	"lumen.app/studio/internal/app"
	"lumen.app/studio/internal/auth"
	"lumen.app/studio/internal/http/handler"
	"lumen.app/studio/internal/http/middleware"
	httprouter "lumen.app/studio/internal/http/router"
	"lumen.app/studio/migrations"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// otel before logger: the otelslog bridge needs the provider
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// logger is not set up yet
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "studio server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(id.NodeServer); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if cfg.AutoMigrate {
		if err := rt.DB.Migrate(ctx, migrations.FS); err != nil {
			slog.ErrorContext(ctx, "failed to apply migrations", "error", err)
			os.Exit(1)
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, rt)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// no WriteTimeout: the SSE status stream is long-lived
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, rt *app.Runtime) *gin.Engine {
	router := gin.New()

	// otel span first so recovery and request logs carry the trace
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, rt.Services, httprouter.RouterConfig{
		Verifier:         auth.NewSupabaseVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
		Status:           rt.Status,
		EnabledProviders: rt.Providers.Names(),
		AdminAPIKey:      cfg.AdminAPIKey,
		LocalMediaDir:    rt.LocalMediaDir,
		ReadinessChecks: []handler.ReadinessCheck{
			{Name: "postgres", Check: rt.DB.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }},
		},
	})

	return router
}

const banner = `
 _     _   _ __  __ _____ _   _   ____ _____ _   _ ____ ___ ___
| |   | | | |  \/  | ____| \ | | / ___|_   _| | | |  _ \_ _/ _ \
| |   | | | | |\/| |  _| |  \| | \___ \ | | | | | | | | | | | | |
| |___| |_| | |  | | |___| |\  |  ___) || | | |_| | |_| | | |_| |
|_____|\___/|_|  |_|_____|_| \_| |____/ |_|  \___/|____/___\___/   server
`
