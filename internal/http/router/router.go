package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/auth"
	"lumen.app/studio/internal/http/handler"
	"lumen.app/studio/internal/http/handler/webhook"
	"lumen.app/studio/internal/http/middleware"
	"lumen.app/studio/internal/model"
	"lumen.app/studio/internal/queue"
	"lumen.app/studio/internal/service"
)

// Services is the part of *service.Services the HTTP layer uses.
type Services interface {
	Generations() service.GenerationService
	Notifications() service.NotificationService
	Webhooks() service.WebhookService
	Admin() service.AdminService
	Prompts() service.PromptService
}

type RouterConfig struct {
	Verifier         auth.TokenVerifier
	Status           queue.StatusReader
	EnabledProviders []model.Provider
	AdminAPIKey      string
	ReadinessChecks  []handler.ReadinessCheck
	// LocalMediaDir is served under /media when storage is on local disk.
	LocalMediaDir string
	SSEBlock      time.Duration
}

func SetupRoutes(router *gin.Engine, services Services, cfg RouterConfig) {
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	healthHandler := handler.NewHealthHandler(cfg.ReadinessChecks...)
	router.GET("/health", healthHandler.Live)
	router.GET("/health/ready", healthHandler.Ready)

	if cfg.LocalMediaDir != "" {
		router.Static("/media", cfg.LocalMediaDir)
	}

	api := router.Group("/api")
	{
		modelHandler := handler.NewModelHandler(cfg.EnabledProviders)
		api.GET("/models", modelHandler.List)

		webhookHandler := webhook.NewProviderWebhookHandler(services.Webhooks())
		WebhookRouter(api.Group("/webhooks"), webhookHandler)

		authed := api.Group("", middleware.RequireAuth(cfg.Verifier))

		generationHandler := handler.NewGenerationHandler(services.Generations())
		eventsHandler := handler.NewEventsHandler(cfg.Status, cfg.SSEBlock)
		GenerationRouter(authed.Group("/generations"), generationHandler, eventsHandler)

		notificationHandler := handler.NewNotificationHandler(services.Notifications())
		NotificationRouter(authed.Group("/notifications"), notificationHandler)

		promptHandler := handler.NewPromptHandler(services.Prompts())
		PromptRouter(authed.Group("/prompts"), promptHandler)

		adminHandler := handler.NewAdminHandler(services.Admin())
		AdminRouter(api.Group("/admin", middleware.RequireAdminAPIKey(cfg.AdminAPIKey)), adminHandler)
	}
}
