package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/handler/webhook"
)

func WebhookRouter(rg *gin.RouterGroup, h *webhook.ProviderWebhookHandler) {
	rg.POST("/:provider", h.HandleEvent)
}
