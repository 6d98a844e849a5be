package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/handler"
)

func AdminRouter(rg *gin.RouterGroup, h *handler.AdminHandler) {
	generations := rg.Group("/generations")
	generations.GET("", h.ListGenerations)
	generations.GET("/stats", h.Stats)
	generations.POST("/cleanup", h.Cleanup)
	generations.POST("/:id/retry", h.RetryGeneration)
}
