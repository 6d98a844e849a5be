package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/handler"
)

func GenerationRouter(rg *gin.RouterGroup, h *handler.GenerationHandler, events *handler.EventsHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/events", events.Stream)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/cancel", h.Cancel)
	rg.POST("/:id/retry", h.Retry)
	rg.POST("/:id/sync", h.Sync)
}
