package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/handler"
)

func NotificationRouter(rg *gin.RouterGroup, h *handler.NotificationHandler) {
	rg.GET("", h.List)
	rg.POST("/read-all", h.MarkAllRead)
	rg.POST("/:id/read", h.MarkRead)
}
