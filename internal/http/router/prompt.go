package router

import (
	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/handler"
)

func PromptRouter(rg *gin.RouterGroup, h *handler.PromptHandler) {
	rg.POST("/enhance", h.Enhance)
}
