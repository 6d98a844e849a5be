package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/dto"
	"lumen.app/studio/internal/service"
)

type PromptHandler struct {
	prompts service.PromptService
}

func NewPromptHandler(prompts service.PromptService) *PromptHandler {
	return &PromptHandler{prompts: prompts}
}

func (h *PromptHandler) Enhance(c *gin.Context) {
	var req dto.EnhancePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	out, err := h.prompts.Enhance(c.Request.Context(), service.EnhanceInput{
		Prompt:    req.Prompt,
		MediaType: req.MediaType,
	})
	if err != nil {
		respondError(c, err, "failed to enhance prompt")
		return
	}

	c.JSON(http.StatusOK, out)
}
