package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/http/dto"
	"lumen.app/studio/internal/http/middleware"
	"lumen.app/studio/internal/service"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type GenerationHandler struct {
	generations service.GenerationService
}

func NewGenerationHandler(generations service.GenerationService) *GenerationHandler {
	return &GenerationHandler{generations: generations}
}

func (h *GenerationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(ctx)

	var req dto.CreateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	result, err := h.generations.Create(ctx, userID, req.ToInput(c.GetHeader(IdempotencyKeyHeader)))
	if err != nil {
		respondError(c, err, "failed to create generation")
		return
	}

	status := http.StatusCreated
	if result.Duplicated {
		c.Header("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	c.JSON(status, dto.ToGenerationResponse(result.Generation))
}

func (h *GenerationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.ListGenerationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query parameters", err)
		return
	}

	page, err := h.generations.List(ctx, middleware.GetUserID(ctx), query.ToFilter())
	if err != nil {
		respondError(c, err, "failed to list generations")
		return
	}

	c.JSON(http.StatusOK, dto.ToListGenerationsResponse(page))
}

func (h *GenerationHandler) Get(c *gin.Context) {
	ctx, id, ok := h.scope(c)
	if !ok {
		return
	}

	g, err := h.generations.Get(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		respondError(c, err, "failed to get generation")
		return
	}

	c.JSON(http.StatusOK, dto.ToGenerationResponse(g))
}

func (h *GenerationHandler) Cancel(c *gin.Context) {
	ctx, id, ok := h.scope(c)
	if !ok {
		return
	}

	g, err := h.generations.Cancel(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		respondError(c, err, "failed to cancel generation")
		return
	}

	c.JSON(http.StatusOK, dto.ToGenerationResponse(g))
}

func (h *GenerationHandler) Retry(c *gin.Context) {
	ctx, id, ok := h.scope(c)
	if !ok {
		return
	}

	g, err := h.generations.Retry(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		respondError(c, err, "failed to retry generation")
		return
	}

	c.JSON(http.StatusAccepted, dto.ToGenerationResponse(g))
}

func (h *GenerationHandler) Sync(c *gin.Context) {
	ctx, id, ok := h.scope(c)
	if !ok {
		return
	}

	g, err := h.generations.SyncStatus(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		respondError(c, err, "failed to sync generation")
		return
	}

	c.JSON(http.StatusOK, dto.ToGenerationResponse(g))
}

func (h *GenerationHandler) Delete(c *gin.Context) {
	ctx, id, ok := h.scope(c)
	if !ok {
		return
	}

	if err := h.generations.Delete(ctx, middleware.GetUserID(ctx), id); err != nil {
		respondError(c, err, "failed to delete generation")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *GenerationHandler) scope(c *gin.Context) (context.Context, int64, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, 0, false
	}
	return logger.WithLogFields(c.Request.Context(), logger.LogFields{GenerationID: &id}), id, true
}
