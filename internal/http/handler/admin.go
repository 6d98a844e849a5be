package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/http/dto"
	"lumen.app/studio/internal/service"
)

const defaultStatsWindow = 24 * time.Hour

type AdminHandler struct {
	admin service.AdminService
}

func NewAdminHandler(admin service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Stats accepts ?since= as a Go duration (24h, 90m) up to 90 days.
func (h *AdminHandler) Stats(c *gin.Context) {
	window := defaultStatsWindow
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > service.MaxStatsWindow {
			badRequest(c, "invalid since window", err)
			return
		}
		window = d
	}

	stats, err := h.admin.Stats(c.Request.Context(), window)
	if err != nil {
		respondError(c, err, "failed to load stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *AdminHandler) ListGenerations(c *gin.Context) {
	var query dto.ListGenerationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query parameters", err)
		return
	}

	page, err := h.admin.ListGenerations(c.Request.Context(), query.ToFilter())
	if err != nil {
		respondError(c, err, "failed to list generations")
		return
	}

	c.JSON(http.StatusOK, dto.ToAdminListGenerationsResponse(page))
}

func (h *AdminHandler) RetryGeneration(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{GenerationID: &id})

	g, err := h.admin.RetryGeneration(ctx, id)
	if err != nil {
		respondError(c, err, "failed to retry generation")
		return
	}

	c.JSON(http.StatusAccepted, dto.ToAdminGenerationResponse(g))
}

func (h *AdminHandler) Cleanup(c *gin.Context) {
	report, err := h.admin.Cleanup(c.Request.Context())
	if err != nil {
		respondError(c, err, "cleanup failed")
		return
	}

	c.JSON(http.StatusOK, report)
}
