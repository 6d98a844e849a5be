package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/http/dto"
	"lumen.app/studio/internal/http/middleware"
	"lumen.app/studio/internal/service"
)

type NotificationHandler struct {
	notifications service.NotificationService
}

func NewNotificationHandler(notifications service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.ListNotificationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query parameters", err)
		return
	}

	page, err := h.notifications.List(ctx, middleware.GetUserID(ctx), query.Unread, query.Cursor, query.Limit)
	if err != nil {
		respondError(c, err, "failed to list notifications")
		return
	}

	c.JSON(http.StatusOK, dto.ToListNotificationsResponse(page))
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(ctx, middleware.GetUserID(ctx), id); err != nil {
		respondError(c, err, "failed to mark notification read")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	ctx := c.Request.Context()

	n, err := h.notifications.MarkAllRead(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondError(c, err, "failed to mark notifications read")
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": n})
}
