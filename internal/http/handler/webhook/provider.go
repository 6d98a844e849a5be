package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/service"
)

// maxBodyBytes bounds a provider callback; real payloads are a few KiB.
const maxBodyBytes = 1 << 20

type ProviderWebhookHandler struct {
	webhooks service.WebhookService
}

func NewProviderWebhookHandler(webhooks service.WebhookService) *ProviderWebhookHandler {
	return &ProviderWebhookHandler{webhooks: webhooks}
}

// HandleEvent accepts POST /api/webhooks/:provider?gid=&token=.
func (h *ProviderWebhookHandler) HandleEvent(c *gin.Context) {
	providerName := c.Param("provider")
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Component: "studio.http.webhook",
	})

	if c.Query("token") == "" || c.Query("gid") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing webhook token"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	err = h.webhooks.Handle(ctx, service.WebhookRequest{
		Provider:     providerName,
		GenerationID: c.Query("gid"),
		Token:        c.Query("token"),
		Header:       c.Request.Header,
		Body:         body,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, service.ErrUnauthorized):
		slog.WarnContext(ctx, "rejected provider webhook", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrValidation):
		slog.WarnContext(ctx, "invalid provider webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
	default:
		slog.ErrorContext(ctx, "failed to process provider webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
	}
}
