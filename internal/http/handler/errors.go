package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lumen.app/studio/internal/service"
)

// respondError maps service errors to fixed response messages. Nothing from
// the request is ever copied into the body.
func respondError(c *gin.Context, err error, fallback string) {
	ctx := c.Request.Context()

	var validation *service.ValidationError
	var rateLimit *service.RateLimitError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"field":   validation.Field,
			"message": validation.Message,
		})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &rateLimit):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rateLimit.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": service.ErrRateLimited.Error()})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": service.ErrRateLimited.Error()})
	case errors.Is(err, service.ErrInFlightLimit):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": service.ErrInFlightLimit.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrInvalidTransition.Error()})
	case errors.Is(err, service.ErrRetryLimit):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrRetryLimit.Error()})
	case errors.Is(err, service.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrNotRetryable.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, service.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrUnavailable.Error()})
	default:
		slog.ErrorContext(ctx, fallback, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func badRequest(c *gin.Context, message string, err error) {
	slog.WarnContext(c.Request.Context(), message, "error", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

// parseID rejects anything but a positive decimal id.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return id, true
}
