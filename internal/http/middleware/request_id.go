package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lumen.app/studio/common/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID accepts a caller supplied id of sane length or mints a uuid.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), logger.LogFields{
			RequestID: &id,
		}))
		c.Next()
	}
}
