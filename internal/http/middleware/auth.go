package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lumen.app/studio/common/logger"
	"lumen.app/studio/internal/auth"
)

type contextKey string

const identityContextKey contextKey = "identity"

// RequireAuth rejects requests without a valid Supabase bearer token.
func RequireAuth(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		ctx := c.Request.Context()
		identity, err := verifier.Verify(ctx, token)
		if err != nil {
			slog.DebugContext(ctx, "rejected access token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		ctx = context.WithValue(ctx, identityContextKey, identity)
		ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: logger.Ptr(identity.UserID.String())})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireAdminAPIKey guards operator routes with a static key sent as
// X-Admin-API-Key or a bearer token. An empty key disables the routes.
func RequireAdminAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin api not configured"})
			return
		}

		provided := c.GetHeader("X-Admin-API-Key")
		if provided == "" {
			provided = bearerToken(c.Request)
		}
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin api key"})
			return
		}

		c.Request = c.Request.WithContext(logger.WithLogFields(c.Request.Context(), logger.LogFields{
			Component: "studio.http.admin",
		}))
		c.Next()
	}
}

func GetIdentity(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityContextKey).(*auth.Identity)
	return identity
}

// GetUserID returns uuid.Nil when the request was not authenticated.
func GetUserID(ctx context.Context) uuid.UUID {
	if identity := GetIdentity(ctx); identity != nil {
		return identity.UserID
	}
	return uuid.Nil
}

// WithIdentity attaches identity to ctx. Used by tests and internal callers.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
