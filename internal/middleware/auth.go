package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/pkg/auth"
)

const ContextInstallationID = "installation_id"

type AuthMiddleware struct {
	tokens auth.DeviceTokenService
}

func NewAuthMiddleware(tokens auth.DeviceTokenService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireDevice validates the bearer device token and stores the
// installation id in the request context.
func (m *AuthMiddleware) RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		installationID, err := m.tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid device token"})
			return
		}

		c.Set(ContextInstallationID, installationID)
		c.Next()
	}
}

// InstallationID reads the authenticated installation id from the context.
func InstallationID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ContextInstallationID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
