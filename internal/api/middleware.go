package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"supportbot/internal/auth"
)

// ContextKeyUserID is the gin context key under which the middleware stores
// the authenticated user's id (the token subject).
const ContextKeyUserID = "user_id"

// AuthMiddleware rejects requests that do not carry a valid Bearer token.
// On success the token subject is stored in the gin context.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token is missing"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid token format"})
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			message := "Invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				message = "Token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": message})
			return
		}

		c.Set(ContextKeyUserID, claims.Subject)
		c.Next()
	}
}
