package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"letschat/internal/apperr"
	"letschat/internal/logging"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// TokenVerifier resolves a session token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware validates the bearer token in the Authorization header.
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Token is required"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid authorization header"})
			return
		}

		userID, err := tokens.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			logging.New("AuthMiddleware").WithError(err).Debug("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": apperr.MessageOf(err)})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}
