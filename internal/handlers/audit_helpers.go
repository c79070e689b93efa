package handlers

import (
	"github.com/gin-gonic/gin"

	"letschat/internal/middleware"
	"letschat/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := observability.RequestID(c.Request)
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated user, or "" on routes
// without the auth middleware.
func userIDFromContext(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
