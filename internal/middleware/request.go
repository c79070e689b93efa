package middleware

import (
	"github.com/gin-gonic/gin"

	"letschat/internal/observability"
	"letschat/internal/telemetry"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// RequestID tags the request with an id, echoes it back and makes it
// available to audit entries emitted while serving the request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := observability.RequestID(c.Request)
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(telemetry.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
