package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"letschat/internal/telemetry"
)

// Auditor records audit entries.
type Auditor interface {
	Emit(ctx context.Context, entry telemetry.Entry)
}

// OnlineLister reports the users holding a live connection.
type OnlineLister interface {
	OnlineUsers() []string
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter Auditor, online OnlineLister, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.Entry{
			Action:    "debug.audit_test",
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    userIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/online", func(c *gin.Context) {
		if online == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "presence not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": online.OnlineUsers()})
	})
}
