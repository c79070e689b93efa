package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"letschat/internal/apperr"
	"letschat/internal/logging"
	"letschat/internal/middleware"
)

// fail writes the coded error as {"success": false, "message": ...}.
func fail(c *gin.Context, fName string, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logging.NewWithFields(fName, map[string]interface{}{
			"request_id": requestIDFromContext(c),
			"user_id":    userIDFromContext(c),
		}).WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"success": false, "message": apperr.MessageOf(err)})
}

func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

func currentUser(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
