package middleware

import (
	"net/http"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/gin-gonic/gin"
)

// RequirePrivileged allows only admin and hr actors through
func RequirePrivileged() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok || !actor.Role.IsPrivileged() {
			common.ErrorResponse(c, http.StatusForbidden, "admin or hr role required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
