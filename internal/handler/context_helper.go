package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dojo-api/internal/middleware"
)

// dojoScope returns the dojo a master route acts on. RequireMaster has
// already checked it against the caller's own dojo.
func dojoScope(c *gin.Context) string {
	if id := c.Param(middleware.DojoParam); id != "" {
		return id
	}
	if resolved := middleware.IdentityFromContext(c); resolved != nil {
		return resolved.DojoID
	}
	return ""
}
