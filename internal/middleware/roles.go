package middleware

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dojo-api/internal/models"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
	"github.com/noah-isme/dojo-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the resolved identity.
const ContextIdentityKey = "resolvedIdentity"

// DojoParam names the route parameter scoping master operations.
const DojoParam = "dojoID"

// Resolver classifies a principal into its operating role.
type Resolver interface {
	Resolve(ctx context.Context, principal *models.Principal) (*models.ResolvedIdentity, error)
}

// RequireMaster admits masters, including masters without a persisted role
// link, acting on their own dojo. It must run after Auth.
func RequireMaster(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFromContext(c)
		if principal == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		resolved, err := resolver.Resolve(c.Request.Context(), principal)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !resolved.ActsAsMaster() {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "master role required"))
			c.Abort()
			return
		}

		if dojoID := c.Param(DojoParam); dojoID != "" && dojoID != resolved.DojoID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("not a master of dojo %s", dojoID)))
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, resolved)
		c.Next()
	}
}

// IdentityFromContext returns the identity set by RequireMaster.
func IdentityFromContext(c *gin.Context) *models.ResolvedIdentity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	resolved, _ := value.(*models.ResolvedIdentity)
	return resolved
}
