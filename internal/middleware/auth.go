package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
	"github.com/noah-isme/dojo-api/pkg/response"
)

// ContextPrincipalKey is the gin context key storing the authenticated
// principal.
const ContextPrincipalKey = "currentPrincipal"

// Authenticator verifies an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, error)
}

// Auth protects routes by requiring a valid bearer token. The caller's
// session and principal are carried in the request context so downstream
// calls act on behalf of this caller only.
func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing or malformed authorization header"))
			c.Abort()
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		ctx := identity.WithSession(c.Request.Context(), &models.Session{AccessToken: token})
		ctx = identity.WithPrincipal(ctx, principal)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextPrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext returns the principal set by Auth.
func PrincipalFromContext(c *gin.Context) *models.Principal {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
