package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-portal-api/internal/models"
	appErrors "github.com/noah-isme/sma-portal-api/pkg/errors"
	"github.com/noah-isme/sma-portal-api/pkg/response"
)

// RequireRoles gates a route to the listed portal roles. It expects the JWT
// middleware to have stored claims in the context.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
