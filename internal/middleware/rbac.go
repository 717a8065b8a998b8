package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/prepmint-api/internal/models"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
	"github.com/noah-isme/prepmint-api/pkg/response"
)

// SelfParam is the route parameter compared against the caller for
// self-service access.
const SelfParam = "id"

// RequireCapability lets the request through when the caller's role grants
// any of the capabilities. The special value "SELF" also admits callers
// whose user id equals the :id route parameter.
func RequireCapability(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	capabilities := make([]models.Capability, 0, len(allowed))
	for _, a := range allowed {
		if a == "SELF" {
			allowSelf = true
			continue
		}
		capabilities = append(capabilities, models.Capability(a))
	}

	return func(c *gin.Context) {
		claims := CurrentUser(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		for _, capability := range capabilities {
			if models.HasCapability(claims, capability) {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param(SelfParam); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// Require is RequireCapability for typed capabilities.
func Require(capabilities ...models.Capability) gin.HandlerFunc {
	allowed := make([]string, len(capabilities))
	for i, capability := range capabilities {
		allowed[i] = string(capability)
	}
	return RequireCapability(allowed...)
}
