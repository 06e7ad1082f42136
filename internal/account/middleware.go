package account

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"drip/pkg/errors"
	"drip/pkg/logging"
)

const ContextKey = "account"

// AuthMiddleware resolves the calling account from the X-API-Key header
// (or Authorization bearer token) and stores it in the request context.
func AuthMiddleware(repo Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			auth := c.GetHeader("Authorization")
			apiKey = strings.TrimPrefix(auth, "Bearer ")
		}

		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(
				errors.ErrUnauthorized.WithDetail("message", "missing API key"),
			))
			return
		}

		acct, err := repo.GetByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(
				errors.ErrUnauthorized.WithDetail("message", "invalid API key"),
			))
			return
		}

		c.Set(ContextKey, acct)
		ctx := logging.WithAccountID(c.Request.Context(), acct.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// FromContext returns the authenticated account set by AuthMiddleware.
func FromContext(c *gin.Context) *Account {
	if v, ok := c.Get(ContextKey); ok {
		if acct, ok := v.(*Account); ok {
			return acct
		}
	}
	return nil
}
