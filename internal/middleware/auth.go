package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/auth"
	"github.com/smartwords/api/internal/response"
)

const identityKey = "identity"

// AuthMiddleware requires a valid bearer access token.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Error(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Invalid authorization header format"))
			return
		}

		id, err := auth.ValidateAccessToken(parts[1], jwtSecret)
		if err != nil {
			response.Error(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Invalid or expired token"))
			return
		}

		c.Set(identityKey, *id)
		c.Next()
	}
}

// IdentityFrom returns the caller stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
