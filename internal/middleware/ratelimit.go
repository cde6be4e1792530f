package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/ratelimit"
	"github.com/smartwords/api/internal/response"
)

// KeyFunc picks the client a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByUser keys on the authenticated caller, falling back to the client IP.
func ByUser(c *gin.Context) string {
	if id, ok := IdentityFrom(c); ok {
		return "user:" + id.UserID.String()
	}
	return ByIP(c)
}

func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimit rejects requests over the action's window with 429
// RATE_LIMIT_EXCEEDED and reports the budget in X-RateLimit-* headers.
func RateLimit(limiter *ratelimit.Limiter, action string, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Check(c.Request.Context(), key(c), action)
		if err != nil {
			// Fail open.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))

		if !res.Allowed {
			RecordRateLimited(action)
			response.Error(c, apperr.RateLimited("Too many requests, try again later"))
			return
		}
		c.Next()
	}
}
