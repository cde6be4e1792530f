// Package handler adapts HTTP requests onto the service layer.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/auth"
	"github.com/smartwords/api/internal/middleware"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/validator"
)

// bindJSON decodes and validates the body into dst. On failure the error
// envelope has already been written.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, validator.Translate(err))
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON that accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, dst)
}

func bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		ae := validator.Translate(err)
		if ae.Kind == apperr.KindValidation {
			ae = apperr.Validation(apperr.CodeInvalidQuery, ae.Message)
		}
		response.Error(c, ae)
		return false
	}
	return true
}

func pathUUID(c *gin.Context, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperr.Validation(code, name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required"))
		return auth.Identity{}, false
	}
	return id, true
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
