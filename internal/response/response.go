// Package response writes JSON bodies and the uniform error envelope.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Error aborts c with the envelope for err. 5xx causes are attached to the
// gin context for the request logger and never reach the client.
func Error(c *gin.Context, err error) {
	ae := apperr.From(err)
	status := apperr.HTTPStatus(ae)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{Code: ae.Code, Message: ae.Message},
	})
}

func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func Created(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
