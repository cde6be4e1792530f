package llm

import (
	"fmt"
	"net/http"
)

const (
	CodeTimeout         = "OPENROUTER_TIMEOUT"
	CodeNetworkError    = "OPENROUTER_NETWORK_ERROR"
	CodeRateLimit       = "OPENROUTER_RATE_LIMIT"
	CodeServerError     = "OPENROUTER_SERVER_ERROR"
	CodeAuthError       = "OPENROUTER_AUTH_ERROR"
	CodeInvalidRequest  = "OPENROUTER_INVALID_REQUEST"
	CodeUnknownError    = "OPENROUTER_UNKNOWN_ERROR"
	CodeInvalidResponse = "OPENROUTER_INVALID_RESPONSE"
	CodeEmptyResponse   = "OPENROUTER_EMPTY_RESPONSE"
	CodeParseError      = "OPENROUTER_PARSE_ERROR"
	CodeConfigError     = "OPENROUTER_CONFIG_ERROR"
	CodeBadInput        = "INVALID_REQUEST"
)

// Error is a classified provider failure.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable is true for timeouts, network failures, 5xx and 429.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeNetworkError, CodeServerError, CodeRateLimit:
		return true
	default:
		return false
	}
}

func statusError(status int, body string) *Error {
	e := &Error{StatusCode: status, Message: truncate(body, 300)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = CodeAuthError
	case status == http.StatusTooManyRequests:
		e.Code = CodeRateLimit
	case status >= 500:
		e.Code = CodeServerError
	case status == http.StatusBadRequest:
		e.Code = CodeInvalidRequest
	default:
		e.Code = CodeUnknownError
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
