// Package apperr defines the closed set of failure kinds the API can report
// and how each one is mapped onto an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindBusinessRule
	KindUpstream
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule"
	case KindUpstream:
		return "upstream"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Stable machine-readable codes.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeMissingFields        = "MISSING_FIELDS"
	CodeInvalidJSON          = "INVALID_JSON"
	CodeInvalidQuery         = "INVALID_QUERY"
	CodeInvalidCEFRLevel     = "INVALID_CEFR_LEVEL"
	CodeTooManyWords         = "TOO_MANY_WORDS"
	CodeNoWords              = "NO_WORDS"
	CodeInvalidTemperature   = "INVALID_TEMPERATURE"
	CodeInvalidPromptVersion = "INVALID_PROMPT_VERSION"
	CodeMissingIdempotency   = "MISSING_IDEMPOTENCY_KEY"
	CodeInvalidRequestID     = "INVALID_REQUEST_ID"
	CodeInvalidSetID         = "INVALID_SET_ID"
	CodeInvalidSessionID     = "INVALID_SESSION_ID"
	CodeInvalidWordID        = "INVALID_WORD_ID"
	CodeWeakPassword         = "WEAK_PASSWORD"

	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeRecoveryTokenInvalid = "RECOVERY_TOKEN_INVALID"

	CodeNotFound           = "NOT_FOUND"
	CodeSetNotFound        = "SET_NOT_FOUND"
	CodeWordNotFound       = "WORD_NOT_FOUND"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeGenerationNotFound = "GENERATION_NOT_FOUND"
	CodeSentenceNotFound   = "SENTENCE_NOT_FOUND"

	CodeDuplicateName          = "DUPLICATE_NAME"
	CodeWordDuplicate          = "WORD_DUPLICATE"
	CodeActiveSession          = "ACTIVE_SESSION"
	CodeSessionAlreadyRunning  = "SESSION_ALREADY_RUNNING"
	CodeAlreadyFinished        = "ALREADY_FINISHED"
	CodeDuplicateIdempotency   = "DUPLICATE_IDEMPOTENCY_KEY"
	CodeAttemptConflict        = "ATTEMPT_CONFLICT"
	CodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"

	CodeDuplicateEnglishWord = "DUPLICATE_ENGLISH_WORD"
	CodeSetHasNoWords        = "SET_HAS_NO_WORDS"
	CodeNoGenerationFound    = "NO_GENERATION_FOUND"
	CodeDailyLimitReached    = "DAILY_LIMIT_REACHED"
	CodeSessionNotFinished   = "SESSION_NOT_FINISHED"

	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeProviderRateLimit = "OPENROUTER_RATE_LIMIT"

	CodeInternal = "INTERNAL_SERVER_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func Unauthorized(code, message string) *Error {
	return New(KindUnauthorized, code, message)
}
func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error { return New(KindConflict, code, message) }
func BusinessRule(code, message string) *Error { return New(KindBusinessRule, code, message) }
func Upstream(code, message string, err error) *Error {
	return Wrap(KindUpstream, code, message, err)
}
func RateLimited(message string) *Error {
	return New(KindRateLimited, CodeRateLimitExceeded, message)
}

// Internal hides err behind a generic code; err is kept for logging only.
func Internal(err error) *Error {
	return Wrap(KindInternal, CodeInternal, "Internal server error", err)
}

// From returns err as *Error, wrapping unknown errors as Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

func HTTPStatus(err error) int {
	ae := From(err)
	if ae == nil {
		return http.StatusOK
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBusinessRule:
		if ae.Code == CodeDailyLimitReached {
			return http.StatusForbidden
		}
		return http.StatusUnprocessableEntity
	case KindUpstream:
		if ae.Code == CodeProviderRateLimit {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
