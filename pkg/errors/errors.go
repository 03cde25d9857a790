package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur in the pipeline
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeExhausted   ErrorType = "exhausted"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Sentinel errors surfaced across package boundaries.
var (
	// ErrAllBackendsFailed means every scraping backend exhausted its retry
	// budget. No caller may substitute fabricated metrics for this error.
	ErrAllBackendsFailed = errors.New("all scraping backends failed")

	// ErrNoFreshData means no fresh cache entry exists and the fetch was
	// deferred to the background queue.
	ErrNoFreshData = errors.New("no fresh data available, refresh queued")

	// ErrNotLinked means the subject has no active linked account.
	ErrNotLinked = errors.New("no linked account for subject")

	// ErrTokenExpired means the stored OAuth token is past its expiry.
	ErrTokenExpired = errors.New("oauth token expired")

	// ErrNoActiveToken means no active OAuth token exists for the subject.
	ErrNoActiveToken = errors.New("no active oauth token")
)

// Error represents a pipeline error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates a typed error.
func New(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Code: code}
}

// TypeOf returns the error type of err, or ErrorTypeUnknown if err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeExhausted:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
