package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrBatchUnsupported is returned by a Model whose architecture cannot run
// a batched generation. LocalBackend treats it as a signal to fall back to
// sequential generation rather than as a failure.
var ErrBatchUnsupported = errors.New("batched generation not supported by model architecture")

// ErrorType represents the type of an error
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeRequest
	ErrorTypeResponse
	ErrorTypeAPI
	ErrorTypeRateLimit
	ErrorTypeAuthentication
	ErrorTypeLoad
	ErrorTypeBatch
)

// GenerationError describes why one generation (or a whole batch) failed.
type GenerationError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.TypeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.TypeString(), e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) TypeString() string {
	switch e.Type {
	case ErrorTypeRequest:
		return "RequestError"
	case ErrorTypeResponse:
		return "ResponseError"
	case ErrorTypeAPI:
		return "APIError"
	case ErrorTypeRateLimit:
		return "RateLimitError"
	case ErrorTypeAuthentication:
		return "AuthenticationError"
	case ErrorTypeLoad:
		return "LoadError"
	case ErrorTypeBatch:
		return "BatchError"
	default:
		return "UnknownError"
	}
}

// Retryable reports whether repeating the same request may succeed.
func (e *GenerationError) Retryable() bool {
	switch e.Type {
	case ErrorTypeRequest, ErrorTypeRateLimit:
		return true
	case ErrorTypeAPI:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// NewGenerationError creates a new GenerationError
func NewGenerationError(errType ErrorType, message string, err error) *GenerationError {
	return &GenerationError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// statusError maps a non-2xx HTTP status to a GenerationError.
func statusError(status int, body []byte) *GenerationError {
	errType := ErrorTypeAPI
	switch status {
	case http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrorTypeAuthentication
	}
	msg := fmt.Sprintf("status code %d", status)
	if len(body) > 0 {
		const maxBody = 512
		if len(body) > maxBody {
			body = body[:maxBody]
		}
		msg += ": " + string(body)
	}
	return &GenerationError{Type: errType, Message: msg, StatusCode: status}
}

// IsRetryable reports whether err is a retryable GenerationError.
func IsRetryable(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Retryable()
}
