// Package apperrors defines the service error taxonomy and the JSON envelope every
// error response uses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes exposed to clients.
const (
	CodeAuthentication      = "AUTHENTICATION_FAILED"
	CodeAuthorization       = "FORBIDDEN"
	CodeValidation          = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeConflict            = "CONFLICT"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeTenant              = "TENANT_ERROR"
	CodeDocumentProcessing  = "DOCUMENT_PROCESSING_ERROR"
	CodeVectorStore         = "VECTOR_STORE_ERROR"
	CodeLLM                 = "LLM_ERROR"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeRateLimiterDown     = "RATE_LIMITER_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
	CodeRequestBodyTooLarge = "REQUEST_TOO_LARGE"
)

// Error is an error that knows how it should be rendered over HTTP.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails returns a copy of e carrying the given details merged over the
// existing ones.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func New(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func Authentication(message string) *Error {
	return New(http.StatusUnauthorized, CodeAuthentication, orDefault(message, "Authentication failed"))
}

func Authorization(message string) *Error {
	return New(http.StatusForbidden, CodeAuthorization, orDefault(message, "Insufficient permissions"))
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, CodeValidation, orDefault(message, "Validation failed"))
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, orDefault(message, "Resource not found"))
}

func MethodNotAllowed(message string) *Error {
	return New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, orDefault(message, "Method not allowed"))
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, orDefault(message, "Resource conflict"))
}

func RateLimitExceeded(message string) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimitExceeded, orDefault(message, "Rate limit exceeded"))
}

func Tenant(message string) *Error {
	return New(http.StatusBadRequest, CodeTenant, orDefault(message, "Tenant error"))
}

func DocumentProcessing(message string) *Error {
	return New(http.StatusInternalServerError, CodeDocumentProcessing, orDefault(message, "Document processing failed"))
}

func VectorStore(message string) *Error {
	return New(http.StatusInternalServerError, CodeVectorStore, orDefault(message, "Vector store operation failed"))
}

func LLM(message string) *Error {
	return New(http.StatusInternalServerError, CodeLLM, orDefault(message, "LLM operation failed"))
}

func NotImplemented(message string) *Error {
	return New(http.StatusNotImplemented, CodeNotImplemented, orDefault(message, "Not implemented"))
}

func ServiceUnavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, orDefault(message, "Service unavailable"))
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, CodeInternal, orDefault(message, "Internal server error"))
}

// As normalizes any error into an *Error. Unknown errors become a sanitized
// INTERNAL_ERROR that keeps the original as its cause.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return New(http.StatusRequestEntityTooLarge, CodeRequestBodyTooLarge, "Request body too large").
			WithDetails(map[string]any{"limit_bytes": maxBytes.Limit}).Wrap(err)
	}
	return Internal("An unexpected error occurred").Wrap(err)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
