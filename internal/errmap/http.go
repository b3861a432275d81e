// Package errmap translates domain errors into HTTP responses and
// WebSocket close frames.
package errmap

import (
	"errors"
	"net/http"

	"github.com/aelexs/musicroom/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is).
var httpMappings = []httpMapping{
	// Resource errors
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{domain.ErrForeignKeyViolation, http.StatusConflict, "FOREIGN_KEY"},
	{domain.ErrRoomClosed, http.StatusGone, "ROOM_CLOSED"},

	// Auth errors
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHENTICATED"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{domain.ErrForbidden, http.StatusForbidden, "PERMISSION_DENIED"},

	// Validation errors
	{domain.ErrEmptyMessage, http.StatusBadRequest, "EMPTY_MESSAGE"},
	{domain.ErrMessageTooLong, http.StatusBadRequest, "MESSAGE_TOO_LONG"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidRow, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrEmptyID, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{domain.ErrInvalidID, http.StatusBadRequest, "INVALID_ARGUMENT"},

	// Rate limiting
	{domain.ErrTooManyMessages, http.StatusTooManyRequests, "TOO_MANY_MESSAGES"},
	{domain.ErrSendingTooFast, http.StatusTooManyRequests, "SENDING_TOO_FAST"},
	{domain.ErrSlowConsumer, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED"},

	// Availability
	{domain.ErrSendFailed, http.StatusServiceUnavailable, "SEND_FAILED"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

// ToHTTPError converts a domain error to an HTTP error. The message is the
// matched sentinel's text, never the wrapped chain, which may carry ids
// and storage detail.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: m.code, Message: m.err.Error()}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
