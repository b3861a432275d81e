package domain

import (
	"fmt"
	"net/http"
)

// Persistence error codes surfaced by the message store backends.
const (
	CodeNoRows             = "PGRST116"
	CodeUniqueViolation    = "23505"
	CodeForeignKey         = "23503"
	CodeInsufficientPriv   = "42501"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUserNotFound       = "user_not_found"
)

var codeSentinels = map[string]error{
	CodeNoRows:             ErrNotFound,
	CodeUniqueViolation:    ErrAlreadyExists,
	CodeForeignKey:         ErrForeignKeyViolation,
	CodeInsufficientPriv:   ErrForbidden,
	CodeInvalidCredentials: ErrInvalidCredentials,
	CodeUserNotFound:       ErrUserNotFound,
}

// StatusError carries a backend error code and/or numeric status so the
// retry classifier can tell transient failures from permanent ones.
type StatusError struct {
	Code    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("%s (code %s, status %d)", e.Message, e.Code, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	default:
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
}

// HTTPStatusCode returns the numeric status, zero when unknown.
func (e *StatusError) HTTPStatusCode() int {
	return e.Status
}

// Unwrap maps known codes onto domain sentinels. Server-side statuses
// unwrap to ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if sentinel, ok := codeSentinels[e.Code]; ok {
		return sentinel
	}
	if e.Status >= http.StatusInternalServerError && e.Status < 600 {
		return ErrUnavailable
	}
	return nil
}
