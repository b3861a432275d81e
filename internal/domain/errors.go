package domain

import (
	"errors"
	"slices"
)

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Persistence errors that retrying cannot fix
	ErrNotFound            = errors.New("resource not found")
	ErrAlreadyExists       = errors.New("resource already exists")
	ErrForeignKeyViolation = errors.New("referenced resource does not exist")

	// Identity and permission errors
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("permission denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")

	// Validation errors
	ErrInvalidInput   = errors.New("invalid input")
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message too long, max 500 characters")
	ErrInvalidRow     = errors.New("malformed message row")

	// Rate limiting
	ErrTooManyMessages = errors.New("too many messages, please wait a moment")
	ErrSendingTooFast  = errors.New("you are sending messages too fast")

	// Operational errors
	ErrUnavailable  = errors.New("service temporarily unavailable")
	ErrSlowConsumer = errors.New("client not consuming messages fast enough")
	ErrRoomClosed   = errors.New("room session closed")
	ErrSendFailed   = errors.New("failed to send message")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// IsRetryable returns true if the error is a transient condition
// classified by the domain itself. Transport-level classification
// (timeouts, 5xx statuses) lives in the retry package.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// permanentErrors are conditions no amount of replaying will fix.
var permanentErrors = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrForeignKeyViolation,
	ErrForbidden,
	ErrUnauthorized,
	ErrInvalidCredentials,
	ErrUserNotFound,
}

// IsPermanent returns true if the error is a persistence or identity
// failure that must pass straight through a retry loop.
func IsPermanent(err error) bool {
	return slices.ContainsFunc(permanentErrors, func(target error) bool {
		return errors.Is(err, target)
	})
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrEmptyMessage,
	ErrMessageTooLong,
	ErrNotFound,
	ErrForbidden,
	ErrUnauthorized,
	ErrEmptyID,
	ErrInvalidID,
	ErrTooManyMessages,
	ErrSendingTooFast,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRateLimited returns true for either flavour of send-rate rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrTooManyMessages) || errors.Is(err, ErrSendingTooFast)
}

// IsValidationError returns true if the content was rejected locally.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrInvalidInput)
}
