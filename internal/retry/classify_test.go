package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/musicroom/internal/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestDefaultIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"unavailable", fmt.Errorf("store: %w", domain.ErrUnavailable), true},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"status 500", statusErr(500), true},
		{"status 599", statusErr(599), true},
		{"status 429", statusErr(429), false},
		{"status 400", statusErr(400), false},
		{"status 600", statusErr(600), false},
		{"no rows", &domain.StatusError{Code: domain.CodeNoRows}, false},
		{"unique violation", &domain.StatusError{Code: domain.CodeUniqueViolation}, false},
		{"foreign key", &domain.StatusError{Code: domain.CodeForeignKey}, false},
		{"insufficient privilege", &domain.StatusError{Code: domain.CodeInsufficientPriv}, false},
		{"invalid credentials", &domain.StatusError{Code: domain.CodeInvalidCredentials}, false},
		{"user not found", &domain.StatusError{Code: domain.CodeUserNotFound}, false},
		{"permanent code beats 5xx", &domain.StatusError{Code: domain.CodeNoRows, Status: 503}, false},
		{"validation", domain.ErrEmptyMessage, false},
		{"rate limited", domain.ErrSendingTooFast, false},
		{"network message", errors.New("Network request failed"), true},
		{"timeout message", errors.New("request timeout"), true},
		{"fetch message", errors.New("TypeError: Failed to fetch"), true},
		{"unknown", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultIsRetryable(tt.err))
		})
	}
}
