package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/musicroom/internal/domain"
)

func TestStatusError_Unwrap(t *testing.T) {
	tests := []struct {
		name string
		err  *domain.StatusError
		want error
	}{
		{"no rows", &domain.StatusError{Code: domain.CodeNoRows}, domain.ErrNotFound},
		{"unique violation", &domain.StatusError{Code: domain.CodeUniqueViolation, Status: 409}, domain.ErrAlreadyExists},
		{"foreign key", &domain.StatusError{Code: domain.CodeForeignKey}, domain.ErrForeignKeyViolation},
		{"insufficient privilege", &domain.StatusError{Code: domain.CodeInsufficientPriv}, domain.ErrForbidden},
		{"invalid credentials", &domain.StatusError{Code: domain.CodeInvalidCredentials}, domain.ErrInvalidCredentials},
		{"user not found", &domain.StatusError{Code: domain.CodeUserNotFound}, domain.ErrUserNotFound},
		{"bad gateway", &domain.StatusError{Status: 502}, domain.ErrUnavailable},
		{"code wins over status", &domain.StatusError{Code: domain.CodeNoRows, Status: 503}, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}

	t.Run("unknown client status unwraps to nil", func(t *testing.T) {
		err := &domain.StatusError{Status: 418, Message: "teapot"}
		assert.Nil(t, err.Unwrap())
		assert.False(t, errors.Is(err, domain.ErrUnavailable))
	})
}

func TestStatusError_Error(t *testing.T) {
	assert.Equal(t, "boom (code 23505, status 409)",
		(&domain.StatusError{Code: "23505", Status: 409, Message: "boom"}).Error())
	assert.Equal(t, "boom (code PGRST116)",
		(&domain.StatusError{Code: "PGRST116", Message: "boom"}).Error())
	assert.Equal(t, "boom (status 500)",
		(&domain.StatusError{Status: 500, Message: "boom"}).Error())
	assert.Equal(t, 500, (&domain.StatusError{Status: 500}).HTTPStatusCode())
}
