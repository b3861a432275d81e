package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/aelexs/musicroom/internal/domain"
)

// statusCoder is satisfied by errors that carry a numeric HTTP-like
// status, including domain.StatusError and AWS response errors.
type statusCoder interface {
	HTTPStatusCode() int
}

var transientHints = []string{
	"network",
	"timeout",
	"timed out",
	"failed to fetch",
	"connection refused",
	"connection reset",
}

// DefaultIsRetryable reports whether err is a transient failure worth
// another attempt. Permanent persistence failures, validation errors and
// cancellation are never retried.
func DefaultIsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if domain.IsPermanent(err) || domain.IsValidationError(err) || domain.IsRateLimited(err) {
		return false
	}
	if domain.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		if code >= http.StatusInternalServerError && code < 600 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
