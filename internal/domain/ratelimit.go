package domain

import (
	"fmt"
	"time"
)

// RateLimits are the operator-tunable send thresholds. The window limit
// and the minimum interval are independent checks.
type RateLimits struct {
	Window       time.Duration
	MaxPerWindow int
	MinInterval  time.Duration
}

// DefaultRateLimits returns 10 sends per trailing minute, at least one
// second apart.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Window:       RateLimitWindow,
		MaxPerWindow: MaxMessagesPerWindow,
		MinInterval:  MinMessageInterval,
	}
}

// Validate rejects limits that could never admit a message.
func (l RateLimits) Validate() error {
	if l.Window <= 0 || l.MaxPerWindow <= 0 || l.MinInterval < 0 {
		return fmt.Errorf("%w: rate limits %+v", ErrInvalidInput, l)
	}
	return nil
}

// RateVerdict is the outcome of a rate-limit check.
type RateVerdict int

const (
	RateAllowed RateVerdict = iota
	RateTooMany
	RateTooFast
)

func (v RateVerdict) String() string {
	switch v {
	case RateAllowed:
		return "allowed"
	case RateTooMany:
		return "too_many"
	case RateTooFast:
		return "too_fast"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Err returns the rejection error for the verdict, nil when allowed.
func (v RateVerdict) Err() error {
	switch v {
	case RateTooMany:
		return ErrTooManyMessages
	case RateTooFast:
		return ErrSendingTooFast
	default:
		return nil
	}
}

// Subscription is the handle a realtime feed returns for one room.
type Subscription struct {
	ID     string
	RoomID RoomID
}

// IsZero reports whether s was never issued.
func (s Subscription) IsZero() bool { return s.ID == "" }
