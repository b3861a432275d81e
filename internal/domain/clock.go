package domain

import "time"

// Clock provides the current time. Rate limiting and message timestamps
// take a Clock so tests can drive time explicitly.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// FormatTimestamp renders t the way message rows carry created_at.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp accepts RFC 3339 timestamps with or without fractional
// seconds and normalizes them to UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var _ Clock = RealClock{}
