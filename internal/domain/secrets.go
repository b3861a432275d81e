package domain

import "log/slog"

// SecretString wraps a sensitive value such as the JWT signing secret.
// Its String and LogValue forms are always redacted; only Expose and
// Bytes reveal the real value.
type SecretString string

// String returns a redacted placeholder, never the actual value.
func (s SecretString) String() string {
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer so the secret survives a
// misconfigured handler without leaking.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Expose returns the actual secret value.
func (s SecretString) Expose() string {
	return string(s)
}

// Bytes returns the secret as a key for HMAC signing and verification.
func (s SecretString) Bytes() []byte {
	return []byte(s)
}

// IsEmpty returns true if the secret is empty.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

var _ slog.LogValuer = SecretString("")
