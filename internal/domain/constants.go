package domain

import "time"

// Compiled defaults for the chat core. Each can be overridden through
// configuration; the config package seeds its defaults from these.
const (
	// Message content
	MaxMessageLength = 500 // runes, measured after trimming
	MaskRune         = '*'

	// Per-user send limits
	RateLimitWindow      = 60 * time.Second
	MaxMessagesPerWindow = 10
	MinMessageInterval   = 1000 * time.Millisecond

	// Retry policy
	QueryMaxRetries    = 3
	MutationMaxRetries = 2 // mutations are less safe to replay blindly
	RetryBaseDelay     = 1 * time.Second
	RetryMaxDelay      = 10 * time.Second
	RetryJitterFactor  = 0.3

	// Room buffer
	HistoryPageSize    = 50
	MaxBufferedEntries = 500

	// Websocket delivery
	OutboundBufferSize = 64
	PingInterval       = 30 * time.Second
	PongTimeout        = 60 * time.Second
	WriteTimeout       = 10 * time.Second

	// Timeout contracts
	DynamoDBTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 15 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
)

// RateLimitScope selects what a send is counted against.
type RateLimitScope string

const (
	// RateLimitScopeUser counts a user's sends across every room.
	RateLimitScopeUser RateLimitScope = "user"
	// RateLimitScopeRoom counts a user's sends separately per room.
	RateLimitScopeRoom RateLimitScope = "room"
)

// IsValidRateLimitScope checks if a scope is one of the supported values.
func IsValidRateLimitScope(s RateLimitScope) bool {
	return s == RateLimitScopeUser || s == RateLimitScopeRoom
}
