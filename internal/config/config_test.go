package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/musicroom/internal/config"
	"github.com/aelexs/musicroom/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	// Chat policy
	assert.Equal(t, 8080, cfg.Chat.HTTPPort)
	assert.Equal(t, domain.DefaultRateLimits(), cfg.Chat.RateLimits())
	assert.Equal(t, domain.RateLimitScopeUser, cfg.Chat.RateLimitScope)
	assert.Equal(t, 50, cfg.Chat.HistoryPageSize)
	assert.Equal(t, 500, cfg.Chat.BufferCapacity)
	assert.Empty(t, cfg.Chat.BlockedTerms)
	assert.Empty(t, cfg.Chat.AllowedOrigins)
	assert.False(t, cfg.OTEL.Insecure)

	// Retry policies
	assert.Equal(t, 3, cfg.Retry.Query.MaxRetries)
	assert.Equal(t, 2, cfg.Retry.Mutation.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.Query.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.Mutation.MaxDelay)
	assert.True(t, cfg.Retry.Query.Exponential)

	// Infrastructure defaults
	assert.Equal(t, domain.DynamoDBTimeout, cfg.DynamoDB.Timeout)
	assert.Equal(t, "chat_messages", cfg.DynamoDB.Table)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, domain.RedisTimeout, cfg.Redis.Timeout)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "authenticated", cfg.Auth.Audience)
}

func TestLoadNestedKeys(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHAT__MAX_PER_WINDOW", "20")
	t.Setenv("CHAT__MIN_INTERVAL", "250ms")
	t.Setenv("CHAT__RATE_LIMIT_SCOPE", "room")
	t.Setenv("CHAT__BLOCKED_TERMS", "darn,heck")
	t.Setenv("RETRY__MUTATION__MAX_RETRIES", "0")
	t.Setenv("RETRY__QUERY__EXPONENTIAL", "false")
	t.Setenv("REDIS__ADDR", "redis:6379")
	t.Setenv("AUTH__JWT_SECRET", "local-secret")
	t.Setenv("CHAT__ALLOWED_ORIGINS", "https://musicroom.app,http://localhost:5173")
	t.Setenv("OTEL__INSECURE", "true")
	t.Setenv("OTEL__SAMPLE_RATIO", "0.25")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.Chat.MaxPerWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.MinInterval)
	assert.Equal(t, domain.RateLimitScopeRoom, cfg.Chat.RateLimitScope)
	assert.Equal(t, []string{"darn", "heck"}, cfg.Chat.BlockedTerms)
	assert.Equal(t, 0, cfg.Retry.Mutation.MaxRetries)
	assert.False(t, cfg.Retry.Query.Exponential)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "local-secret", cfg.Auth.JWTSecret.Expose())
	assert.Equal(t, "[REDACTED]", cfg.Auth.JWTSecret.String())
	assert.Equal(t, []string{"https://musicroom.app", "http://localhost:5173"}, cfg.Chat.AllowedOrigins)
	assert.True(t, cfg.OTEL.Insecure)
	assert.InDelta(t, 0.25, cfg.OTEL.SampleRatio, 1e-9)

	// Untouched siblings keep their defaults.
	assert.Equal(t, domain.RateLimitWindow, cfg.Chat.Window)
	assert.Equal(t, 3, cfg.Retry.Query.MaxRetries)
}

func TestLoadLists(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want []string
	}{
		{"single", "darn", []string{"darn"}},
		{"comma separated", "darn,heck", []string{"darn", "heck"}},
		{"spaces and blanks dropped", " darn , heck ,, ", []string{"darn", "heck"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHAT__BLOCKED_TERMS", tt.val)
			t.Setenv("CHAT__ALLOWED_ORIGINS", tt.val)

			cfg, err := config.Load(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Chat.BlockedTerms)
			assert.Equal(t, tt.want, cfg.Chat.AllowedOrigins)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero window", "CHAT__WINDOW", "0s"},
		{"zero max per window", "CHAT__MAX_PER_WINDOW", "0"},
		{"negative interval", "CHAT__MIN_INTERVAL", "-1s"},
		{"unknown scope", "CHAT__RATE_LIMIT_SCOPE", "global"},
		{"buffer smaller than page", "CHAT__BUFFER_CAPACITY", "10"},
		{"negative retries", "RETRY__QUERY__MAX_RETRIES", "-1"},
		{"max delay below base", "RETRY__MUTATION__MAX_DELAY", "100ms"},
		{"sample ratio above one", "OTEL__SAMPLE_RATIO", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := config.Load(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"local returns true", "local", true},
		{"prod returns false", "prod", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsLocal())
		})
	}
}

func TestIsProd(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"prod returns true", "prod", true},
		{"local returns false", "local", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsProd())
		})
	}
}

func TestValidateRequired_LocalAllowsMissingFields(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
}

func TestValidateRequired_ProdRequiresRedisAddr(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("AUTH__JWT_SECRET_ID", "musicroom/jwt")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestValidateRequired_ProdRequiresJWTSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS__ADDR", "redis:6379")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestValidateRequired_ProdRequiresTable(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS__ADDR", "redis:6379")
	t.Setenv("AUTH__JWT_SECRET", "s")
	t.Setenv("DYNAMODB__TABLE", "")

	_, err := config.Load(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigRequired)
	assert.Contains(t, err.Error(), "dynamodb.table")
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("REDIS__ADDR", "redis:6379")
	t.Setenv("AUTH__JWT_SECRET_ID", "musicroom/jwt")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "musicroom/jwt", cfg.Auth.JWTSecretID)
}
