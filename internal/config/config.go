// Package config provides configuration loading using koanf.
// Precedence is environment over compiled defaults; secrets that live in
// AWS are fetched by the service setup, not here.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/musicroom/internal/domain"
)

// envDelimiter separates nested keys in environment variable names, so
// CHAT__MAX_PER_WINDOW sets chat.max_per_window. Single underscores stay
// part of the key.
const envDelimiter = "__"

// listSeparator splits list values, so CHAT__BLOCKED_TERMS=a,b is two terms.
const listSeparator = ","

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Chat  ChatConfig  `koanf:"chat"`
	Retry RetryConfig `koanf:"retry"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`
	Auth     AuthConfig     `koanf:"auth"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// ChatConfig holds the chat service's HTTP port and send policy.
type ChatConfig struct {
	HTTPPort          int                   `koanf:"http_port"`
	Window            time.Duration         `koanf:"window"`
	MaxPerWindow      int                   `koanf:"max_per_window"`
	MinInterval       time.Duration         `koanf:"min_interval"`
	RateLimitScope    domain.RateLimitScope `koanf:"rate_limit_scope"`
	BlockedTerms      []string              `koanf:"blocked_terms"`
	BlockedTermsParam string                `koanf:"blocked_terms_param"` // SSM parameter, overrides BlockedTerms
	HistoryPageSize   int                   `koanf:"history_page_size"`
	BufferCapacity    int                   `koanf:"buffer_capacity"`
	AllowedOrigins    []string              `koanf:"allowed_origins"` // WebSocket origins; empty allows any
}

// RateLimits returns the send limits in domain form.
func (c ChatConfig) RateLimits() domain.RateLimits {
	return domain.RateLimits{
		Window:       c.Window,
		MaxPerWindow: c.MaxPerWindow,
		MinInterval:  c.MinInterval,
	}
}

// RetryConfig holds the two retry policies.
type RetryConfig struct {
	Query    RetryPolicyConfig `koanf:"query"`
	Mutation RetryPolicyConfig `koanf:"mutation"`
}

// RetryPolicyConfig holds one retry policy.
type RetryPolicyConfig struct {
	MaxRetries  int           `koanf:"max_retries"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	Exponential bool          `koanf:"exponential"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Table    string        `koanf:"table"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RedisConfig holds Redis configuration. An empty Addr runs the feed and
// rate limits in process, which only works with a single instance.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// AuthConfig holds access token verification settings. JWTSecretID names
// a Secrets Manager secret and wins over an inline JWTSecret.
type AuthConfig struct {
	JWTSecret   domain.SecretString `koanf:"jwt_secret"`
	JWTSecretID string              `koanf:"jwt_secret_id"`
	Issuer      string              `koanf:"issuer"`
	Audience    string              `koanf:"audience"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string  `koanf:"endpoint"` // Empty disables OTLP export
	Insecure    bool    `koanf:"insecure"` // Plaintext gRPC to the collector
	SampleRatio float64 `koanf:"sample_ratio"`
	ServiceName string  `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		Chat: ChatConfig{
			HTTPPort:        8080,
			Window:          domain.RateLimitWindow,
			MaxPerWindow:    domain.MaxMessagesPerWindow,
			MinInterval:     domain.MinMessageInterval,
			RateLimitScope:  domain.RateLimitScopeUser,
			HistoryPageSize: domain.HistoryPageSize,
			BufferCapacity:  domain.MaxBufferedEntries,
		},
		Retry: RetryConfig{
			Query: RetryPolicyConfig{
				MaxRetries:  domain.QueryMaxRetries,
				BaseDelay:   domain.RetryBaseDelay,
				MaxDelay:    domain.RetryMaxDelay,
				Exponential: true,
			},
			Mutation: RetryPolicyConfig{
				MaxRetries:  domain.MutationMaxRetries,
				BaseDelay:   domain.RetryBaseDelay,
				MaxDelay:    domain.RetryMaxDelay,
				Exponential: true,
			},
		},

		DynamoDB: DynamoDBConfig{
			Table:   "chat_messages",
			Timeout: domain.DynamoDBTimeout,
		},
		Redis: RedisConfig{
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Auth: AuthConfig{
			Audience: "authenticated",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Missing required keys fail startup; optional keys fall back to defaults.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	// Prefix: none (full names like CHAT__HTTP_PORT). Double underscore
	// maps to . for nested config.
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), envDelimiter, ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(listSeparator),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Chat.BlockedTerms = trimList(cfg.Chat.BlockedTerms)
	cfg.Chat.AllowedOrigins = trimList(cfg.Chat.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects values that are wrong in every environment.
func validate(cfg *Config) error {
	if err := cfg.Chat.RateLimits().Validate(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if !domain.IsValidRateLimitScope(cfg.Chat.RateLimitScope) {
		return fmt.Errorf("%w: chat.rate_limit_scope %q", domain.ErrInvalidInput, cfg.Chat.RateLimitScope)
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return fmt.Errorf("%w: otel.sample_ratio must be within [0, 1]", domain.ErrInvalidInput)
	}
	if cfg.Chat.HistoryPageSize <= 0 || cfg.Chat.BufferCapacity < cfg.Chat.HistoryPageSize {
		return fmt.Errorf("%w: chat.buffer_capacity must be at least chat.history_page_size", domain.ErrInvalidInput)
	}
	for name, p := range map[string]RetryPolicyConfig{"query": cfg.Retry.Query, "mutation": cfg.Retry.Mutation} {
		if p.MaxRetries < 0 || p.BaseDelay < 0 || p.MaxDelay < p.BaseDelay {
			return fmt.Errorf("%w: retry.%s", domain.ErrInvalidInput, name)
		}
	}
	return nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, most fields have sensible defaults
	if cfg.Environment == "local" {
		return nil
	}

	// In production, certain fields are required
	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if cfg.Auth.JWTSecret.IsEmpty() && cfg.Auth.JWTSecretID == "" {
			return fmt.Errorf("%w: auth.jwt_secret or auth.jwt_secret_id", domain.ErrConfigRequired)
		}
		if cfg.DynamoDB.Table == "" {
			return fmt.Errorf("%w: dynamodb.table", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}

// trimList drops surrounding spaces and empty items from a split list.
func trimList(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
