package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aelexs/musicroom/internal/auth"
	"github.com/aelexs/musicroom/internal/chat/adapter"
	"github.com/aelexs/musicroom/internal/chat/app"
	"github.com/aelexs/musicroom/internal/chat/port"
	"github.com/aelexs/musicroom/internal/config"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/dynamo"
	"github.com/aelexs/musicroom/internal/redis"
	"github.com/aelexs/musicroom/internal/retry"
	"github.com/aelexs/musicroom/internal/server"
)

// devJWTSecret verifies tokens in local development when no secret is
// configured. Tokens can be minted with internal/auth/authtest.
const devJWTSecret = domain.SecretString("local-dev-jwt-secret-not-for-prod")

// realtime is the room feed plus the rate-limit store, which share a
// backend: Redis when configured, process memory otherwise.
type realtime struct {
	feed  app.RealtimeFeed
	pub   adapter.RowPublisher
	rates app.RateLimitStore
	close func() error
}

// setup is the chat service composition root. It creates infrastructure
// clients, adapters and the chat core, and returns the room routes.
func setup(ctx context.Context, deps server.Deps) (*server.Service, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}

	// 1. Infrastructure clients.
	dbEndpoint := cmp.Or(cfg.DynamoDB.Endpoint, cfg.AWS.Endpoint)
	awsCfg, err := dynamo.LoadAWSConfig(ctx, dynamo.Config{
		Endpoint: dbEndpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("chat setup: %w", err)
	}
	dynamoClient := dynamo.NewClientFromConfig(awsCfg, dbEndpoint)

	secret, err := loadJWTSecret(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("chat setup: %w", err)
	}
	terms, err := loadBlockedTerms(ctx, cfg, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("chat setup: %w", err)
	}

	rt, err := newRealtime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("chat setup: %w", err)
	}

	// 2. Adapters.
	store := adapter.NewPublishingStore(
		adapter.NewDynamoMessageStore(dynamoClient.DB, cfg.DynamoDB.Table),
		rt.pub,
		logger,
	)
	advisories := port.NewAdvisoryRouter(adapter.NewLogNotifier(logger))

	// 3. Chat core.
	filter, err := app.NewFilter(terms)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("chat setup: blocked terms: %w", err), rt.close())
	}
	query := retryPolicy(retry.QueryDefaults(), cfg.Retry.Query)
	mutation := retryPolicy(retry.MutationDefaults(), cfg.Retry.Mutation)
	retrier := retry.New(retry.Options{
		Query:    &query,
		Mutation: &mutation,
		Notifier: advisories,
		Logger:   logger,
	})
	pipeline := app.NewPipeline(app.PipelineConfig{
		Store:    store,
		Limiter:  app.NewRateLimiter(rt.rates, cfg.Chat.RateLimitScope),
		Filter:   filter,
		Retrier:  retrier,
		Notifier: advisories,
		Clock:    clock,
		Logger:   logger,
	})
	rooms := app.NewRoomManager(func(roomID domain.RoomID) *app.RoomSession {
		return app.NewRoomSession(app.RoomSessionConfig{
			RoomID:       roomID,
			Feed:         rt.feed,
			Store:        store,
			Pipeline:     pipeline,
			Retrier:      retrier,
			Clock:        clock,
			Logger:       logger,
			Capacity:     cfg.Chat.BufferCapacity,
			HistoryLimit: cfg.Chat.HistoryPageSize,
		})
	}, logger)

	// 4. Entry points.
	handler := port.NewHandler(port.HandlerConfig{
		Rooms: rooms,
		Auth: auth.NewValidator(auth.ValidatorConfig{
			Secret:   secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			Clock:    clock,
		}),
		Advisories:     advisories,
		Logger:         logger,
		AllowedOrigins: cfg.Chat.AllowedOrigins,
	})

	logger.InfoContext(ctx, "chat service initialized",
		slog.String("rate_limit_scope", string(cfg.Chat.RateLimitScope)),
		slog.Int("blocked_terms", len(terms)),
		slog.Bool("redis", cfg.Redis.Addr != ""),
	)

	// Sockets go first so their rooms are released before the manager
	// leaves whatever is left.
	closeFn := func(ctx context.Context) error {
		return errors.Join(
			handler.Close(ctx),
			rooms.Close(ctx),
			rt.close(),
		)
	}

	return &server.Service{Handler: handler.Routes(), Close: closeFn}, nil
}

// newRealtime connects to Redis when an address is configured. Without
// one the feed and rate limits live in this process.
func newRealtime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*realtime, error) {
	limits := cfg.Chat.RateLimits()

	if cfg.Redis.Addr == "" {
		logger.Warn("redis.addr not set, using in-process feed and rate limits")
		feed := adapter.NewMemoryFeed()
		return &realtime{
			feed:  feed,
			pub:   feed,
			rates: adapter.NewMemoryRateLimitStore(limits),
			close: func() error { return nil },
		}, nil
	}

	client := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping redis: %w", err), client.Close())
	}

	feed := adapter.NewRedisFeed(client.RDB, client.RDB, logger)
	return &realtime{
		feed:  feed,
		pub:   feed,
		rates: adapter.NewRedisRateLimitStore(client.RDB, limits),
		close: func() error { return errors.Join(feed.Close(), client.Close()) },
	}, nil
}

// loadJWTSecret prefers Secrets Manager, then the inline secret. Local
// development falls back to devJWTSecret.
func loadJWTSecret(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (domain.SecretString, error) {
	if cfg.Auth.JWTSecretID != "" {
		sm := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})
		return adapter.LoadJWTSecret(ctx, sm, cfg.Auth.JWTSecretID)
	}
	if !cfg.Auth.JWTSecret.IsEmpty() {
		return cfg.Auth.JWTSecret, nil
	}
	if cfg.IsLocal() {
		logger.Warn("auth.jwt_secret not set, using the local development secret")
		return devJWTSecret, nil
	}
	return "", fmt.Errorf("%w: auth.jwt_secret or auth.jwt_secret_id", domain.ErrConfigRequired)
}

// loadBlockedTerms reads the SSM parameter when one is named, otherwise
// the inline list.
func loadBlockedTerms(ctx context.Context, cfg *config.Config, awsCfg aws.Config) ([]string, error) {
	if cfg.Chat.BlockedTermsParam == "" {
		return cfg.Chat.BlockedTerms, nil
	}
	client := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
	return adapter.LoadBlockedTerms(ctx, client, cfg.Chat.BlockedTermsParam)
}

func retryPolicy(base retry.Config, c config.RetryPolicyConfig) retry.Config {
	base.MaxRetries = c.MaxRetries
	base.BaseDelay = c.BaseDelay
	base.MaxDelay = c.MaxDelay
	base.Exponential = c.Exponential
	return base
}
