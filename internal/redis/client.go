package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is a type alias for redis.Cmdable. Adapters accept this interface
// instead of importing go-redis directly, keeping the library confined to
// internal/redis/ per depguard rules.
type Cmdable = redis.Cmdable

// PubSub and Message alias the go-redis subscription types for the room feed.
type (
	PubSub  = redis.PubSub
	Message = redis.Message
	Script  = redis.Script
)

// Subscriber is the subset of a client that can open channel subscriptions.
// *redis.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *PubSub
}

// NewScript wraps a Lua script so it is sent by SHA after first use.
func NewScript(src string) *Script {
	return redis.NewScript(src)
}

// IsNil reports whether err is the "key does not exist" reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Config holds the parameters needed to connect to a Redis instance.
type Config struct {
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client wraps a go-redis client. The RDB field satisfies the Cmdable
// interface and is the handle adapters use for Redis operations.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new Redis client configured from cfg.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Client{RDB: rdb}
}

// Ping verifies the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.RDB.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}
