// Package retry re-runs failed store calls with capped exponential
// backoff. Two variants exist: Query for reads, which degrade to a "no
// result" sentinel, and Mutate for writes, which report a bare outcome.
// Neither returns an error to its caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/musicroom/internal/domain"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

var retryAttemptsTotal metric.Int64Counter

func init() {
	m := otel.Meter("retry")

	retryAttemptsTotal, _ = m.Int64Counter("chat_retry_attempts_total",
		metric.WithDescription("Total retries scheduled after a transient failure"))
}

// Config describes a single retry policy. It is copied per call, so
// options applied to one call never leak into another.
type Config struct {
	// MaxRetries counts retries after the initial try.
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
	// IsRetryable classifies failures. Nil means DefaultIsRetryable.
	IsRetryable func(error) bool
	// OnRetry runs synchronously before each wait, with attempt numbers
	// starting at 1.
	OnRetry func(attempt int, err error)
	// Audience receives query advisories. The zero value addresses
	// everyone watching the affected room.
	Audience domain.UserID
}

// Validate rejects negative or inverted values.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries %d is negative", domain.ErrInvalidInput, c.MaxRetries)
	case c.BaseDelay < 0:
		return fmt.Errorf("%w: base delay %s is negative", domain.ErrInvalidInput, c.BaseDelay)
	case c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("%w: max delay %s below base delay %s", domain.ErrInvalidInput, c.MaxDelay, c.BaseDelay)
	}
	return nil
}

// QueryDefaults returns the policy used for reads.
func QueryDefaults() Config {
	return Config{
		MaxRetries:  domain.QueryMaxRetries,
		BaseDelay:   domain.RetryBaseDelay,
		MaxDelay:    domain.RetryMaxDelay,
		Exponential: true,
	}
}

// MutationDefaults returns the policy used for writes.
func MutationDefaults() Config {
	return Config{
		MaxRetries:  domain.MutationMaxRetries,
		BaseDelay:   domain.RetryBaseDelay,
		MaxDelay:    domain.RetryMaxDelay,
		Exponential: true,
	}
}

// Option overrides one field of a Config for a single call.
type Option func(*Config)

func WithMaxRetries(n int) Option             { return func(c *Config) { c.MaxRetries = n } }
func WithBaseDelay(d time.Duration) Option    { return func(c *Config) { c.BaseDelay = d } }
func WithMaxDelay(d time.Duration) Option     { return func(c *Config) { c.MaxDelay = d } }
func WithExponential(on bool) Option          { return func(c *Config) { c.Exponential = on } }
func WithRetryable(f func(error) bool) Option { return func(c *Config) { c.IsRetryable = f } }
func WithAudience(id domain.UserID) Option    { return func(c *Config) { c.Audience = id } }

// WithOnRetry installs a hook called before each wait.
func WithOnRetry(f func(attempt int, err error)) Option {
	return func(c *Config) { c.OnRetry = f }
}

func (c Config) with(opts []Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Notifier delivers advisories. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, a domain.Advisory)
}

// Options holds the dependencies of a Retrier. Zero fields fall back to
// production defaults.
type Options struct {
	Query    *Config
	Mutation *Config
	Sleep    Sleeper
	// Jitter returns a value in [0, 1).
	Jitter   func() float64
	Notifier Notifier
	Logger   *slog.Logger
}

// Retrier runs operations under the query and mutation policies.
type Retrier struct {
	query    Config
	mutation Config
	sleep    Sleeper
	jitter   func() float64
	notifier Notifier
	logger   *slog.Logger
}

// New creates a Retrier.
func New(opts Options) *Retrier {
	r := &Retrier{
		query:    QueryDefaults(),
		mutation: MutationDefaults(),
		sleep:    opts.Sleep,
		jitter:   opts.Jitter,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if opts.Query != nil {
		r.query = *opts.Query
	}
	if opts.Mutation != nil {
		r.mutation = *opts.Mutation
	}
	if r.sleep == nil {
		r.sleep = SleepContext
	}
	if r.jitter == nil {
		r.jitter = rand.Float64
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// BaseDelayFor returns the unjittered wait before retry i (0-indexed).
func BaseDelayFor(cfg Config, i int) time.Duration {
	d := cfg.BaseDelay
	if cfg.Exponential {
		for n := 0; n < i && d < cfg.MaxDelay; n++ {
			d *= 2
		}
	}
	return min(d, cfg.MaxDelay)
}

// Delay returns the wait before retry i: the base delay plus additive
// jitter in [0, 0.3 × base). The jitter source must return [0, 1).
func Delay(cfg Config, i int, jitter func() float64) time.Duration {
	base := BaseDelayFor(cfg, i)
	return base + time.Duration(jitter()*domain.RetryJitterFactor*float64(base))
}

func run[T any](ctx context.Context, r *Retrier, name string, op func(context.Context) (T, error), cfg Config) (T, error) {
	var zero T
	isRetryable := cfg.IsRetryable
	if isRetryable == nil {
		isRetryable = DefaultIsRetryable
	}

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !isRetryable(err) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrRetriesExhausted, attempt+1, err)
		}

		delay := Delay(cfg, attempt, r.jitter)
		retryAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", name)))
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		r.logger.WarnContext(ctx, "retrying after transient failure",
			"op", name,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func (r *Retrier) notify(ctx context.Context, a domain.Advisory) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, a)
}
