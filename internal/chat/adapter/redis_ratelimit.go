package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/musicroom/internal/domain"
	redisclient "github.com/aelexs/musicroom/internal/redis"
)

// checkScript prunes the sorted set of send times to the window and
// classifies the next send: 0 allowed, 1 too many, 2 too fast.
//
// KEYS[1] send-time zset, KEYS[2] last-send string.
// ARGV now_ms, window_ms, max_per_window, min_interval_ms.
const checkScript = `
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[2]))
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 1
end
local last = redis.call('GET', KEYS[2])
if last and now - tonumber(last) < tonumber(ARGV[4]) then
  return 2
end
return 0
`

// recordScript adds a send and refreshes both TTLs.
//
// KEYS as checkScript. ARGV now_ms, member, ttl_ms.
const recordScript = `
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`

// pruneScript drops expired send times and deletes both keys once neither
// can affect a verdict.
//
// KEYS as checkScript. ARGV now_ms, window_ms, min_interval_ms.
const pruneScript = `
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[2]))
if redis.call('ZCARD', KEYS[1]) > 0 then
  return 0
end
local last = redis.call('GET', KEYS[2])
if last and now - tonumber(last) < tonumber(ARGV[3]) then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
return 1
`

const scanBatch = 100

// RedisRateLimitStore shares send history across chat instances. Each key
// owns a sorted set of send times ("{key}:ts") and the last send time
// ("{key}:last"), both expiring once they can no longer affect a verdict.
// The hash tag keeps the pair in one Redis Cluster slot.
type RedisRateLimitStore struct {
	cmd    redisclient.Cmdable
	limits domain.RateLimits
}

// NewRedisRateLimitStore creates a store that uses cmd for Redis operations.
func NewRedisRateLimitStore(cmd redisclient.Cmdable, limits domain.RateLimits) *RedisRateLimitStore {
	return &RedisRateLimitStore{cmd: cmd, limits: limits}
}

// Check classifies a send on key at now without recording it.
func (s *RedisRateLimitStore) Check(ctx context.Context, key string, now time.Time) (domain.RateVerdict, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	code, err := s.cmd.Eval(ctx, checkScript, rateKeys(key),
		now.UnixMilli(),
		s.limits.Window.Milliseconds(),
		s.limits.MaxPerWindow,
		s.limits.MinInterval.Milliseconds(),
	).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.RateAllowed, fmt.Errorf("rate limit check %q: %w", key, err)
	}

	switch code {
	case 0:
		return domain.RateAllowed, nil
	case 1:
		return domain.RateTooMany, nil
	case 2:
		return domain.RateTooFast, nil
	default:
		return domain.RateAllowed, fmt.Errorf("rate limit check %q: unexpected result %d", key, code)
	}
}

// Record counts an accepted send on key at now.
func (s *RedisRateLimitStore) Record(ctx context.Context, key string, now time.Time) error {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	ttl := max(s.limits.Window, s.limits.MinInterval)
	err := s.cmd.Eval(ctx, recordScript, rateKeys(key),
		now.UnixMilli(),
		uuid.NewString(),
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("rate limit record %q: %w", key, err)
	}
	return nil
}

// Reset forgets key.
func (s *RedisRateLimitStore) Reset(ctx context.Context, key string) error {
	if err := s.cmd.Del(ctx, rateKeys(key)...).Err(); err != nil {
		return fmt.Errorf("rate limit reset %q: %w", key, err)
	}
	return nil
}

// PrunePrefix forgets every key starting with prefix whose history no
// longer affects a verdict at now. The prefix is used as a SCAN pattern,
// so it must not contain glob metacharacters.
func (s *RedisRateLimitStore) PrunePrefix(ctx context.Context, prefix string, now time.Time) error {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.prune_prefix")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SCAN"),
	)

	var cursor uint64
	for {
		keys, next, err := s.cmd.Scan(ctx, cursor, "{"+prefix+"*}:ts", scanBatch).Result()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("rate limit scan %q: %w", prefix, err)
		}
		for _, k := range keys {
			key := strings.TrimSuffix(strings.TrimPrefix(k, "{"), "}:ts")
			err := s.cmd.Eval(ctx, pruneScript, rateKeys(key),
				now.UnixMilli(),
				s.limits.Window.Milliseconds(),
				s.limits.MinInterval.Milliseconds(),
			).Err()
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("rate limit prune %q: %w", key, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func rateKeys(key string) []string {
	return []string{"{" + key + "}:ts", "{" + key + "}:last"}
}
