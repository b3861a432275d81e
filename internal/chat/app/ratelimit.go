package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/musicroom/internal/domain"
)

const rateKeyPrefix = "chat_rl:"

// RateLimiter maps sends onto RateLimitStore keys according to the
// configured scope and keeps a same-key send from overlapping another.
type RateLimiter struct {
	store RateLimitStore
	scope domain.RateLimitScope

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewRateLimiter creates a RateLimiter. An unknown scope falls back to
// per-user counting.
func NewRateLimiter(store RateLimitStore, scope domain.RateLimitScope) *RateLimiter {
	if !domain.IsValidRateLimitScope(scope) {
		scope = domain.RateLimitScopeUser
	}
	return &RateLimiter{
		store:    store,
		scope:    scope,
		inflight: make(map[string]struct{}),
	}
}

// Scope returns the configured counting scope.
func (l *RateLimiter) Scope() domain.RateLimitScope {
	return l.scope
}

// Key returns the store key a send by userID in roomID counts against.
func (l *RateLimiter) Key(roomID domain.RoomID, userID domain.UserID) string {
	if l.scope == domain.RateLimitScopeRoom {
		return roomKeyPrefix(roomID) + "user:" + userID.String()
	}
	return rateKeyPrefix + "user:" + userID.String()
}

func roomKeyPrefix(roomID domain.RoomID) string {
	return rateKeyPrefix + "room:" + roomID.String() + ":"
}

// begin claims key for one send. It fails while another send on the same
// key is between its check and its record.
func (l *RateLimiter) begin(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inflight[key]; busy {
		return false
	}
	l.inflight[key] = struct{}{}
	return true
}

func (l *RateLimiter) end(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, key)
}

// Check classifies a send on key at now.
func (l *RateLimiter) Check(ctx context.Context, key string, now time.Time) (domain.RateVerdict, error) {
	ctx, span := tracer.Start(ctx, "chat.ratelimit.check")
	defer span.End()
	span.SetAttributes(attribute.String("ratelimit.scope", string(l.scope)))

	verdict, err := l.store.Check(ctx, key, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.RateAllowed, fmt.Errorf("rate limit check %q: %w", key, err)
	}
	span.SetAttributes(attribute.String("ratelimit.verdict", verdict.String()))
	return verdict, nil
}

// Record counts an accepted send on key.
func (l *RateLimiter) Record(ctx context.Context, key string, now time.Time) error {
	if err := l.store.Record(ctx, key, now); err != nil {
		return fmt.Errorf("rate limit record %q: %w", key, err)
	}
	return nil
}

// PruneRoom drops the room's expired bookkeeping. History that still
// limits a sender survives, so leaving and rejoining a room cannot reset
// anyone's window. Per-user counting is not tied to a room and is left
// untouched.
func (l *RateLimiter) PruneRoom(ctx context.Context, roomID domain.RoomID, now time.Time) error {
	if l.scope != domain.RateLimitScopeRoom {
		return nil
	}
	if err := l.store.PrunePrefix(ctx, roomKeyPrefix(roomID), now); err != nil {
		return fmt.Errorf("prune room %s rate limits: %w", roomID, err)
	}
	return nil
}
