package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/musicroom/internal/domain"
	redisclient "github.com/aelexs/musicroom/internal/redis"
)

// RoomChannel returns the Pub/Sub channel carrying a room's rows.
func RoomChannel(roomID domain.RoomID) string {
	return roomChannel(roomID.String())
}

func roomChannel(roomID string) string {
	return "room:" + roomID + ":messages"
}

// RedisFeed delivers room rows over Redis Pub/Sub. A payload holding a
// JSON array is handed to the batch callback, a single object to the
// single-row callback.
type RedisFeed struct {
	sub    redisclient.Subscriber
	pub    redisclient.Cmdable
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*redisSubscription
	wg   sync.WaitGroup
}

type redisSubscription struct {
	ps     *redisclient.PubSub
	roomID domain.RoomID
}

// NewRedisFeed creates a feed. client is typically the same *redis.Client
// for both roles.
func NewRedisFeed(sub redisclient.Subscriber, pub redisclient.Cmdable, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{
		sub:    sub,
		pub:    pub,
		logger: logger,
		subs:   make(map[string]*redisSubscription),
	}
}

// Subscribe listens on the room's channel until Unsubscribe or Close. It
// returns once the server has confirmed the subscription.
func (f *RedisFeed) Subscribe(ctx context.Context, roomID domain.RoomID, onBatch func([]domain.RawRow), onSingle func(domain.RawRow)) (domain.Subscription, error) {
	ctx, span := tracer.Start(ctx, "redis.feed.subscribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("messaging.destination", RoomChannel(roomID)),
	)

	ps := f.sub.Subscribe(ctx, RoomChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Subscription{}, fmt.Errorf("subscribe room %s: %w", roomID, err)
	}

	sub := domain.Subscription{ID: uuid.NewString(), RoomID: roomID}
	f.mu.Lock()
	f.subs[sub.ID] = &redisSubscription{ps: ps, roomID: roomID}
	f.mu.Unlock()

	ch := ps.Channel()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for msg := range ch {
			f.dispatch(roomID, []byte(msg.Payload), onBatch, onSingle)
		}
	}()

	return sub, nil
}

func (f *RedisFeed) dispatch(roomID domain.RoomID, payload []byte, onBatch func([]domain.RawRow), onSingle func(domain.RawRow)) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []domain.RawRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			f.logger.Warn("dropping undecodable feed batch", slog.String("room_id", roomID.String()), slog.Any("error", err))
			return
		}
		onBatch(rows)
		return
	}

	var row domain.RawRow
	if err := json.Unmarshal(trimmed, &row); err != nil {
		f.logger.Warn("dropping undecodable feed row", slog.String("room_id", roomID.String()), slog.Any("error", err))
		return
	}
	onSingle(row)
}

// Unsubscribe stops delivery for sub. Unknown or already closed
// subscriptions are ignored.
func (f *RedisFeed) Unsubscribe(sub domain.Subscription) error {
	f.mu.Lock()
	s, ok := f.subs[sub.ID]
	delete(f.subs, sub.ID)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.ps.Close(); err != nil {
		return fmt.Errorf("unsubscribe room %s: %w", s.roomID, err)
	}
	return nil
}

// Publish sends one row to its room's channel.
func (f *RedisFeed) Publish(ctx context.Context, row domain.RawRow) error {
	return f.publish(ctx, row.RoomID, row)
}

// PublishBatch sends rows of one room as a single array payload.
func (f *RedisFeed) PublishBatch(ctx context.Context, roomID domain.RoomID, rows []domain.RawRow) error {
	if len(rows) == 0 {
		return nil
	}
	return f.publish(ctx, roomID.String(), rows)
}

func (f *RedisFeed) publish(ctx context.Context, roomID string, v any) error {
	ctx, span := tracer.Start(ctx, "redis.feed.publish")
	defer span.End()
	channel := roomChannel(roomID)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("messaging.destination", channel),
	)

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode feed payload: %w", err)
	}
	if err := f.pub.Publish(ctx, channel, payload).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Close ends every subscription and waits for their delivery goroutines.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[string]*redisSubscription)
	f.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.wg.Wait()
	return firstErr
}
