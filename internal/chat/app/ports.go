// Package app holds the chat core: the send pipeline, the ordered room
// timeline and the room session lifecycle. Storage, realtime delivery and
// notification are reached through the interfaces below.
package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/observability"
)

var tracer = otel.Tracer("chat/app")

var (
	messagesSentTotal     metric.Int64Counter
	messagesRejectedTotal metric.Int64Counter
	feedDuplicatesTotal   metric.Int64Counter
	feedInvalidRowsTotal  metric.Int64Counter
	sendDurationSeconds   metric.Float64Histogram
)

func init() {
	m := otel.Meter("chat/app")

	messagesSentTotal, _ = m.Int64Counter("chat_messages_sent_total",
		metric.WithDescription("Total chat messages persisted"))
	messagesRejectedTotal, _ = m.Int64Counter("chat_messages_rejected_total",
		metric.WithDescription("Total chat sends rejected or failed, by reason"))
	feedDuplicatesTotal, _ = m.Int64Counter("chat_feed_duplicates_total",
		metric.WithDescription("Total feed rows dropped as duplicates"))
	feedInvalidRowsTotal, _ = m.Int64Counter("chat_feed_invalid_rows_total",
		metric.WithDescription("Total feed rows dropped as malformed"))
	sendDurationSeconds, _ = m.Float64Histogram(observability.SendDurationMetric,
		metric.WithDescription("Chat send latency, by final state"),
		metric.WithUnit("s"))
}

// MessageStore persists chat messages. The caller assigns the id and
// created_at, so a replayed insert targets the same row and fails with
// domain.ErrAlreadyExists instead of storing a copy.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg domain.ChatMessage) error
	ListRecent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error)
}

// RealtimeFeed pushes rows for a room as they are written. Delivery is
// at-least-once and unordered; callers deduplicate and sort.
type RealtimeFeed interface {
	Subscribe(ctx context.Context, roomID domain.RoomID, onBatch func([]domain.RawRow), onSingle func(domain.RawRow)) (domain.Subscription, error)
	Unsubscribe(sub domain.Subscription) error
}

// Notifier delivers user-facing advisories. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, a domain.Advisory)
}

// RateLimitStore keeps per-key send history. Implementations are built
// with the limits they enforce.
type RateLimitStore interface {
	// Check prunes history older than the window and classifies a send
	// at now. It does not record anything.
	Check(ctx context.Context, key string, now time.Time) (domain.RateVerdict, error)
	// Record counts an accepted send at now and makes it the last one.
	Record(ctx context.Context, key string, now time.Time) error
	Reset(ctx context.Context, key string) error
	// PrunePrefix drops the history of every key starting with prefix
	// that can no longer affect a verdict at now. Live history is kept.
	PrunePrefix(ctx context.Context, prefix string, now time.Time) error
}
