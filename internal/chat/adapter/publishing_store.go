package adapter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aelexs/musicroom/internal/domain"
)

// rowStore is the store a PublishingStore decorates.
type rowStore interface {
	InsertMessage(ctx context.Context, msg domain.ChatMessage) error
	ListRecent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error)
}

// RowPublisher fans a stored row out to the room's realtime feed.
type RowPublisher interface {
	Publish(ctx context.Context, row domain.RawRow) error
}

// PublishingStore publishes every inserted message to the realtime feed,
// standing in for database change notifications. A publish failure does
// not fail the insert: the row is stored and will arrive with the next
// history load.
type PublishingStore struct {
	store  rowStore
	pub    RowPublisher
	logger *slog.Logger
}

// NewPublishingStore wraps store.
func NewPublishingStore(store rowStore, pub RowPublisher, logger *slog.Logger) *PublishingStore {
	return &PublishingStore{store: store, pub: pub, logger: logger}
}

// InsertMessage stores the message, then publishes it. A message that is
// already stored is published again, since the attempt that stored it may
// have failed before publishing; subscribers deduplicate by id. The
// insert error is returned unchanged.
func (s *PublishingStore) InsertMessage(ctx context.Context, msg domain.ChatMessage) error {
	err := s.store.InsertMessage(ctx, msg)
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	if pubErr := s.pub.Publish(ctx, domain.ToRawRow(msg)); pubErr != nil {
		s.logger.WarnContext(ctx, "stored message not published",
			slog.String("room_id", msg.RoomID.String()),
			slog.String("message_id", msg.ID.String()),
			slog.Any("error", pubErr),
		)
	}
	return err
}

// ListRecent delegates to the wrapped store.
func (s *PublishingStore) ListRecent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error) {
	return s.store.ListRecent(ctx, roomID, limit)
}
