package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/retry"
)

// RoomSessionConfig holds the dependencies for a RoomSession.
type RoomSessionConfig struct {
	RoomID   domain.RoomID
	Feed     RealtimeFeed
	Store    MessageStore
	Pipeline *Pipeline
	Retrier  *retry.Retrier
	Clock    domain.Clock
	Logger   *slog.Logger
	// Capacity bounds the timeline. Zero means domain.MaxBufferedEntries.
	Capacity int
	// HistoryLimit caps the rows loaded on join. Zero means
	// domain.HistoryPageSize.
	HistoryLimit int
}

// RoomSession keeps one room's timeline in sync with the realtime feed.
// After Leave every late row, insert and listener is a silent no-op.
type RoomSession struct {
	roomID       domain.RoomID
	feed         RealtimeFeed
	store        MessageStore
	pipeline     *Pipeline
	retrier      *retry.Retrier
	clock        domain.Clock
	logger       *slog.Logger
	historyLimit int
	buffer       *Buffer

	// deliverMu orders inserts with their listener callbacks, so every
	// listener observes entries in the order they settled.
	deliverMu sync.Mutex

	mu        sync.Mutex
	sub       domain.Subscription
	joined    bool
	closed    bool
	listeners map[int]func(domain.Entry)
	nextID    int
}

// NewRoomSession creates a session. Call Join before use.
func NewRoomSession(cfg RoomSessionConfig) *RoomSession {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = domain.MaxBufferedEntries
	}
	limit := cfg.HistoryLimit
	if limit == 0 {
		limit = domain.HistoryPageSize
	}
	return &RoomSession{
		roomID:       cfg.RoomID,
		feed:         cfg.Feed,
		store:        cfg.Store,
		pipeline:     cfg.Pipeline,
		retrier:      cfg.Retrier,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("room_id", cfg.RoomID.String()),
		historyLimit: limit,
		buffer:       NewBuffer(capacity),
		listeners:    make(map[int]func(domain.Entry)),
	}
}

// RoomID returns the room this session serves.
func (s *RoomSession) RoomID() domain.RoomID {
	return s.roomID
}

// Join subscribes to the room feed and then loads recent history.
// Subscribing first means nothing written in between is missed; the
// overlap is removed by deduplication. audience receives any advisory
// raised while history loads.
func (s *RoomSession) Join(ctx context.Context, audience domain.UserID) error {
	ctx, span := tracer.Start(ctx, "chat.room.join")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", s.roomID.String()))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrRoomClosed
	}
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = true
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, s.roomID, s.onBatch, s.onSingle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.mu.Lock()
		s.joined = false
		s.mu.Unlock()
		return fmt.Errorf("subscribe room %s: %w", s.roomID, err)
	}

	s.mu.Lock()
	if s.closed {
		// Left while subscribing.
		s.mu.Unlock()
		return errors.Join(domain.ErrRoomClosed, s.feed.Unsubscribe(sub))
	}
	s.sub = sub
	s.mu.Unlock()

	rows, ok := retry.Query(ctx, s.retrier, "list_recent_messages",
		func(ctx context.Context) ([]domain.RawRow, error) {
			return s.store.ListRecent(ctx, s.roomID, s.historyLimit)
		},
		retry.WithAudience(audience),
	)
	if !ok {
		// The room stays usable with live messages only.
		s.logger.WarnContext(ctx, "chat.history_unavailable")
		return nil
	}
	s.ingest(ctx, rows)
	return nil
}

func (s *RoomSession) onBatch(rows []domain.RawRow) {
	s.ingest(context.Background(), rows)
}

func (s *RoomSession) onSingle(row domain.RawRow) {
	s.ingest(context.Background(), []domain.RawRow{row})
}

// ingest parses rows at the boundary and inserts the valid ones.
func (s *RoomSession) ingest(ctx context.Context, rows []domain.RawRow) {
	for _, row := range rows {
		entry, err := domain.ParseEntry(row)
		if err != nil {
			feedInvalidRowsTotal.Add(ctx, 1)
			s.logger.WarnContext(ctx, "chat.invalid_row_dropped", "row_id", row.ID, "error", err)
			continue
		}
		if entry.Room() != s.roomID {
			feedInvalidRowsTotal.Add(ctx, 1)
			s.logger.WarnContext(ctx, "chat.foreign_row_dropped", "row_id", row.ID, "row_room_id", row.RoomID)
			continue
		}
		s.insert(ctx, entry)
	}
}

// insert places e in the timeline and notifies listeners if it is new.
func (s *RoomSession) insert(ctx context.Context, e domain.Entry) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	inserted := s.buffer.Insert(e)
	listeners := make([]func(domain.Entry), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if !inserted {
		feedDuplicatesTotal.Add(ctx, 1)
		return false
	}
	for _, fn := range listeners {
		fn(e)
	}
	return true
}

// Send runs a message through the pipeline and places it in the timeline
// once stored, without waiting for the feed to echo it back.
func (s *RoomSession) Send(ctx context.Context, userID domain.UserID, raw string) SendResult {
	res := s.pipeline.Send(ctx, s.roomID, userID, raw)
	if res.OK() {
		s.insert(ctx, res.Message)
	}
	return res
}

// Announce adds a local system message to the timeline. System messages
// are not persisted and have their own id namespace.
func (s *RoomSession) Announce(ctx context.Context, kind domain.SystemKind, content string) (domain.SystemMessage, error) {
	if !domain.IsValidSystemKind(kind) {
		return domain.SystemMessage{}, fmt.Errorf("%w: system kind %q", domain.ErrInvalidInput, kind)
	}
	msg := domain.SystemMessage{
		ID:        domain.GenerateMessageID(),
		RoomID:    s.roomID,
		Kind:      kind,
		Content:   content,
		CreatedAt: s.clock.Now().UTC(),
	}
	if !s.insert(ctx, msg) {
		return domain.SystemMessage{}, domain.ErrRoomClosed
	}
	return msg, nil
}

// Snapshot returns the timeline in display order.
func (s *RoomSession) Snapshot() []domain.Entry {
	return s.buffer.Snapshot()
}

// Listen registers fn for entries inserted from now on. fn runs on the
// inserting goroutine and must not block.
func (s *RoomSession) Listen(fn func(domain.Entry)) (cancel func()) {
	_, cancel = s.Watch(fn)
	return cancel
}

// Watch is Listen plus the timeline as it stood at registration, with no
// entry missed or repeated between the two.
func (s *RoomSession) Watch(fn func(domain.Entry)) (snapshot []domain.Entry, cancel func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return s.buffer.Snapshot(), func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Closed reports whether Leave has run.
func (s *RoomSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Leave releases the feed subscription, clears the timeline and prunes
// expired room-scoped rate limits, so a later join starts clean. It is
// safe to call more than once.
func (s *RoomSession) Leave(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "chat.room.leave")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = domain.Subscription{}
	clear(s.listeners)
	s.buffer.Clear()
	s.mu.Unlock()

	var errs []error
	if !sub.IsZero() {
		if err := s.feed.Unsubscribe(sub); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe room %s: %w", s.roomID, err))
		}
	}
	if s.pipeline != nil {
		if err := s.pipeline.Limiter().PruneRoom(ctx, s.roomID, s.clock.Now()); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
