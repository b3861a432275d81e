package app_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aelexs/musicroom/internal/chat/app"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/retry"
)

var testEpoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func noSleepRetrier(n app.Notifier) *retry.Retrier {
	return retry.New(retry.Options{
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Jitter:   func() float64 { return 0 },
		Notifier: n,
		Logger:   discardLogger(),
	})
}

// stubStore is a MessageStore whose behaviour is set per test.
type stubStore struct {
	mu        sync.Mutex
	insertFn  func(ctx context.Context, msg domain.ChatMessage) error
	listFn    func(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error)
	inserts   []string
	listCalls int
}

func (s *stubStore) InsertMessage(ctx context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	s.inserts = append(s.inserts, msg.Content)
	fn := s.insertFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	return nil
}

func (s *stubStore) ListRecent(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.RawRow, error) {
	s.mu.Lock()
	s.listCalls++
	fn := s.listFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, roomID, limit)
	}
	return nil, nil
}

func (s *stubStore) Inserts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inserts...)
}

// stubFeed captures the callbacks of each subscription so tests can push
// rows at will.
type stubFeed struct {
	mu           sync.Mutex
	subscribeErr error
	nextID       int
	onBatch      func([]domain.RawRow)
	onSingle     func(domain.RawRow)
	active       map[string]domain.Subscription
	unsubscribed []domain.Subscription
	events       *[]string
}

func newStubFeed() *stubFeed {
	return &stubFeed{active: make(map[string]domain.Subscription)}
}

func (f *stubFeed) Subscribe(_ context.Context, roomID domain.RoomID, onBatch func([]domain.RawRow), onSingle func(domain.RawRow)) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		*f.events = append(*f.events, "subscribe")
	}
	if f.subscribeErr != nil {
		return domain.Subscription{}, f.subscribeErr
	}
	f.nextID++
	sub := domain.Subscription{ID: fmt.Sprintf("sub-%d", f.nextID), RoomID: roomID}
	f.onBatch = onBatch
	f.onSingle = onSingle
	f.active[sub.ID] = sub
	return sub, nil
}

func (f *stubFeed) Unsubscribe(sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, sub.ID)
	f.unsubscribed = append(f.unsubscribed, sub)
	return nil
}

func (f *stubFeed) PushSingle(row domain.RawRow) {
	f.mu.Lock()
	fn := f.onSingle
	f.mu.Unlock()
	fn(row)
}

func (f *stubFeed) PushBatch(rows []domain.RawRow) {
	f.mu.Lock()
	fn := f.onBatch
	f.mu.Unlock()
	fn(rows)
}

func (f *stubFeed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type recordingNotifier struct {
	mu         sync.Mutex
	advisories []domain.Advisory
}

func (n *recordingNotifier) Notify(_ context.Context, a domain.Advisory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advisories = append(n.advisories, a)
}

func (n *recordingNotifier) All() []domain.Advisory {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Advisory(nil), n.advisories...)
}

func (n *recordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advisories = nil
}

// failingRateStore fails every call.
type failingRateStore struct{ err error }

func (s failingRateStore) Check(context.Context, string, time.Time) (domain.RateVerdict, error) {
	return domain.RateAllowed, s.err
}
func (s failingRateStore) Record(context.Context, string, time.Time) error      { return s.err }
func (s failingRateStore) Reset(context.Context, string) error                  { return s.err }
func (s failingRateStore) PrunePrefix(context.Context, string, time.Time) error { return s.err }

func userRow(id string, room domain.RoomID, user domain.UserID, content string, at time.Time) domain.RawRow {
	uid := user.String()
	return domain.RawRow{
		ID:        id,
		RoomID:    room.String(),
		UserID:    &uid,
		Content:   &content,
		CreatedAt: domain.FormatTimestamp(at),
		Type:      string(domain.EntryTypeUser),
	}
}
