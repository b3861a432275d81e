package adapter

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aelexs/musicroom/internal/domain"
)

// MemoryFeed delivers rows synchronously to subscribers in the same
// process. It backs single-instance deployments and tests.
type MemoryFeed struct {
	mu   sync.RWMutex
	subs map[string]memorySubscription
}

type memorySubscription struct {
	roomID   domain.RoomID
	onBatch  func([]domain.RawRow)
	onSingle func(domain.RawRow)
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]memorySubscription)}
}

// Subscribe registers callbacks for roomID.
func (f *MemoryFeed) Subscribe(_ context.Context, roomID domain.RoomID, onBatch func([]domain.RawRow), onSingle func(domain.RawRow)) (domain.Subscription, error) {
	sub := domain.Subscription{ID: uuid.NewString(), RoomID: roomID}
	f.mu.Lock()
	f.subs[sub.ID] = memorySubscription{roomID: roomID, onBatch: onBatch, onSingle: onSingle}
	f.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes sub. Unknown subscriptions are ignored.
func (f *MemoryFeed) Unsubscribe(sub domain.Subscription) error {
	f.mu.Lock()
	delete(f.subs, sub.ID)
	f.mu.Unlock()
	return nil
}

// Publish hands row to every subscriber of its room.
func (f *MemoryFeed) Publish(_ context.Context, row domain.RawRow) error {
	for _, s := range f.subscribers(row.RoomID) {
		s.onSingle(row)
	}
	return nil
}

// PublishBatch hands rows to every subscriber of roomID as one batch.
func (f *MemoryFeed) PublishBatch(_ context.Context, roomID domain.RoomID, rows []domain.RawRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, s := range f.subscribers(roomID.String()) {
		s.onBatch(rows)
	}
	return nil
}

// Len returns the number of live subscriptions.
func (f *MemoryFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// subscribers snapshots the room's callbacks so they run without the lock
// held; a callback may unsubscribe.
func (f *MemoryFeed) subscribers(roomID string) []memorySubscription {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []memorySubscription
	for _, s := range f.subs {
		if s.roomID.String() == roomID {
			out = append(out, s)
		}
	}
	return out
}
