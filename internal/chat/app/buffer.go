package app

import (
	"slices"
	"sort"
	"sync"

	"github.com/aelexs/musicroom/internal/domain"
)

// Buffer is a room timeline: entries sorted by timestamp and unique by
// Key. Equal timestamps keep arrival order and placed entries never move
// relative to each other. It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	entries  []domain.Entry
	seen     map[string]struct{}
	capacity int

	// evicted remembers the keys of trimmed entries, oldest first, so a
	// redelivered row cannot come back. It holds at most capacity keys.
	evicted      map[string]struct{}
	evictedOrder []string
}

// NewBuffer creates a Buffer that keeps at most capacity entries,
// dropping the oldest. A capacity of zero or less means unbounded.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		seen:     make(map[string]struct{}),
		capacity: capacity,
		evicted:  make(map[string]struct{}),
	}
}

// Insert places e after every entry whose timestamp is not later than
// its own. It reports false for a duplicate key (including recently
// trimmed ones), or for an entry older than everything retained by a full
// buffer.
func (b *Buffer) Insert(e domain.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(e)
}

// InsertBatch inserts each entry in order and returns how many were new.
func (b *Buffer) InsertBatch(entries []domain.Entry) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, e := range entries {
		if b.insertLocked(e) {
			n++
		}
	}
	return n
}

func (b *Buffer) insertLocked(e domain.Entry) bool {
	key := e.Key()
	if _, dup := b.seen[key]; dup {
		return false
	}
	if _, gone := b.evicted[key]; gone {
		return false
	}

	ts := e.Timestamp()
	if b.full() && ts.Before(b.entries[0].Timestamp()) {
		return false
	}

	i := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].Timestamp().After(ts)
	})
	b.entries = slices.Insert(b.entries, i, e)
	b.seen[key] = struct{}{}

	if b.capacity > 0 && len(b.entries) > b.capacity {
		drop := len(b.entries) - b.capacity
		for _, old := range b.entries[:drop] {
			delete(b.seen, old.Key())
			b.tombstone(old.Key())
		}
		b.entries = slices.Delete(b.entries, 0, drop)
	}
	return true
}

func (b *Buffer) tombstone(key string) {
	b.evicted[key] = struct{}{}
	b.evictedOrder = append(b.evictedOrder, key)
	if len(b.evictedOrder) > b.capacity {
		delete(b.evicted, b.evictedOrder[0])
		b.evictedOrder = slices.Delete(b.evictedOrder, 0, 1)
	}
}

func (b *Buffer) full() bool {
	return b.capacity > 0 && len(b.entries) >= b.capacity
}

// Snapshot returns a copy of the timeline in display order.
func (b *Buffer) Snapshot() []domain.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.entries)
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear drops every entry and forgets every key.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	clear(b.seen)
	clear(b.evicted)
	b.evictedOrder = nil
}
