package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aelexs/musicroom/internal/domain"
)

// MemoryRateLimitStore keeps send history in process memory. Entries are
// pruned lazily on Check; there is no background sweeper.
type MemoryRateLimitStore struct {
	limits domain.RateLimits

	mu      sync.Mutex
	entries map[string]*rateEntry
}

type rateEntry struct {
	sent []time.Time
	last time.Time
}

// NewMemoryRateLimitStore creates a store enforcing limits.
func NewMemoryRateLimitStore(limits domain.RateLimits) *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		limits:  limits,
		entries: make(map[string]*rateEntry),
	}
}

// Check classifies a send on key at now. The window limit is checked
// before the minimum interval.
func (s *MemoryRateLimitStore) Check(_ context.Context, key string, now time.Time) (domain.RateVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return domain.RateAllowed, nil
	}

	s.prune(e, now)

	if len(e.sent) >= s.limits.MaxPerWindow {
		return domain.RateTooMany, nil
	}
	if !e.last.IsZero() && now.Sub(e.last) < s.limits.MinInterval {
		return domain.RateTooFast, nil
	}
	if len(e.sent) == 0 {
		delete(s.entries, key)
	}
	return domain.RateAllowed, nil
}

// Record counts an accepted send at now.
func (s *MemoryRateLimitStore) Record(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &rateEntry{}
		s.entries[key] = e
	}
	e.sent = append(e.sent, now)
	e.last = now
	return nil
}

// Reset forgets key.
func (s *MemoryRateLimitStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// PrunePrefix forgets every key starting with prefix whose history no
// longer affects a verdict at now.
func (s *MemoryRateLimitStore) PrunePrefix(_ context.Context, prefix string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		s.prune(e, now)
		if len(e.sent) == 0 && now.Sub(e.last) >= s.limits.MinInterval {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *MemoryRateLimitStore) prune(e *rateEntry, now time.Time) {
	kept := e.sent[:0]
	for _, t := range e.sent {
		if now.Sub(t) < s.limits.Window {
			kept = append(kept, t)
		}
	}
	e.sent = kept
}

// Len returns the number of keys with history.
func (s *MemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
