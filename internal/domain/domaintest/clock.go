// Package domaintest provides test doubles for the domain package.
package domaintest

import (
	"context"
	"sync"
	"time"

	"github.com/aelexs/musicroom/internal/domain"
)

// FakeClock is a manual clock. Rate-limit windows and retry backoff are
// exercised by advancing it instead of sleeping.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ domain.Clock = (*FakeClock)(nil)

// NewFakeClock returns a clock stopped at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps to t, which may be in the past.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Sleep has the retry.Sleeper shape: it advances the clock by d and
// returns at once, or returns ctx's error if it is already done.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}
