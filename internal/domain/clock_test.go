package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/domain/domaintest"
)

func TestRealClock(t *testing.T) {
	clock := domain.RealClock{}
	before := time.Now()
	got := clock.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFakeClock(t *testing.T) {
	fixedTime := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns fixed time", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		assert.True(t, clock.Now().Equal(fixedTime))
	})

	t.Run("advance moves time forward", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		clock.Advance(1500 * time.Millisecond)

		assert.True(t, clock.Now().Equal(fixedTime.Add(1500*time.Millisecond)))
	})

	t.Run("set changes time", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
		clock.Set(newTime)

		assert.True(t, clock.Now().Equal(newTime))
	})

	t.Run("sleep advances instead of blocking", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		require.NoError(t, clock.Sleep(context.Background(), 2*time.Second))
		assert.True(t, clock.Now().Equal(fixedTime.Add(2*time.Second)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, clock.Sleep(ctx, time.Hour), context.Canceled)
		assert.True(t, clock.Now().Equal(fixedTime.Add(2*time.Second)))
	})
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Run("preserves nanoseconds", func(t *testing.T) {
		ts := time.Date(2026, 2, 1, 10, 30, 45, 123456789, time.UTC)

		got, err := domain.ParseTimestamp(domain.FormatTimestamp(ts))

		require.NoError(t, err)
		assert.True(t, got.Equal(ts))
	})

	t.Run("accepts whole seconds and offsets", func(t *testing.T) {
		got, err := domain.ParseTimestamp("2026-02-01T12:30:45+02:00")

		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 1, 10, 30, 45, 0, time.UTC), got)
		assert.Equal(t, time.UTC, got.Location())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := domain.ParseTimestamp("yesterday")
		assert.Error(t, err)
	})
}
