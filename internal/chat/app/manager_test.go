package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/musicroom/internal/chat/adapter"
	"github.com/aelexs/musicroom/internal/chat/app"
	"github.com/aelexs/musicroom/internal/domain"
	"github.com/aelexs/musicroom/internal/domain/domaintest"
)

func newTestManager(feed *stubFeed) (*app.RoomManager, *int) {
	return newScopedTestManager(feed, domain.RateLimitScopeUser)
}

func newScopedTestManager(feed *stubFeed, scope domain.RateLimitScope) (*app.RoomManager, *int) {
	clock := domaintest.NewFakeClock(testEpoch)
	notifier := &recordingNotifier{}
	store := &stubStore{}
	retrier := noSleepRetrier(notifier)
	pipeline := app.NewPipeline(app.PipelineConfig{
		Store:    store,
		Limiter:  app.NewRateLimiter(adapter.NewMemoryRateLimitStore(domain.DefaultRateLimits()), scope),
		Retrier:  retrier,
		Notifier: notifier,
		Clock:    clock,
		Logger:   discardLogger(),
	})

	var mu sync.Mutex
	created := 0
	factory := func(roomID domain.RoomID) *app.RoomSession {
		mu.Lock()
		created++
		mu.Unlock()
		return app.NewRoomSession(app.RoomSessionConfig{
			RoomID:   roomID,
			Feed:     feed,
			Store:    store,
			Pipeline: pipeline,
			Retrier:  retrier,
			Clock:    clock,
			Logger:   discardLogger(),
		})
	}
	return app.NewRoomManager(factory, discardLogger()), &created
}

func TestRoomManager(t *testing.T) {
	ctx := context.Background()

	t.Run("shares one session per room", func(t *testing.T) {
		feed := newStubFeed()
		m, created := newTestManager(feed)
		room := domain.GenerateRoomID()

		a, err := m.Acquire(ctx, room, domain.GenerateUserID())
		require.NoError(t, err)
		b, err := m.Acquire(ctx, room, domain.GenerateUserID())
		require.NoError(t, err)

		assert.Same(t, a, b)
		assert.Equal(t, 1, *created)
		assert.Equal(t, 1, feed.Active())

		got, ok := m.Get(room)
		assert.True(t, ok)
		assert.Same(t, a, got)
	})

	t.Run("last release leaves the room", func(t *testing.T) {
		feed := newStubFeed()
		m, _ := newTestManager(feed)
		room := domain.GenerateRoomID()

		s, err := m.Acquire(ctx, room, domain.UserID{})
		require.NoError(t, err)
		_, err = m.Acquire(ctx, room, domain.UserID{})
		require.NoError(t, err)

		require.NoError(t, m.Release(ctx, room))
		assert.False(t, s.Closed())
		assert.Equal(t, 1, feed.Active())

		require.NoError(t, m.Release(ctx, room))
		assert.True(t, s.Closed())
		assert.Zero(t, feed.Active())
		assert.Zero(t, m.Len())

		_, ok := m.Get(room)
		assert.False(t, ok)
	})

	t.Run("rejoining after leave starts clean", func(t *testing.T) {
		feed := newStubFeed()
		m, created := newTestManager(feed)
		room := domain.GenerateRoomID()

		first, err := m.Acquire(ctx, room, domain.UserID{})
		require.NoError(t, err)
		_, err = first.Announce(ctx, domain.SystemKindJoin, "hello")
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, room))

		second, err := m.Acquire(ctx, room, domain.UserID{})
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		assert.Empty(t, second.Snapshot())
		assert.Equal(t, 2, *created)
		assert.Equal(t, 1, feed.Active())
	})

	t.Run("join failure is not cached", func(t *testing.T) {
		feed := newStubFeed()
		feed.subscribeErr = errors.New("feed down")
		m, _ := newTestManager(feed)
		room := domain.GenerateRoomID()

		_, err := m.Acquire(ctx, room, domain.UserID{})
		require.Error(t, err)
		assert.Zero(t, m.Len())

		feed.mu.Lock()
		feed.subscribeErr = nil
		feed.mu.Unlock()

		_, err = m.Acquire(ctx, room, domain.UserID{})
		assert.NoError(t, err)
	})

	t.Run("release of unknown room is a no-op", func(t *testing.T) {
		m, _ := newTestManager(newStubFeed())
		assert.NoError(t, m.Release(ctx, domain.GenerateRoomID()))
	})

	t.Run("close leaves every room", func(t *testing.T) {
		feed := newStubFeed()
		m, _ := newTestManager(feed)
		s1, err := m.Acquire(ctx, domain.GenerateRoomID(), domain.UserID{})
		require.NoError(t, err)
		s2, err := m.Acquire(ctx, domain.GenerateRoomID(), domain.UserID{})
		require.NoError(t, err)

		require.NoError(t, m.Close(ctx))

		assert.True(t, s1.Closed())
		assert.True(t, s2.Closed())
		assert.Zero(t, feed.Active())
		_, err = m.Acquire(ctx, domain.GenerateRoomID(), domain.UserID{})
		assert.ErrorIs(t, err, domain.ErrRoomClosed)
	})
}

func TestRoomManager_RateLimitsOutliveTransientHolds(t *testing.T) {
	ctx := context.Background()

	for _, scope := range []domain.RateLimitScope{domain.RateLimitScopeUser, domain.RateLimitScopeRoom} {
		t.Run(string(scope), func(t *testing.T) {
			m, _ := newScopedTestManager(newStubFeed(), scope)
			room := domain.GenerateRoomID()
			user := domain.GenerateUserID()

			var results []app.SendResult
			for range 3 {
				s, err := m.Acquire(ctx, room, user)
				require.NoError(t, err)
				results = append(results, s.Send(ctx, user, "hi"))
				require.NoError(t, m.Release(ctx, room))
			}

			assert.True(t, results[0].OK())
			for _, res := range results[1:] {
				assert.Equal(t, app.StateRejected, res.State)
				assert.ErrorIs(t, res.Err, domain.ErrSendingTooFast)
			}
		})
	}
}
