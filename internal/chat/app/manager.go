package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aelexs/musicroom/internal/domain"
)

// SessionFactory builds an unjoined session for a room.
type SessionFactory func(roomID domain.RoomID) *RoomSession

// RoomManager shares one RoomSession per room between all of its
// connections. The session is joined on first Acquire and left when the
// last holder releases it.
type RoomManager struct {
	newSession SessionFactory
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[domain.RoomID]*managedSession
	closed   bool
}

type managedSession struct {
	session *RoomSession
	refs    int
	ready   chan struct{}
	err     error
}

// NewRoomManager creates a RoomManager.
func NewRoomManager(factory SessionFactory, logger *slog.Logger) *RoomManager {
	return &RoomManager{
		newSession: factory,
		logger:     logger,
		sessions:   make(map[domain.RoomID]*managedSession),
	}
}

// Acquire returns the joined session for roomID, joining it if this is
// the first holder. Every successful Acquire must be paired with Release.
func (m *RoomManager) Acquire(ctx context.Context, roomID domain.RoomID, audience domain.UserID) (*RoomSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrRoomClosed
	}
	if ms, ok := m.sessions[roomID]; ok {
		ms.refs++
		m.mu.Unlock()

		select {
		case <-ms.ready:
		case <-ctx.Done():
			m.release(ctx, roomID, ms)
			return nil, ctx.Err()
		}
		if ms.err != nil {
			return nil, ms.err
		}
		return ms.session, nil
	}

	ms := &managedSession{
		session: m.newSession(roomID),
		refs:    1,
		ready:   make(chan struct{}),
	}
	m.sessions[roomID] = ms
	m.mu.Unlock()

	ms.err = ms.session.Join(ctx, audience)
	if ms.err != nil {
		m.mu.Lock()
		if m.sessions[roomID] == ms {
			delete(m.sessions, roomID)
		}
		m.mu.Unlock()
		close(ms.ready)
		return nil, errors.Join(ms.err, ms.session.Leave(context.WithoutCancel(ctx)))
	}
	close(ms.ready)
	return ms.session, nil
}

// Release drops one hold on roomID and leaves the room when none remain.
func (m *RoomManager) Release(ctx context.Context, roomID domain.RoomID) error {
	m.mu.Lock()
	ms, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.release(ctx, roomID, ms)
}

func (m *RoomManager) release(ctx context.Context, roomID domain.RoomID, ms *managedSession) error {
	m.mu.Lock()
	if m.sessions[roomID] != ms {
		m.mu.Unlock()
		return nil
	}
	ms.refs--
	if ms.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, roomID)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "chat.room_left", "room_id", roomID.String())
	return ms.session.Leave(ctx)
}

// Get returns the joined session for roomID without taking a hold.
func (m *RoomManager) Get(roomID domain.RoomID) (*RoomSession, bool) {
	m.mu.Lock()
	ms, ok := m.sessions[roomID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-ms.ready:
		if ms.err != nil {
			return nil, false
		}
		return ms.session, true
	default:
		return nil, false
	}
}

// Len returns the number of rooms currently held.
func (m *RoomManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close leaves every room and refuses further Acquire calls.
func (m *RoomManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[domain.RoomID]*managedSession)
	m.mu.Unlock()

	var errs []error
	for _, ms := range sessions {
		<-ms.ready
		if ms.err != nil {
			continue
		}
		errs = append(errs, ms.session.Leave(ctx))
	}
	return errors.Join(errs...)
}
