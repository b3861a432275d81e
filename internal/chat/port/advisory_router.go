package port

import (
	"context"
	"sync"

	"github.com/aelexs/musicroom/internal/domain"
)

// fallbackNotifier receives advisories nobody is connected to see.
type fallbackNotifier interface {
	Notify(ctx context.Context, a domain.Advisory)
}

// AdvisoryRouter delivers advisories to the sockets of the user they are
// addressed to. When ctx names a room only that room's sockets are
// considered. An advisory with no user goes to every socket in scope.
type AdvisoryRouter struct {
	fallback fallbackNotifier

	mu     sync.RWMutex
	sinks  map[int]advisorySink
	nextID int
}

type advisorySink struct {
	userID  domain.UserID
	roomID  domain.RoomID
	deliver func(domain.Advisory)
}

// NewAdvisoryRouter creates a router. fallback may be nil.
func NewAdvisoryRouter(fallback fallbackNotifier) *AdvisoryRouter {
	return &AdvisoryRouter{fallback: fallback, sinks: make(map[int]advisorySink)}
}

// Register adds a socket's delivery function. deliver must not block.
func (r *AdvisoryRouter) Register(userID domain.UserID, roomID domain.RoomID, deliver func(domain.Advisory)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.sinks[id] = advisorySink{userID: userID, roomID: roomID, deliver: deliver}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sinks, id)
			r.mu.Unlock()
		})
	}
}

// Notify implements app.Notifier.
func (r *AdvisoryRouter) Notify(ctx context.Context, a domain.Advisory) {
	roomID, scoped := RoomFromContext(ctx)

	r.mu.RLock()
	var targets []func(domain.Advisory)
	for _, s := range r.sinks {
		if scoped && s.roomID != roomID {
			continue
		}
		if !a.UserID.IsZero() && s.userID != a.UserID {
			continue
		}
		targets = append(targets, s.deliver)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		if r.fallback != nil {
			r.fallback.Notify(ctx, a)
		}
		return
	}
	for _, deliver := range targets {
		deliver(a)
	}
}

// Len returns the number of registered sockets.
func (r *AdvisoryRouter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
