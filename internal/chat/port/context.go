package port

import (
	"context"

	"github.com/aelexs/musicroom/internal/domain"
)

type ctxKey int

const (
	userKey ctxKey = iota
	roomKey
)

// WithUser returns ctx carrying the authenticated user.
func WithUser(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (domain.UserID, bool) {
	id, ok := ctx.Value(userKey).(domain.UserID)
	return id, ok && !id.IsZero()
}

// WithRoom returns ctx scoped to a room, so advisories raised under it
// reach only that room's connections.
func WithRoom(ctx context.Context, roomID domain.RoomID) context.Context {
	return context.WithValue(ctx, roomKey, roomID)
}

// RoomFromContext returns the room ctx is scoped to, if any.
func RoomFromContext(ctx context.Context) (domain.RoomID, bool) {
	id, ok := ctx.Value(roomKey).(domain.RoomID)
	return id, ok && !id.IsZero()
}
