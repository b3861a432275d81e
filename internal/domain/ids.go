// Package domain contains the chat core's value objects, entries, limits
// and sentinel errors. It depends on nothing outside the standard library
// and uuid.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// RoomID identifies a music room. Always valid in memory - use NewRoomID.
type RoomID struct {
	value string
}

// NewRoomID creates a RoomID from a raw string, validating it is a valid UUID.
func NewRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return RoomID{}, fmt.Errorf("invalid room ID %q: %w", raw, ErrInvalidID)
	}
	return RoomID{value: raw}, nil
}

// MustRoomID creates a RoomID, panicking on invalid input. Use only in tests.
func MustRoomID(raw string) RoomID {
	id, err := NewRoomID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateRoomID creates a new random RoomID.
func GenerateRoomID() RoomID {
	return RoomID{value: uuid.NewString()}
}

func (id RoomID) String() string { return id.value }
func (id RoomID) IsZero() bool   { return id.value == "" }

// UserID identifies the author of a chat message.
type UserID struct {
	value string
}

// NewUserID creates a UserID from a raw string, validating it is a valid UUID.
func NewUserID(raw string) (UserID, error) {
	if raw == "" {
		return UserID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return UserID{}, fmt.Errorf("invalid user ID %q: %w", raw, ErrInvalidID)
	}
	return UserID{value: raw}, nil
}

// MustUserID creates a UserID, panicking on invalid input. Use only in tests.
func MustUserID(raw string) UserID {
	id, err := NewUserID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateUserID creates a new random UserID.
func GenerateUserID() UserID {
	return UserID{value: uuid.NewString()}
}

func (id UserID) String() string { return id.value }
func (id UserID) IsZero() bool   { return id.value == "" }

// MessageID identifies a persisted chat message or an injected system
// message. User message IDs are assigned by the persistence layer, never
// by the sending client.
type MessageID struct {
	value string
}

// NewMessageID creates a MessageID from a raw string, validating it is a valid UUID.
func NewMessageID(raw string) (MessageID, error) {
	if raw == "" {
		return MessageID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return MessageID{}, fmt.Errorf("invalid message ID %q: %w", raw, ErrInvalidID)
	}
	return MessageID{value: raw}, nil
}

// MustMessageID creates a MessageID, panicking on invalid input. Use only in tests.
func MustMessageID(raw string) MessageID {
	id, err := NewMessageID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateMessageID creates a new random MessageID.
func GenerateMessageID() MessageID {
	return MessageID{value: uuid.NewString()}
}

func (id MessageID) String() string { return id.value }
func (id MessageID) IsZero() bool   { return id.value == "" }

// ConnectionID identifies a single websocket connection to a room.
type ConnectionID struct {
	value string
}

// GenerateConnectionID creates a new random ConnectionID.
func GenerateConnectionID() ConnectionID {
	return ConnectionID{value: uuid.NewString()}
}

func (id ConnectionID) String() string { return id.value }
func (id ConnectionID) IsZero() bool   { return id.value == "" }
