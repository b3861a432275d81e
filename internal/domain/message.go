package domain

import (
	"fmt"
	"time"
)

// EntryType discriminates the two kinds of entries a room timeline holds.
type EntryType string

const (
	EntryTypeUser   EntryType = "user"
	EntryTypeSystem EntryType = "system"
)

// SystemKind names the membership event a system message describes.
type SystemKind string

const (
	SystemKindJoin       SystemKind = "join"
	SystemKindLeave      SystemKind = "leave"
	SystemKindRoleChange SystemKind = "role_change"
)

// IsValidSystemKind reports whether k is a known system message kind.
func IsValidSystemKind(k SystemKind) bool {
	switch k {
	case SystemKindJoin, SystemKindLeave, SystemKindRoleChange:
		return true
	}
	return false
}

// Entry is a settled item of a room timeline: either a ChatMessage or a
// SystemMessage. The set of implementations is closed.
type Entry interface {
	Type() EntryType
	// Key is unique across both variants; user and system ids live in
	// separate namespaces.
	Key() string
	Room() RoomID
	Timestamp() time.Time
	isEntry()
}

// ChatMessage is a persisted message authored by a user.
type ChatMessage struct {
	ID        MessageID
	RoomID    RoomID
	UserID    UserID
	Content   string
	CreatedAt time.Time
}

func (m ChatMessage) Type() EntryType      { return EntryTypeUser }
func (m ChatMessage) Key() string          { return "user:" + m.ID.String() }
func (m ChatMessage) Room() RoomID         { return m.RoomID }
func (m ChatMessage) Timestamp() time.Time { return m.CreatedAt }
func (ChatMessage) isEntry()               {}

// SystemMessage is a locally generated membership notice. It shares the
// timeline with user messages but is never persisted.
type SystemMessage struct {
	ID        MessageID
	RoomID    RoomID
	Kind      SystemKind
	Content   string
	CreatedAt time.Time
}

func (m SystemMessage) Type() EntryType      { return EntryTypeSystem }
func (m SystemMessage) Key() string          { return "system:" + m.ID.String() }
func (m SystemMessage) Room() RoomID         { return m.RoomID }
func (m SystemMessage) Timestamp() time.Time { return m.CreatedAt }
func (SystemMessage) isEntry()               {}

// RawRow is the loosely typed shape rows arrive in from the persistence
// layer and the realtime feed. Nothing downstream of ParseEntry sees it.
type RawRow struct {
	ID        string  `json:"id"`
	RoomID    string  `json:"room_id"`
	UserID    *string `json:"user_id,omitempty"`
	Content   *string `json:"content,omitempty"`
	CreatedAt string  `json:"created_at"`
	Type      string  `json:"type,omitempty"`
	Kind      string  `json:"kind,omitempty"`
}

// ParseEntry converts a raw row into an Entry. A missing type means a
// user row. Every failure wraps ErrInvalidRow.
func ParseEntry(raw RawRow) (Entry, error) {
	id, err := NewMessageID(raw.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", ErrInvalidRow, err)
	}
	roomID, err := NewRoomID(raw.RoomID)
	if err != nil {
		return nil, fmt.Errorf("%w: room_id: %w", ErrInvalidRow, err)
	}
	createdAt, err := ParseTimestamp(raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %w", ErrInvalidRow, err)
	}
	content := ""
	if raw.Content != nil {
		content = *raw.Content
	}

	switch EntryType(raw.Type) {
	case EntryTypeUser, "":
		if raw.UserID == nil {
			return nil, fmt.Errorf("%w: user row without user_id", ErrInvalidRow)
		}
		userID, err := NewUserID(*raw.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: user_id: %w", ErrInvalidRow, err)
		}
		return ChatMessage{ID: id, RoomID: roomID, UserID: userID, Content: content, CreatedAt: createdAt}, nil
	case EntryTypeSystem:
		kind := SystemKind(raw.Kind)
		if !IsValidSystemKind(kind) {
			return nil, fmt.Errorf("%w: unknown system kind %q", ErrInvalidRow, raw.Kind)
		}
		return SystemMessage{ID: id, RoomID: roomID, Kind: kind, Content: content, CreatedAt: createdAt}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRow, raw.Type)
	}
}

// ToRawRow renders an entry back into the wire row shape.
func ToRawRow(e Entry) RawRow {
	row := RawRow{
		RoomID:    e.Room().String(),
		CreatedAt: FormatTimestamp(e.Timestamp()),
		Type:      string(e.Type()),
	}
	switch m := e.(type) {
	case ChatMessage:
		uid := m.UserID.String()
		content := m.Content
		row.ID = m.ID.String()
		row.UserID = &uid
		row.Content = &content
	case SystemMessage:
		content := m.Content
		row.ID = m.ID.String()
		row.Content = &content
		row.Kind = string(m.Kind)
	}
	return row
}
