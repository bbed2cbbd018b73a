package domain

import "time"

type RoomID string

// RoomKind separates one-to-one reading sessions from broadcast streams.
type RoomKind string

const (
	RoomKindReading RoomKind = "reading"
	RoomKindStream  RoomKind = "stream"
)

type Room struct {
	ID       RoomID
	Kind     RoomKind
	Created  time.Time
	Metadata map[string]any
}

func NewRoom(id RoomID, kind RoomKind, metadata map[string]any) *Room {
	if kind == "" {
		kind = RoomKindReading
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Room{ID: id, Kind: kind, Created: time.Now(), Metadata: metadata}
}
