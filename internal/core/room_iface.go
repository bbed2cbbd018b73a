package core

import (
	"errors"

	"github.com/dkeye/Liveroom/internal/domain"
)

// ErrRoomClosed is returned by Update once the room was emptied or ended.
var ErrRoomClosed = errors.New("room closed")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// ParticipantDTO is a read-only view for APIs (no transport fields).
type ParticipantDTO struct {
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
	Joined int64         `json:"joined"`
}

type RoomSnapshot struct {
	RoomID           domain.RoomID    `json:"roomId"`
	Kind             domain.RoomKind  `json:"roomType"`
	Created          int64            `json:"created"`
	Metadata         map[string]any   `json:"metadata"`
	Participants     []ParticipantDTO `json:"participants"`
	ParticipantCount int              `json:"participantCount"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport lifetimes.
type RoomService interface {
	Room() *domain.Room
	// Update runs fn with exclusive access to the membership.
	// All joins, leaves and the notifications they emit go through here.
	Update(fn func(m *Membership) error) error
	// View runs fn with shared access. It reports false if the room is closed.
	View(fn func(m *Membership)) bool
}

type RoomInfo struct {
	ID               domain.RoomID   `json:"id"`
	Kind             domain.RoomKind `json:"type"`
	ParticipantCount int             `json:"participantCount"`
	Created          int64           `json:"created"`
}
