package domain

import "time"

// Participant is the user's presence meta for a room.
// No transport or lifecycle logic here.
type Participant struct {
	UserID   UserID
	Role     Role
	Joined   time.Time
	Metadata map[string]any
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(userID UserID, role Role, metadata map[string]any) *Participant {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Participant{UserID: userID, Role: role, Joined: time.Now(), Metadata: metadata}
}
