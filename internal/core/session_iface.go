package core

import "github.com/dkeye/Liveroom/internal/domain"

type ConnectionID string

// MemberSession binds domain.Participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ConnID() ConnectionID
	Meta() *domain.Participant
	Signal() SignalConnection
}
