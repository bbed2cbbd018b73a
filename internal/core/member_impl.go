package core

import "github.com/dkeye/Liveroom/internal/domain"

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	cid  ConnectionID
	meta *domain.Participant
	conn SignalConnection
}

func NewMemberSession(cid ConnectionID, meta *domain.Participant, conn SignalConnection) MemberSession {
	return &memberSession{cid: cid, meta: meta, conn: conn}
}

func (m *memberSession) ConnID() ConnectionID      { return m.cid }
func (m *memberSession) Meta() *domain.Participant { return m.meta }
func (m *memberSession) Signal() SignalConnection  { return m.conn }
