package core

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Membership is the participant set of one room.
// Only reachable through RoomService.Update/View, so it needs no lock of its own.
type Membership struct {
	room   *domain.Room
	byConn map[ConnectionID]MemberSession
	byUser map[domain.UserID]ConnectionID
	closed bool
}

// Add stores ms. A participant already present for the same user is
// replaced and returned, so a user never appears twice.
func (m *Membership) Add(ms MemberSession) MemberSession {
	var replaced MemberSession
	uid := ms.Meta().UserID
	if uid != "" {
		if prev, ok := m.byUser[uid]; ok && prev != ms.ConnID() {
			replaced = m.byConn[prev]
			delete(m.byConn, prev)
		}
		m.byUser[uid] = ms.ConnID()
	}
	if old, ok := m.byConn[ms.ConnID()]; ok && old.Meta().UserID != uid {
		delete(m.byUser, old.Meta().UserID)
	}
	m.byConn[ms.ConnID()] = ms
	log.Debug().Str("module", "core.room").Str("room", string(m.room.ID)).Str("conn", string(ms.ConnID())).Str("user", string(uid)).Msg("member added")
	return replaced
}

func (m *Membership) Remove(cid ConnectionID) (MemberSession, bool) {
	ms, ok := m.byConn[cid]
	if !ok {
		return nil, false
	}
	delete(m.byConn, cid)
	if uid := ms.Meta().UserID; m.byUser[uid] == cid {
		delete(m.byUser, uid)
	}
	log.Debug().Str("module", "core.room").Str("room", string(m.room.ID)).Str("conn", string(cid)).Msg("member removed")
	return ms, true
}

func (m *Membership) Get(cid ConnectionID) (MemberSession, bool) {
	ms, ok := m.byConn[cid]
	return ms, ok
}

func (m *Membership) Len() int { return len(m.byConn) }

// ViewerCount counts participants with the viewer role; the streamer is excluded.
func (m *Membership) ViewerCount() int {
	n := 0
	for _, ms := range m.byConn {
		if ms.Meta().Role == domain.RoleViewer {
			n++
		}
	}
	return n
}

// Members returns a stable view ordered by join time.
func (m *Membership) Members() []MemberSession {
	out := make([]MemberSession, 0, len(m.byConn))
	for _, ms := range m.byConn {
		out = append(out, ms)
	}
	slices.SortFunc(out, func(a, b MemberSession) int {
		if c := a.Meta().Joined.Compare(b.Meta().Joined); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnID(), b.ConnID())
	})
	return out
}

func (m *Membership) Snapshot() RoomSnapshot {
	members := m.Members()
	parts := make([]ParticipantDTO, 0, len(members))
	for _, ms := range members {
		p := ms.Meta()
		parts = append(parts, ParticipantDTO{UserID: p.UserID, Role: p.Role, Joined: p.Joined.UnixMilli()})
	}
	return RoomSnapshot{
		RoomID:           m.room.ID,
		Kind:             m.room.Kind,
		Created:          m.room.Created.UnixMilli(),
		Metadata:         m.room.Metadata,
		Participants:     parts,
		ParticipantCount: len(parts),
	}
}

// Broadcast sends data to every member except the one with id exclude.
// Failed sends are collected, never retried.
func (m *Membership) Broadcast(exclude ConnectionID, data Frame) PublishResult {
	res := PublishResult{}
	for _, ms := range m.Members() {
		if ms.ConnID() == exclude {
			continue
		}
		if err := ms.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, ms)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(m.room.ID)).Str("exclude", string(exclude)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Close marks the room as gone. Later Update calls fail with ErrRoomClosed.
func (m *Membership) Close() { m.closed = true }

func (m *Membership) Closed() bool { return m.closed }

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	mu sync.RWMutex
	m  Membership
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{m: Membership{
		room:   room,
		byConn: make(map[ConnectionID]MemberSession),
		byUser: make(map[domain.UserID]ConnectionID),
	}}
}

func (r *roomImpl) Room() *domain.Room { return r.m.room }

func (r *roomImpl) Update(fn func(m *Membership) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m.closed {
		return ErrRoomClosed
	}
	return fn(&r.m)
}

func (r *roomImpl) View(fn func(m *Membership)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.m.closed {
		return false
	}
	fn(&r.m)
	return true
}
