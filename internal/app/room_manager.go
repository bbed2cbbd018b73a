package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/dkeye/Liveroom/internal/metrics"
	"github.com/rs/zerolog/log"
)

// WebSocket close codes used when the server drops a peer.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
)

// JoinRequest describes who joins which room and in what capacity.
type JoinRequest struct {
	RoomID   domain.RoomID
	Kind     domain.RoomKind
	UserID   domain.UserID
	Role     domain.Role
	Metadata map[string]any
}

type participantEvent struct {
	UserID           domain.UserID `json:"userId"`
	Role             domain.Role   `json:"role"`
	ParticipantCount int           `json:"participantCount"`
	Timestamp        string        `json:"timestamp"`
}

type roomJoinedPayload struct {
	Participants     []core.ParticipantDTO `json:"participants"`
	RoomID           domain.RoomID         `json:"roomId"`
	RoomType         domain.RoomKind       `json:"roomType"`
	ParticipantCount int                   `json:"participantCount"`
	Metadata         map[string]any        `json:"metadata"`
}

type viewerCountPayload struct {
	Count int `json:"count"`
}

type sessionEndedPayload struct {
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// RoomManager owns the set of active rooms. A room exists exactly while it
// has at least one participant.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]core.RoomService
	reg    *Registry
	policy Policy
	now    func() time.Time
}

func NewRoomManager(reg *Registry, policy Policy) *RoomManager {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &RoomManager{
		rooms:  make(map[domain.RoomID]core.RoomService),
		reg:    reg,
		policy: policy,
		now:    time.Now,
	}
}

func (m *RoomManager) get(id domain.RoomID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.rooms[id]
	return rs, ok
}

func (m *RoomManager) getOrCreate(req JoinRequest) core.RoomService {
	if rs, ok := m.get(req.RoomID); ok {
		return rs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.rooms[req.RoomID]; ok {
		return rs
	}
	room := domain.NewRoom(req.RoomID, req.Kind, req.Metadata)
	room.Created = m.now()
	rs := core.NewRoomService(room)
	m.rooms[req.RoomID] = rs
	metrics.Rooms.Inc()
	log.Info().Str("module", "app.rooms").Str("room", string(req.RoomID)).Str("kind", string(room.Kind)).Msg("created room")
	return rs
}

// remove deletes id only if it still maps to rs; a fresh room under the
// same id is left alone.
func (m *RoomManager) remove(id domain.RoomID, rs core.RoomService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[id]; ok && cur == rs {
		delete(m.rooms, id)
		metrics.Rooms.Dec()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("deleted room")
	}
}

// JoinRoom adds cid to the room, creating it on first join. Existing members
// get participant-joined before the joiner gets room-joined, and the joiner's
// list never contains itself. A connection sits in one room at a time.
func (m *RoomManager) JoinRoom(cid core.ConnectionID, req JoinRequest) (core.RoomSnapshot, error) {
	if req.RoomID == "" {
		return core.RoomSnapshot{}, ErrRoomIDRequired
	}
	conn, ok := m.reg.Get(cid)
	if !ok {
		return core.RoomSnapshot{}, ErrUnknownConnection
	}
	if prev, _, ok := m.reg.RoomOf(cid); ok && prev != req.RoomID {
		m.LeaveRoom(prev, cid)
	}

	uid := req.UserID
	if uid == "" {
		uid = domain.UserID(cid)
	}
	meta := domain.NewParticipant(uid, req.Role, req.Metadata)
	meta.Joined = m.now()
	ms := core.NewMemberSession(cid, meta, conn)

	for {
		rs := m.getOrCreate(req)
		var (
			snap     core.RoomSnapshot
			replaced core.MemberSession
			dropped  []core.MemberSession
		)
		err := rs.Update(func(mb *core.Membership) error {
			replaced = mb.Add(ms)
			ts := isoTimestamp(m.now())

			res := mb.Broadcast(cid, Encode(MsgParticipantJoined, participantEvent{
				UserID:           uid,
				Role:             meta.Role,
				ParticipantCount: mb.Len(),
				Timestamp:        ts,
			}))
			dropped = append(dropped, res.Dropped...)

			snap = mb.Snapshot()
			others := make([]core.ParticipantDTO, 0, len(snap.Participants))
			for _, p := range snap.Participants {
				if p.UserID != uid {
					others = append(others, p)
				}
			}
			if err := conn.TrySend(Encode(MsgRoomJoined, roomJoinedPayload{
				Participants:     others,
				RoomID:           snap.RoomID,
				RoomType:         snap.Kind,
				ParticipantCount: snap.ParticipantCount,
				Metadata:         snap.Metadata,
			})); err != nil {
				log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(cid)).Msg("room-joined not delivered")
			}

			if snap.Kind == domain.RoomKindStream {
				res = mb.Broadcast("", Encode(MsgViewerCount, viewerCountPayload{Count: mb.ViewerCount()}))
				dropped = append(dropped, res.Dropped...)
			}
			return nil
		})
		if errors.Is(err, core.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return core.RoomSnapshot{}, err
		}

		if !m.reg.SetRoom(cid, req.RoomID, meta.Role) {
			// Connection went away mid-join; its remove hook could not see this room.
			m.LeaveRoom(req.RoomID, cid)
			return core.RoomSnapshot{}, ErrUnknownConnection
		}
		if replaced != nil {
			m.reg.ClearRoom(replaced.ConnID(), req.RoomID)
		}
		log.Info().Str("module", "app.rooms").Str("room", string(req.RoomID)).Str("user", string(uid)).Str("role", string(meta.Role)).Msg("joined room")
		m.applyPolicy(req.RoomID, dropped)
		return snap, nil
	}
}

// LeaveRoom removes cid from the room. The last leave deletes the room.
func (m *RoomManager) LeaveRoom(roomID domain.RoomID, cid core.ConnectionID) bool {
	defer m.reg.ClearRoom(cid, roomID)
	rs, ok := m.get(roomID)
	if !ok {
		return false
	}
	var (
		removed bool
		emptied bool
		dropped []core.MemberSession
	)
	err := rs.Update(func(mb *core.Membership) error {
		ms, ok := mb.Remove(cid)
		if !ok {
			return nil
		}
		removed = true
		if mb.Len() == 0 {
			mb.Close()
			emptied = true
			return nil
		}
		res := mb.Broadcast("", Encode(MsgParticipantLeft, participantEvent{
			UserID:           ms.Meta().UserID,
			Role:             ms.Meta().Role,
			ParticipantCount: mb.Len(),
			Timestamp:        isoTimestamp(m.now()),
		}))
		dropped = append(dropped, res.Dropped...)
		if rs.Room().Kind == domain.RoomKindStream {
			res = mb.Broadcast("", Encode(MsgViewerCount, viewerCountPayload{Count: mb.ViewerCount()}))
			dropped = append(dropped, res.Dropped...)
		}
		return nil
	})
	if err != nil {
		return false
	}
	if emptied {
		m.remove(roomID, rs)
	}
	if removed {
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("conn", string(cid)).Msg("left room")
	}
	m.applyPolicy(roomID, dropped)
	return removed
}

// GetRoomInfo returns the full membership snapshot, or false if the room does not exist.
func (m *RoomManager) GetRoomInfo(roomID domain.RoomID) (core.RoomSnapshot, bool) {
	rs, ok := m.get(roomID)
	if !ok {
		return core.RoomSnapshot{}, false
	}
	var snap core.RoomSnapshot
	if !rs.View(func(mb *core.Membership) { snap = mb.Snapshot() }) {
		return core.RoomSnapshot{}, false
	}
	return snap, true
}

// EndRoom tells every member the session is over, closes their transports
// and deletes the room. Returns how many members were closed.
func (m *RoomManager) EndRoom(roomID domain.RoomID, reason string) int {
	rs, ok := m.get(roomID)
	if !ok {
		return 0
	}
	var members []core.MemberSession
	err := rs.Update(func(mb *core.Membership) error {
		mb.Broadcast("", Encode(MsgSessionEnded, sessionEndedPayload{
			Reason:    reason,
			Timestamp: isoTimestamp(m.now()),
		}))
		members = mb.Members()
		mb.Close()
		return nil
	})
	m.remove(roomID, rs)
	if err != nil {
		return 0
	}

	for _, ms := range members {
		m.reg.ClearRoom(ms.ConnID(), roomID)
		ms.Signal().CloseWithReason(CloseNormal, "Session ended: "+reason)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("reason", reason).Int("closed", len(members)).Msg("ended room")
	return len(members)
}

// Broadcast sends frame to every member except exclude.
func (m *RoomManager) Broadcast(roomID domain.RoomID, exclude core.ConnectionID, frame core.Frame) (core.PublishResult, error) {
	rs, ok := m.get(roomID)
	if !ok {
		return core.PublishResult{}, ErrRoomNotFound
	}
	var res core.PublishResult
	err := rs.Update(func(mb *core.Membership) error {
		res = mb.Broadcast(exclude, frame)
		return nil
	})
	if errors.Is(err, core.ErrRoomClosed) {
		return core.PublishResult{}, ErrRoomNotFound
	}
	if err != nil {
		return core.PublishResult{}, err
	}
	m.applyPolicy(roomID, res.Dropped)
	return res, nil
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, rs := range m.rooms {
		rooms = append(rooms, rs)
	}
	m.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, rs := range rooms {
		info := core.RoomInfo{ID: rs.Room().ID, Kind: rs.Room().Kind, Created: rs.Room().Created.UnixMilli()}
		if rs.View(func(mb *core.Membership) { info.ParticipantCount = mb.Len() }) {
			out = append(out, info)
		}
	}
	return out
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// applyPolicy runs outside every room lock; kicking re-enters LeaveRoom.
func (m *RoomManager) applyPolicy(roomID domain.RoomID, dropped []core.MemberSession) {
	seen := make(map[core.ConnectionID]struct{}, len(dropped))
	for _, ms := range dropped {
		metrics.DroppedFrames.Inc()
		if _, dup := seen[ms.ConnID()]; dup {
			continue
		}
		seen[ms.ConnID()] = struct{}{}
		switch m.policy.OnBackPressure(roomID, ms) {
		case KickMember:
			log.Warn().Str("module", "app.rooms").Str("room", string(roomID)).Str("conn", string(ms.ConnID())).Msg("kicking slow member")
			ms.Signal().CloseWithReason(ClosePolicyViolation, "slow consumer")
			m.reg.Unregister(ms.ConnID())
		case DropFrame:
		}
	}
}
