package app

import (
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/dkeye/Liveroom/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn          core.SignalConnection
	Alive         bool
	Missed        int
	LastHeartbeat time.Time
	UserID        domain.UserID
	RoomID        domain.RoomID
	Role          domain.Role
}

// RemoveFunc is called once per unregistered connection, outside any registry lock.
type RemoveFunc func(cid core.ConnectionID, userID domain.UserID, roomID domain.RoomID)

// Registry owns every live transport connection and its liveness state.
type Registry struct {
	mu        sync.RWMutex
	conns     map[core.ConnectionID]*connEntry
	users     map[domain.UserID]core.ConnectionID
	maxMissed int
	now       func() time.Time
	onRemove  RemoveFunc
}

func NewRegistry(maxMissed int) *Registry {
	if maxMissed < 1 {
		maxMissed = 1
	}
	return &Registry{
		conns:     make(map[core.ConnectionID]*connEntry),
		users:     make(map[domain.UserID]core.ConnectionID),
		maxMissed: maxMissed,
		now:       time.Now,
	}
}

// OnRemove installs the hook fired when a connection leaves the registry.
func (r *Registry) OnRemove(fn RemoveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

func (r *Registry) Register(conn core.SignalConnection) core.ConnectionID {
	cid := core.ConnectionID(uuid.NewString())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{Conn: conn, Alive: true, LastHeartbeat: r.now()}
	metrics.Connections.Inc()
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("registered connection")
	return cid
}

// HeartbeatAck marks cid alive for the current probe interval.
func (r *Registry) HeartbeatAck(cid core.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	e.Alive = true
	e.Missed = 0
	e.LastHeartbeat = r.now()
	return true
}

// SweepDead closes a probe interval. Connections that did not acknowledge
// count one more miss; those at the limit are returned. Survivors are marked
// not-alive and must acknowledge the next probe.
func (r *Registry) SweepDead() []core.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []core.ConnectionID
	for cid, e := range r.conns {
		if !e.Alive {
			e.Missed++
		}
		if e.Missed >= r.maxMissed {
			expired = append(expired, cid)
			continue
		}
		e.Alive = false
	}
	return expired
}

// Probe pings every registered connection. Returns the number of probes sent.
func (r *Registry) Probe() int {
	r.mu.RLock()
	targets := make(map[core.ConnectionID]core.SignalConnection, len(r.conns))
	for cid, e := range r.conns {
		targets[cid] = e.Conn
	}
	r.mu.RUnlock()

	sent := 0
	for cid, c := range targets {
		if err := c.Ping(); err != nil {
			log.Debug().Err(err).Str("module", "app.registry").Str("conn", string(cid)).Msg("ping failed")
			continue
		}
		sent++
	}
	return sent
}

// Unregister drops cid and fires the remove hook. Only the first call for a
// given id has any effect.
func (r *Registry) Unregister(cid core.ConnectionID) bool {
	r.mu.Lock()
	e, ok := r.conns[cid]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, cid)
	if e.UserID != "" && r.users[e.UserID] == cid {
		delete(r.users, e.UserID)
	}
	hook := r.onRemove
	r.mu.Unlock()
	metrics.Connections.Dec()

	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("user", string(e.UserID)).Msg("unregistered connection")
	if hook != nil {
		hook(cid, e.UserID, e.RoomID)
	}
	return true
}

func (r *Registry) Get(cid core.ConnectionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// BindUser associates uid with cid. The first association wins.
func (r *Registry) BindUser(cid core.ConnectionID, uid domain.UserID) bool {
	if uid == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok || e.UserID != "" {
		return false
	}
	e.UserID = uid
	r.users[uid] = cid
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("user", string(uid)).Msg("bound user")
	return true
}

func (r *Registry) UserOf(cid core.ConnectionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.UserID == "" {
		return "", false
	}
	return e.UserID, true
}

// ConnOfUser returns the most recent connection bound to uid.
func (r *Registry) ConnOfUser(uid domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.users[uid]
	if !ok {
		return nil, false
	}
	e, ok := r.conns[cid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) SetRoom(cid core.ConnectionID, room domain.RoomID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	e.RoomID = room
	e.Role = role
	return true
}

// ClearRoom drops the room association if cid is still in room.
func (r *Registry) ClearRoom(cid core.ConnectionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[cid]; ok && e.RoomID == room {
		e.RoomID = ""
		e.Role = ""
	}
}

func (r *Registry) RoomOf(cid core.ConnectionID) (domain.RoomID, domain.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.RoomID == "" {
		return "", "", false
	}
	return e.RoomID, e.Role, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
