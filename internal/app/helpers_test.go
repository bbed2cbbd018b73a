package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/stretchr/testify/require"
)

var errFull = errors.New("full")

type fakeConn struct {
	mu       sync.Mutex
	frames   []core.Frame
	pings    int
	closed   bool
	code     int
	reason   string
	fullSend bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fullSend || c.closed {
		return errFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed, c.code, c.reason = true, code, reason
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type received struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func (c *fakeConn) messages(t *testing.T) []received {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]received, 0, len(c.frames))
	for _, f := range c.frames {
		var m received
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []received {
	t.Helper()
	var out []received
	for _, m := range c.messages(t) {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range c.messages(t) {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type fixture struct {
	reg    *Registry
	rooms  *RoomManager
	router *Router
}

func newFixture(policy Policy, validator RelayValidator) *fixture {
	reg := NewRegistry(2)
	rooms := NewRoomManager(reg, policy)
	reg.OnRemove(func(cid core.ConnectionID, _ domain.UserID, roomID domain.RoomID) {
		if roomID != "" {
			rooms.LeaveRoom(roomID, cid)
		}
	})
	return &fixture{reg: reg, rooms: rooms, router: NewRouter(reg, rooms, validator)}
}

func (f *fixture) connect() (core.ConnectionID, *fakeConn) {
	c := &fakeConn{}
	return f.reg.Register(c), c
}
