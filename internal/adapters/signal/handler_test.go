package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu           sync.Mutex
	conns        map[core.ConnectionID]core.SignalConnection
	messages     []string
	pongs        int
	disconnected []core.ConnectionID
	connected    chan core.ConnectionID
	gone         chan core.ConnectionID
	received     chan string
}

func newRecorder() *recorder {
	return &recorder{
		conns:     make(map[core.ConnectionID]core.SignalConnection),
		connected: make(chan core.ConnectionID, 4),
		gone:      make(chan core.ConnectionID, 4),
		received:  make(chan string, 64),
	}
}

func (r *recorder) OnConnect(conn core.SignalConnection) core.ConnectionID {
	r.mu.Lock()
	cid := core.ConnectionID("c" + string(rune('0'+len(r.conns))))
	r.conns[cid] = conn
	r.mu.Unlock()
	r.connected <- cid
	return cid
}

func (r *recorder) OnMessage(_ core.ConnectionID, data []byte) {
	r.mu.Lock()
	r.messages = append(r.messages, string(data))
	r.mu.Unlock()
	r.received <- string(data)
}

func (r *recorder) OnPong(core.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pongs++
}

func (r *recorder) OnDisconnect(cid core.ConnectionID) {
	r.mu.Lock()
	r.disconnected = append(r.disconnected, cid)
	r.mu.Unlock()
	r.gone <- cid
}

func (r *recorder) conn(cid core.ConnectionID) core.SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[cid]
}

func (r *recorder) pongCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pongs
}

func serve(t *testing.T, ctx context.Context, coord Coordinator, cfg Config) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(ctx, coord, cfg)
	r.GET("/ws", h.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestHandler_DeliversBothWays(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, serve(t, context.Background(), rec, Config{SendBuffer: 8}))
	cid := waitFor(t, rec.connected)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, `{"type":"ping"}`, waitFor(t, rec.received))

	require.NoError(t, rec.conn(cid).TrySend(core.Frame(`{"type":"pong"}`)))
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"pong"}`, string(data))
}

func TestHandler_CloseWithReasonFlushesQueueFirst(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, serve(t, context.Background(), rec, Config{SendBuffer: 8}))
	cid := waitFor(t, rec.connected)
	conn := rec.conn(cid)

	require.NoError(t, conn.TrySend(core.Frame(`{"type":"session-ended"}`)))
	conn.CloseWithReason(1000, "Session ended: completed")
	assert.ErrorIs(t, conn.TrySend(core.Frame(`late`)), ErrClosed)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"session-ended"}`, string(data))

	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1000, ce.Code)
	assert.Equal(t, "Session ended: completed", ce.Text)

	assert.Equal(t, cid, waitFor(t, rec.gone))
}

func TestHandler_ClientCloseReportsDisconnect(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, serve(t, context.Background(), rec, Config{}))
	cid := waitFor(t, rec.connected)

	require.NoError(t, ws.Close())
	assert.Equal(t, cid, waitFor(t, rec.gone))
}

func TestHandler_PingIsAnswered(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, serve(t, context.Background(), rec, Config{}))
	cid := waitFor(t, rec.connected)

	// the client only processes control frames while reading
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	require.NoError(t, rec.conn(cid).Ping())
	assert.Eventually(t, func() bool { return rec.pongCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RateLimitRepliesWithError(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, serve(t, context.Background(), rec, Config{RateLimit: 1, RateInterval: time.Hour}))
	waitFor(t, rec.connected)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","payload":{"message":"rate limit exceeded"}}`, string(data))
	assert.Equal(t, `{"type":"ping"}`, waitFor(t, rec.received))
}

func TestHandler_ShutdownClosesGoingAway(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	ws := dial(t, serve(t, ctx, rec, Config{}))
	waitFor(t, rec.connected)

	cancel()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

func TestWsConn_Backpressure(t *testing.T) {
	c := &WsConn{send: make(chan core.Frame, 1)}
	require.NoError(t, c.TrySend(core.Frame("a")))
	assert.ErrorIs(t, c.TrySend(core.Frame("b")), ErrBackpressure)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c2"), "limits are per connection")

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("c1"))

	rl.Forget("c1")
	assert.True(t, rl.Allow("c1"))
	assert.True(t, NewRateLimiter(0, time.Second).Allow("c1"))
}
