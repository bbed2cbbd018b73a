package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	writeWait = 5 * time.Second
)

// WsConn is a gorilla connection behind a bounded send queue. Only the
// write pump writes data frames; control frames go through WriteControl.
type WsConn struct {
	ws   *websocket.Conn
	send chan core.Frame

	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
}

func NewWsConn(ws *websocket.Conn, buffer int) *WsConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &WsConn{
		ws:        ws,
		send:      make(chan core.Frame, buffer),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WsConn) Ping() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// CloseWithReason stops accepting frames. The write pump flushes what is
// queued, sends a close frame with code and reason, then drops the socket.
func (c *WsConn) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// Close drops the socket without waiting for the queue.
func (c *WsConn) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *WsConn) closeFrame() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

func (c *WsConn) writePump() {
	defer func() { _ = c.ws.Close() }()
	for data := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Debug().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage, c.closeFrame(), time.Now().Add(writeWait))
}
