// Package signal carries signaling frames over WebSocket.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Liveroom/internal/app"
	"github.com/dkeye/Liveroom/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Coordinator receives connection lifecycle and inbound frames.
type Coordinator interface {
	OnConnect(conn core.SignalConnection) core.ConnectionID
	OnMessage(cid core.ConnectionID, data []byte)
	OnPong(cid core.ConnectionID)
	OnDisconnect(cid core.ConnectionID)
}

type Config struct {
	ReadLimit      int64
	SendBuffer     int
	RateLimit      int
	RateInterval   time.Duration
	AllowedOrigins []string
}

type Handler struct {
	ctx      context.Context
	coord    Coordinator
	cfg      Config
	limiter  *RateLimiter
	upgrader websocket.Upgrader
}

// NewHandler upgrades requests for coord. Connections are closed with
// 1001 when ctx is done.
func NewHandler(ctx context.Context, coord Coordinator, cfg Config) *Handler {
	h := &Handler{
		ctx:     ctx,
		coord:   coord,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (h *Handler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}

	conn := NewWsConn(ws, h.cfg.SendBuffer)
	cid := h.coord.OnConnect(conn)
	ws.SetPongHandler(func(string) error {
		h.coord.OnPong(cid)
		return nil
	})
	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	done := make(chan struct{})
	go conn.writePump()
	go h.readPump(cid, conn, done)
	go func() {
		select {
		case <-h.ctx.Done():
			conn.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		case <-done:
		}
	}()
}

func (h *Handler) readPump(cid core.ConnectionID, c *WsConn, done chan struct{}) {
	defer func() {
		close(done)
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "signal").Str("conn", string(cid)).Msg("readPump panic")
		}
		h.limiter.Forget(cid)
		h.coord.OnDisconnect(cid)
		c.Close()
		log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("connection closed")
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("readPump read error")
			}
			return
		}
		if !h.limiter.Allow(cid) {
			_ = c.TrySend(app.EncodeError("rate limit exceeded"))
			continue
		}
		h.coord.OnMessage(cid, data)
	}
}
