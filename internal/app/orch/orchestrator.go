// Package orch ties the signaling rooms to session and stream bookkeeping
// and to billing. It is the only place where a billing outcome turns into
// room and connection side effects.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/app"
	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidInput   = errors.New("invalid request")
	ErrStreamInactive = errors.New("stream is not active")
)

// Webhook event names sent to the parent application.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
	EventGiftProcessed  = "gift_processed"
	EventStreamEnded    = "stream_ended"
)

const notifyTimeout = 10 * time.Second

// Catalog stores session and stream rows.
type Catalog interface {
	CreateSession(ctx context.Context, rec *domain.SessionRecord) error
	FindSession(ctx context.Context, ref string) (domain.SessionRecord, error)
	CloseSession(ctx context.Context, id domain.SessionID, status domain.SessionStatus, reason domain.EndReason) error
	CreateStream(ctx context.Context, st *domain.Stream) error
	FindStream(ctx context.Context, ref string) (domain.Stream, error)
	EndStream(ctx context.Context, id string) (domain.GiftSummary, error)
	ActiveStreams(ctx context.Context, category string, limit, offset int) ([]domain.Stream, error)
	StreamGifts(ctx context.Context, streamID string, limit, offset int) ([]domain.GiftTransfer, error)
}

// Notifier delivers lifecycle events to the parent application.
type Notifier interface {
	Notify(ctx context.Context, event string, data any) error
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Router   *app.Router
	Billing  *billing.Engine
	Catalog  Catalog
	Notifier Notifier

	now func() time.Time
	wg  sync.WaitGroup
}

// New wires the registry remove hook and the billing end hook. notifier may be nil.
func New(reg *app.Registry, rooms *app.RoomManager, router *app.Router, engine *billing.Engine, catalog Catalog, notifier Notifier) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Router:   router,
		Billing:  engine,
		Catalog:  catalog,
		Notifier: notifier,
		now:      time.Now,
	}
	reg.OnRemove(o.onRemove)
	engine.OnEnded(o.onBillingEnded)
	return o
}

func (o *Orchestrator) OnConnect(conn core.SignalConnection) core.ConnectionID {
	return o.Registry.Register(conn)
}

func (o *Orchestrator) OnMessage(cid core.ConnectionID, data []byte) {
	o.Router.HandleFrame(cid, data)
}

func (o *Orchestrator) OnPong(cid core.ConnectionID) {
	o.Registry.HeartbeatAck(cid)
}

func (o *Orchestrator) OnDisconnect(cid core.ConnectionID) {
	o.Registry.Unregister(cid)
}

func (o *Orchestrator) onRemove(cid core.ConnectionID, uid domain.UserID, roomID domain.RoomID) {
	if roomID == "" {
		return
	}
	o.Rooms.LeaveRoom(roomID, cid)
	log.Debug().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Str("room", string(roomID)).Msg("disconnected from room")
}

// Stats is the live signaling and billing picture.
type Stats struct {
	Connections int             `json:"totalConnections"`
	Users       int             `json:"totalUsers"`
	RoomCount   int             `json:"totalRooms"`
	Rooms       []core.RoomInfo `json:"rooms"`
	Billing     billing.Stats   `json:"billing"`
}

func (o *Orchestrator) Stats(ctx context.Context) Stats {
	rooms := o.Rooms.List()
	return Stats{
		Connections: o.Registry.Count(),
		Users:       o.Registry.UserCount(),
		RoomCount:   len(rooms),
		Rooms:       rooms,
		Billing:     o.Billing.Stats(ctx),
	}
}

// notify posts event in the background. Wait blocks until every pending
// post has finished.
func (o *Orchestrator) notify(event string, data map[string]any) {
	if o.Notifier == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.Notifier.Notify(ctx, event, data); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("event", event).Msg("webhook failed")
		}
	}()
}

func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (o *Orchestrator) timestamp() string {
	return o.now().UTC().Format(time.RFC3339Nano)
}
