package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/dkeye/Liveroom/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrNotInRoom = errors.New("not a member of this room")

// RelayValidator checks signaling payloads before they are forwarded.
type RelayValidator interface {
	ValidateDescription(kind string, raw json.RawMessage) error
	ValidateCandidate(raw json.RawMessage) error
}

type joinPayload struct {
	UserID   domain.UserID   `json:"userId"`
	Role     domain.Role     `json:"role"`
	RoomType domain.RoomKind `json:"roomType"`
	Metadata map[string]any  `json:"metadata"`
}

// Router classifies inbound messages and delivers them within a room.
// Failures are reported to the sender only.
type Router struct {
	reg       *Registry
	rooms     *RoomManager
	validator RelayValidator
	now       func() time.Time
}

func NewRouter(reg *Registry, rooms *RoomManager, validator RelayValidator) *Router {
	return &Router{reg: reg, rooms: rooms, validator: validator, now: time.Now}
}

// HandleFrame decodes one raw frame from cid and routes it.
func (r *Router) HandleFrame(cid core.ConnectionID, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("conn", string(cid)).Msg("bad frame")
		metrics.SignalMessages.WithLabelValues("malformed").Inc()
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	r.Route(cid, env)
}

func (r *Router) Route(cid core.ConnectionID, env Envelope) {
	metrics.SignalMessages.WithLabelValues(metricKind(env.Type)).Inc()
	if env.UserID != "" {
		if err := env.UserID.Validate(); err != nil {
			r.reply(cid, EncodeError(err.Error()))
			return
		}
		r.reg.BindUser(cid, env.UserID)
	}

	switch env.Type {
	case MsgJoinRoom:
		r.join(cid, env, "", "")
	case MsgStreamJoin:
		r.join(cid, env, domain.RoomKindStream, domain.RoleViewer)
	case MsgLeaveRoom:
		r.leave(cid, env)
	case MsgOffer, MsgAnswer, MsgICECandidate:
		r.relay(cid, env)
	case MsgChat, MsgGiftAnimation:
		r.stamp(cid, env)
	case MsgSessionUpdate:
		r.rebroadcast(cid, env)
	case MsgPing:
		r.reply(cid, encodePong(r.now()))
	default:
		log.Warn().Str("module", "app.router").Str("conn", string(cid)).Str("type", env.Type).Msg("unknown message type")
		r.reply(cid, EncodeError("Unknown message type: "+env.Type))
	}
}

func (r *Router) join(cid core.ConnectionID, env Envelope, kind domain.RoomKind, defaultRole domain.Role) {
	var p joinPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	if kind == "" {
		kind = p.RoomType
	}
	role := p.Role
	if role == "" {
		role = defaultRole
	}
	uid := p.UserID
	if uid == "" {
		uid = env.UserID
	}
	if uid == "" {
		uid, _ = r.reg.UserOf(cid)
	}
	_, err := r.rooms.JoinRoom(cid, JoinRequest{
		RoomID:   env.RoomID,
		Kind:     kind,
		UserID:   uid,
		Role:     role,
		Metadata: p.Metadata,
	})
	if err != nil {
		r.reply(cid, EncodeError(err.Error()))
	}
}

func (r *Router) leave(cid core.ConnectionID, env Envelope) {
	roomID := env.RoomID
	if roomID == "" {
		roomID, _, _ = r.reg.RoomOf(cid)
	}
	if roomID == "" {
		return
	}
	r.rooms.LeaveRoom(roomID, cid)
}

// roomOf resolves the room a room-scoped message targets. The sender has to
// be a member of it.
func (r *Router) roomOf(cid core.ConnectionID, env Envelope) (domain.RoomID, error) {
	current, _, _ := r.reg.RoomOf(cid)
	roomID := env.RoomID
	if roomID == "" {
		roomID = current
	}
	if roomID == "" {
		return "", ErrRoomIDRequired
	}
	if _, ok := r.rooms.get(roomID); !ok {
		return "", ErrRoomNotFound
	}
	if roomID != current {
		return "", ErrNotInRoom
	}
	return roomID, nil
}

// relay forwards offer/answer/candidate to every other member.
func (r *Router) relay(cid core.ConnectionID, env Envelope) {
	roomID, err := r.roomOf(cid, env)
	if err != nil {
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	if r.validator != nil {
		if env.Type == MsgICECandidate {
			err = r.validator.ValidateCandidate(env.Payload)
		} else {
			err = r.validator.ValidateDescription(env.Type, env.Payload)
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "app.router").Str("conn", string(cid)).Str("type", env.Type).Msg("rejected relay payload")
			r.reply(cid, EncodeError(fmt.Sprintf("Invalid %s payload", env.Type)))
			return
		}
	}
	res, err := r.rooms.Broadcast(roomID, cid, Encode(env.Type, env.Payload))
	if err != nil {
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	log.Debug().Str("module", "app.router").Str("room", string(roomID)).Str("type", env.Type).Int("forwarded", res.SendTo).Msg("relayed")
}

// stamp adds a server id and time to chat and gift animations and sends
// them to everyone, sender included.
func (r *Router) stamp(cid core.ConnectionID, env Envelope) {
	roomID, err := r.roomOf(cid, env)
	if err != nil {
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	payload := map[string]any{}
	if err := decodePayload(env.Payload, &payload); err != nil {
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	payload["timestamp"] = isoTimestamp(r.now())
	payload["id"] = uuid.NewString()
	if _, err := r.rooms.Broadcast(roomID, "", Encode(env.Type, payload)); err != nil {
		r.reply(cid, EncodeError(err.Error()))
	}
}

func (r *Router) rebroadcast(cid core.ConnectionID, env Envelope) {
	roomID, err := r.roomOf(cid, env)
	if err != nil {
		r.reply(cid, EncodeError(err.Error()))
		return
	}
	if len(env.Payload) > 0 && !json.Valid(env.Payload) {
		r.reply(cid, EncodeError(ErrMalformedMessage.Error()))
		return
	}
	if _, err := r.rooms.Broadcast(roomID, "", Encode(env.Type, env.Payload)); err != nil {
		r.reply(cid, EncodeError(err.Error()))
	}
}

// NotifyUser delivers a notification to the user's live connection.
// Returns false if the user is offline or the send failed.
func (r *Router) NotifyUser(uid domain.UserID, notification map[string]any) bool {
	conn, ok := r.reg.ConnOfUser(uid)
	if !ok {
		return false
	}
	payload := make(map[string]any, len(notification)+1)
	for k, v := range notification {
		payload[k] = v
	}
	payload["timestamp"] = isoTimestamp(r.now())
	if err := conn.TrySend(Encode(MsgNotification, payload)); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("user", string(uid)).Msg("notification not delivered")
		return false
	}
	return true
}

func (r *Router) reply(cid core.ConnectionID, frame core.Frame) {
	conn, ok := r.reg.Get(cid)
	if !ok {
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "app.router").Str("conn", string(cid)).Msg("reply dropped")
	}
}

func metricKind(t string) string {
	switch t {
	case MsgJoinRoom, MsgLeaveRoom, MsgOffer, MsgAnswer, MsgICECandidate, MsgChat,
		MsgStreamJoin, MsgGiftAnimation, MsgSessionUpdate, MsgPing:
		return t
	}
	return "unknown"
}
