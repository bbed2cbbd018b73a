package app

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomIDRequired    = errors.New("room id is required")
	ErrRoomNotFound      = errors.New("room not found")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrMalformedMessage  = errors.New("invalid message format")
)

// Client -> server kinds.
const (
	MsgJoinRoom      = "join-room"
	MsgLeaveRoom     = "leave-room"
	MsgOffer         = "webrtc-offer"
	MsgAnswer        = "webrtc-answer"
	MsgICECandidate  = "ice-candidate"
	MsgChat          = "chat-message"
	MsgStreamJoin    = "stream-join"
	MsgGiftAnimation = "gift-animation"
	MsgSessionUpdate = "session-update"
	MsgPing          = "ping"
)

// Server -> client kinds.
const (
	MsgRoomJoined        = "room-joined"
	MsgParticipantJoined = "participant-joined"
	MsgParticipantLeft   = "participant-left"
	MsgViewerCount       = "viewer-count-update"
	MsgSessionEnded      = "session-ended"
	MsgNotification      = "notification"
	MsgPong              = "pong"
	MsgError             = "error"
)

// Envelope is the inbound signaling message.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	UserID  domain.UserID   `json:"userId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is what the server writes to a connection.
type Outbound struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// DecodeEnvelope parses a raw frame. A frame without a type is malformed.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, ErrMalformedMessage
	}
	if env.Type == "" {
		return Envelope{}, ErrMalformedMessage
	}
	return env, nil
}

// Encode marshals an outbound message of kind typ.
func Encode(typ string, payload any) core.Frame {
	b, err := json.Marshal(Outbound{Type: typ, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "app.messages").Str("type", typ).Msg("encode")
		b, _ = json.Marshal(Outbound{Type: MsgError, Payload: errorPayload{Message: "internal error"}})
	}
	return b
}

func EncodeError(msg string) core.Frame {
	return Encode(MsgError, errorPayload{Message: msg})
}

func encodePong(now time.Time) core.Frame {
	b, _ := json.Marshal(Outbound{Type: MsgPong, Timestamp: now.UnixMilli()})
	return b
}

// isoTimestamp formats t the way every server-stamped payload carries time.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// decodePayload unmarshals raw into v. An absent payload leaves v untouched.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformedMessage
	}
	return nil
}
