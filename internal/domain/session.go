package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStreamNotFound  = errors.New("stream not found")
)

type SessionType string

const (
	SessionChat  SessionType = "chat"
	SessionPhone SessionType = "phone"
	SessionVideo SessionType = "video"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionChat, SessionPhone, SessionVideo:
		return true
	}
	return false
}

// SessionStatus is the persisted lifecycle of a reading session row.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	// SessionCancelled is only used for rows whose billing never started.
	SessionCancelled SessionStatus = "cancelled"
)

// SessionRecord is a one-to-one reading session booked by the parent app.
type SessionRecord struct {
	ID              SessionID
	ExternalID      string
	ClientID        UserID
	ReaderID        UserID
	Type            SessionType
	BillingMode     BillingMode
	Rate            decimal.Decimal
	DurationMinutes int
	Status          SessionStatus
	RoomID          RoomID
	StartTime       time.Time
	EndTime         time.Time
	EndReason       EndReason
	TotalMinutes    decimal.Decimal
	AmountCharged   decimal.Decimal
	Metadata        map[string]any
	CreatedAt       time.Time
}

// Stream is a broadcast hosted by a reader.
type Stream struct {
	ID          string
	ReaderID    UserID
	Title       string
	Description string
	Category    string
	RoomID      RoomID
	Active      bool
	Private     bool
	TotalGifts  decimal.Decimal
	GiftCount   int
	StartedAt   time.Time
	EndedAt     time.Time
	Metadata    map[string]any
}

// GiftSummary totals the gifts of one stream.
type GiftSummary struct {
	Count    int
	Amount   decimal.Decimal
	LastGift time.Time
}
