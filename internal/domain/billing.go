package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionID string

type BillingMode string

const (
	BillingPerMinute     BillingMode = "per_minute"
	BillingFixedDuration BillingMode = "fixed_duration"
)

type BillingState string

const (
	BillingPending BillingState = "pending"
	BillingActive  BillingState = "active"
	BillingEnded   BillingState = "ended"
)

// EndReason is recorded when a billing session reaches BillingEnded.
type EndReason string

const (
	EndCompleted      EndReason = "completed"
	EndEndedEarly     EndReason = "ended_early"
	EndPaymentFailed  EndReason = "payment_failed"
	EndCleanupTimeout EndReason = "cleanup_timeout"
	EndBillingError   EndReason = "billing_error"
)

// BillingSession is the in-memory state of a metered session.
type BillingSession struct {
	ID               SessionID
	RoomID           RoomID
	PayerID          UserID
	PayeeID          UserID
	PayerCustomerRef string
	PayeePayoutRef   string
	Mode             BillingMode
	Rate             decimal.Decimal
	DurationMinutes  int
	HoldRef          string
	ChargeRef        string
	State            BillingState
	StartTime        time.Time
	MinutesBilled    int
	AmountCharged    decimal.Decimal
	LastTickTime     time.Time
	EndTime          time.Time
	EndReason        EndReason
}

type BillingEventType string

const (
	EventCharge   BillingEventType = "charge"
	EventRefund   BillingEventType = "refund"
	EventTransfer BillingEventType = "transfer_created"
	EventGift     BillingEventType = "gift"
)

// BillingEvent is an append-only audit record. Never mutated after creation.
type BillingEvent struct {
	ID         string
	SessionID  SessionID
	StreamID   string
	Type       BillingEventType
	Amount     decimal.Decimal
	PaymentRef string
	Status     string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// GiftTransfer is a one-shot payment split tied to a broadcast room.
type GiftTransfer struct {
	ID             string
	StreamID       string
	RoomID         RoomID
	SenderID       UserID
	ReceiverID     UserID
	GiftType       string
	Amount         decimal.Decimal
	ReceiverAmount decimal.Decimal
	PlatformFee    decimal.Decimal
	Message        string
	PaymentRef     string
	CreatedAt      time.Time
}
