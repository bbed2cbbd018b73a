package http

import (
	"time"

	"github.com/dkeye/Liveroom/internal/app/orch"
	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/shopspring/decimal"
)

type createSessionRequest struct {
	ExternalID             string             `json:"sessionId"`
	ClientID               domain.UserID      `json:"clientId"`
	ReaderID               domain.UserID      `json:"readerId"`
	SessionType            domain.SessionType `json:"sessionType"`
	BillingType            domain.BillingMode `json:"billingType"`
	Rate                   decimal.Decimal    `json:"rate"`
	Duration               int                `json:"duration"`
	ClientStripeCustomerID string             `json:"clientStripeCustomerId"`
	ReaderStripeAccountID  string             `json:"readerStripeAccountId"`
	Metadata               map[string]any     `json:"metadata"`
}

type startBillingRequest struct {
	ClientStripeCustomerID string `json:"clientStripeCustomerId"`
	ReaderStripeAccountID  string `json:"readerStripeAccountId"`
}

type endSessionRequest struct {
	Reason domain.EndReason `json:"reason"`
}

type createStreamRequest struct {
	ReaderID    domain.UserID  `json:"readerId"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	IsPrivate   bool           `json:"isPrivate"`
	Metadata    map[string]any `json:"metadata"`
}

type giftRequest struct {
	SenderID               domain.UserID   `json:"senderId"`
	SenderName             string          `json:"senderName"`
	GiftType               string          `json:"giftType"`
	Amount                 decimal.Decimal `json:"amount"`
	Message                string          `json:"message"`
	SenderStripeCustomerID string          `json:"senderStripeCustomerId"`
	ReaderStripeAccountID  string          `json:"readerStripeAccountId"`
}

type endStreamRequest struct {
	ReaderID domain.UserID `json:"readerId"`
}

type sessionDTO struct {
	ID              domain.SessionID     `json:"id"`
	ExternalID      string               `json:"externalSessionId,omitempty"`
	ClientID        domain.UserID        `json:"clientId"`
	ReaderID        domain.UserID        `json:"readerId"`
	SessionType     domain.SessionType   `json:"sessionType"`
	BillingType     domain.BillingMode   `json:"billingType"`
	Rate            decimal.Decimal      `json:"rate"`
	DurationMinutes int                  `json:"durationMinutes,omitempty"`
	Status          domain.SessionStatus `json:"status"`
	RoomID          domain.RoomID        `json:"roomId"`
	StartTime       *time.Time           `json:"startTime,omitempty"`
	EndTime         *time.Time           `json:"endTime,omitempty"`
	EndReason       domain.EndReason     `json:"endReason,omitempty"`
	TotalMinutes    decimal.Decimal      `json:"totalMinutes"`
	AmountCharged   decimal.Decimal      `json:"amountCharged"`
	Metadata        map[string]any       `json:"metadata,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

func toSessionDTO(rec domain.SessionRecord) sessionDTO {
	return sessionDTO{
		ID:              rec.ID,
		ExternalID:      rec.ExternalID,
		ClientID:        rec.ClientID,
		ReaderID:        rec.ReaderID,
		SessionType:     rec.Type,
		BillingType:     rec.BillingMode,
		Rate:            rec.Rate,
		DurationMinutes: rec.DurationMinutes,
		Status:          rec.Status,
		RoomID:          rec.RoomID,
		StartTime:       optTime(rec.StartTime),
		EndTime:         optTime(rec.EndTime),
		EndReason:       rec.EndReason,
		TotalMinutes:    rec.TotalMinutes,
		AmountCharged:   rec.AmountCharged,
		Metadata:        rec.Metadata,
		CreatedAt:       rec.CreatedAt,
	}
}

type billingDTO struct {
	SessionID       domain.SessionID    `json:"sessionId"`
	RoomID          domain.RoomID       `json:"roomId,omitempty"`
	BillingType     domain.BillingMode  `json:"billingType"`
	Rate            decimal.Decimal     `json:"rate"`
	DurationMinutes int                 `json:"durationMinutes,omitempty"`
	State           domain.BillingState `json:"status"`
	StartTime       *time.Time          `json:"startTime,omitempty"`
	MinutesBilled   int                 `json:"minutesBilled"`
	AmountCharged   decimal.Decimal     `json:"totalCharged"`
	LastTickTime    *time.Time          `json:"lastBillingTime,omitempty"`
	PaymentIntentID string              `json:"paymentIntentId,omitempty"`
}

func toBillingDTO(bs domain.BillingSession) billingDTO {
	ref := bs.ChargeRef
	if ref == "" {
		ref = bs.HoldRef
	}
	return billingDTO{
		SessionID:       bs.ID,
		RoomID:          bs.RoomID,
		BillingType:     bs.Mode,
		Rate:            bs.Rate,
		DurationMinutes: bs.DurationMinutes,
		State:           bs.State,
		StartTime:       optTime(bs.StartTime),
		MinutesBilled:   bs.MinutesBilled,
		AmountCharged:   bs.AmountCharged,
		LastTickTime:    optTime(bs.LastTickTime),
		PaymentIntentID: ref,
	}
}

type streamDTO struct {
	ID          string          `json:"id"`
	ReaderID    domain.UserID   `json:"readerId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	RoomID      domain.RoomID   `json:"roomId"`
	IsActive    bool            `json:"isActive"`
	IsPrivate   bool            `json:"isPrivate"`
	ViewerCount int             `json:"viewerCount"`
	TotalGifts  decimal.Decimal `json:"totalGifts"`
	GiftCount   int             `json:"giftCount"`
	StartedAt   time.Time       `json:"startedAt"`
	EndedAt     *time.Time      `json:"endedAt,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

func toStreamDTO(st domain.Stream, viewers int) streamDTO {
	return streamDTO{
		ID:          st.ID,
		ReaderID:    st.ReaderID,
		Title:       st.Title,
		Description: st.Description,
		Category:    st.Category,
		RoomID:      st.RoomID,
		IsActive:    st.Active,
		IsPrivate:   st.Private,
		ViewerCount: viewers,
		TotalGifts:  st.TotalGifts,
		GiftCount:   st.GiftCount,
		StartedAt:   st.StartedAt,
		EndedAt:     optTime(st.EndedAt),
		Metadata:    st.Metadata,
	}
}

func toStreamDTOs(views []orch.StreamView) []streamDTO {
	out := make([]streamDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toStreamDTO(v.Stream, v.ViewerCount))
	}
	return out
}

type giftDTO struct {
	ID             string          `json:"id"`
	StreamID       string          `json:"streamId"`
	SenderID       domain.UserID   `json:"senderId"`
	ReceiverID     domain.UserID   `json:"receiverId"`
	GiftType       string          `json:"giftType"`
	Amount         decimal.Decimal `json:"amount"`
	ReceiverAmount decimal.Decimal `json:"receiverAmount"`
	PlatformFee    decimal.Decimal `json:"platformFee"`
	Message        string          `json:"message,omitempty"`
	Paid           bool            `json:"paid"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toGiftDTO(g domain.GiftTransfer) giftDTO {
	return giftDTO{
		ID:             g.ID,
		StreamID:       g.StreamID,
		SenderID:       g.SenderID,
		ReceiverID:     g.ReceiverID,
		GiftType:       g.GiftType,
		Amount:         g.Amount,
		ReceiverAmount: g.ReceiverAmount,
		PlatformFee:    g.PlatformFee,
		Message:        g.Message,
		Paid:           g.PaymentRef != "",
		CreatedAt:      g.CreatedAt,
	}
}

type roomDTO struct {
	ParticipantCount int                   `json:"participantCount"`
	Participants     []core.ParticipantDTO `json:"participants"`
}

func toRoomDTO(snap *core.RoomSnapshot) *roomDTO {
	if snap == nil {
		return nil
	}
	return &roomDTO{ParticipantCount: snap.ParticipantCount, Participants: snap.Participants}
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
