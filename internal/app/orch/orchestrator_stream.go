package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Liveroom/internal/app"
	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	streamEndedReason = "stream_ended"
	defaultCategory   = "general"
)

type CreateStreamInput struct {
	ReaderID    domain.UserID
	Title       string
	Description string
	Category    string
	Private     bool
	Metadata    map[string]any
}

// CreateStream opens a broadcast in a fresh room owned by the reader.
func (o *Orchestrator) CreateStream(ctx context.Context, in CreateStreamInput) (domain.Stream, error) {
	if in.ReaderID.Validate() != nil {
		return domain.Stream{}, invalidf("readerId is required")
	}
	if in.Title == "" {
		return domain.Stream{}, invalidf("title is required")
	}
	if in.Category == "" {
		in.Category = defaultCategory
	}
	st := domain.Stream{
		ID:          uuid.NewString(),
		ReaderID:    in.ReaderID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		RoomID:      domain.RoomID(uuid.NewString()),
		Private:     in.Private,
		Metadata:    in.Metadata,
	}
	if err := o.Catalog.CreateStream(ctx, &st); err != nil {
		return domain.Stream{}, err
	}
	log.Info().Str("module", "orch").Str("stream", st.ID).Str("room", string(st.RoomID)).Str("reader", string(st.ReaderID)).Msg("stream created")
	return st, nil
}

type GiftInput struct {
	StreamRef         string
	SenderID          domain.UserID
	SenderName        string
	GiftType          string
	Amount            decimal.Decimal
	Message           string
	SenderCustomerRef string
	ReceiverPayoutRef string
}

type giftAnimation struct {
	GiftID     string          `json:"giftId"`
	GiftType   string          `json:"giftType"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message,omitempty"`
	SenderID   domain.UserID   `json:"senderId"`
	SenderName string          `json:"senderName,omitempty"`
	ReceiverID domain.UserID   `json:"receiverId"`
	StreamID   string          `json:"streamId"`
	Timestamp  string          `json:"timestamp"`
}

// SendGift charges for a gift on a live stream, or only records it when
// either payment ref is missing, then shows it in the room and tells the
// reader.
func (o *Orchestrator) SendGift(ctx context.Context, in GiftInput) (domain.GiftTransfer, error) {
	if in.StreamRef == "" {
		return domain.GiftTransfer{}, invalidf("streamId is required")
	}
	st, err := o.Catalog.FindStream(ctx, in.StreamRef)
	if err != nil {
		return domain.GiftTransfer{}, err
	}
	if !st.Active {
		return domain.GiftTransfer{}, ErrStreamInactive
	}

	req := billing.GiftRequest{
		StreamID:          st.ID,
		RoomID:            st.RoomID,
		SenderID:          in.SenderID,
		ReceiverID:        st.ReaderID,
		GiftType:          in.GiftType,
		Amount:            in.Amount,
		Message:           in.Message,
		SenderCustomerRef: in.SenderCustomerRef,
		ReceiverPayoutRef: in.ReceiverPayoutRef,
	}
	var g domain.GiftTransfer
	if in.SenderCustomerRef != "" && in.ReceiverPayoutRef != "" {
		g, err = o.Billing.ProcessGift(ctx, req)
	} else {
		g, err = o.Billing.RecordGift(ctx, req)
	}
	if err != nil {
		return domain.GiftTransfer{}, err
	}

	ts := o.timestamp()
	anim := giftAnimation{
		GiftID:     g.ID,
		GiftType:   g.GiftType,
		Amount:     g.Amount,
		Message:    g.Message,
		SenderID:   g.SenderID,
		SenderName: in.SenderName,
		ReceiverID: g.ReceiverID,
		StreamID:   st.ID,
		Timestamp:  ts,
	}
	if _, err := o.Rooms.Broadcast(st.RoomID, "", app.Encode(app.MsgGiftAnimation, anim)); err != nil && !errors.Is(err, app.ErrRoomNotFound) {
		log.Warn().Err(err).Str("module", "orch").Str("stream", st.ID).Msg("gift animation")
	}
	o.Router.NotifyUser(st.ReaderID, map[string]any{
		"type":       "gift_received",
		"giftId":     g.ID,
		"giftType":   g.GiftType,
		"amount":     g.Amount,
		"yourAmount": g.ReceiverAmount,
		"senderId":   g.SenderID,
		"senderName": in.SenderName,
		"message":    g.Message,
		"streamId":   st.ID,
	})
	o.notify(EventGiftProcessed, map[string]any{
		"giftId":         g.ID,
		"streamId":       st.ID,
		"senderId":       g.SenderID,
		"receiverId":     g.ReceiverID,
		"giftType":       g.GiftType,
		"amount":         g.Amount,
		"receiverAmount": g.ReceiverAmount,
		"platformFee":    g.PlatformFee,
		"paid":           g.PaymentRef != "",
	})
	return g, nil
}

// EndedStream is the closed stream with its gift totals.
type EndedStream struct {
	Stream  domain.Stream
	Summary domain.GiftSummary
	Closed  int
}

// EndStream closes a live stream. When readerID is set only the owning
// reader may end it; anyone else gets ErrStreamNotFound.
func (o *Orchestrator) EndStream(ctx context.Context, ref string, readerID domain.UserID) (EndedStream, error) {
	st, err := o.Catalog.FindStream(ctx, ref)
	if err != nil {
		return EndedStream{}, err
	}
	if !st.Active || (readerID != "" && st.ReaderID != readerID) {
		return EndedStream{}, domain.ErrStreamNotFound
	}
	sum, err := o.Catalog.EndStream(ctx, st.ID)
	if err != nil {
		return EndedStream{}, err
	}
	closed := o.Rooms.EndRoom(st.RoomID, streamEndedReason)
	st.Active = false
	st.EndedAt = o.now()
	st.GiftCount = sum.Count
	st.TotalGifts = sum.Amount

	o.notify(EventStreamEnded, map[string]any{
		"streamId":   st.ID,
		"readerId":   st.ReaderID,
		"roomId":     st.RoomID,
		"totalGifts": sum.Amount,
		"giftCount":  sum.Count,
		"duration":   int64(st.EndedAt.Sub(st.StartedAt).Seconds()),
	})
	log.Info().Str("module", "orch").Str("stream", st.ID).Int("gifts", sum.Count).Int("closed", closed).Msg("stream ended")
	return EndedStream{Stream: st, Summary: sum, Closed: closed}, nil
}

// StreamView is a stream with its live audience.
type StreamView struct {
	Stream      domain.Stream
	ViewerCount int
	Room        *core.RoomSnapshot
}

func (o *Orchestrator) StreamStatus(ctx context.Context, ref string) (StreamView, error) {
	st, err := o.Catalog.FindStream(ctx, ref)
	if err != nil {
		return StreamView{}, err
	}
	return o.streamView(st), nil
}

func (o *Orchestrator) ActiveStreams(ctx context.Context, category string, limit, offset int) ([]StreamView, error) {
	streams, err := o.Catalog.ActiveStreams(ctx, category, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]StreamView, 0, len(streams))
	for _, st := range streams {
		out = append(out, o.streamView(st))
	}
	return out, nil
}

func (o *Orchestrator) StreamGifts(ctx context.Context, ref string, limit, offset int) ([]domain.GiftTransfer, error) {
	st, err := o.Catalog.FindStream(ctx, ref)
	if err != nil {
		return nil, err
	}
	return o.Catalog.StreamGifts(ctx, st.ID, limit, offset)
}

func (o *Orchestrator) streamView(st domain.Stream) StreamView {
	view := StreamView{Stream: st}
	snap, ok := o.Rooms.GetRoomInfo(st.RoomID)
	if !ok {
		return view
	}
	view.Room = &snap
	for _, p := range snap.Participants {
		if p.Role == domain.RoleViewer {
			view.ViewerCount++
		}
	}
	return view
}
