package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Reason sent to room members when a session is ended on request.
const sessionEndedReason = "session_ended"

type CreateSessionInput struct {
	ExternalID        string
	ClientID          domain.UserID
	ReaderID          domain.UserID
	Type              domain.SessionType
	BillingMode       domain.BillingMode
	Rate              decimal.Decimal
	DurationMinutes   int
	ClientCustomerRef string
	ReaderPayoutRef   string
	Metadata          map[string]any
}

func (in *CreateSessionInput) normalize() error {
	if in.Type == "" {
		in.Type = domain.SessionVideo
	}
	if in.BillingMode == "" {
		in.BillingMode = domain.BillingPerMinute
	}
	switch {
	case in.ClientID.Validate() != nil:
		return invalidf("clientId is required")
	case in.ReaderID.Validate() != nil:
		return invalidf("readerId is required")
	case !in.Type.Valid():
		return invalidf("unknown session type %q", in.Type)
	case !in.Rate.IsPositive():
		return invalidf("rate must be greater than 0")
	}
	switch in.BillingMode {
	case domain.BillingPerMinute:
	case domain.BillingFixedDuration:
		if in.DurationMinutes <= 0 {
			return invalidf("duration is required for fixed_duration billing")
		}
	default:
		return invalidf("unknown billing type %q", in.BillingMode)
	}
	return nil
}

// CreatedSession is the new row and, when payment details were supplied,
// how billing started.
type CreatedSession struct {
	Session domain.SessionRecord
	Billing *billing.StartResult
}

// CreateSession books a reading session in a fresh room. Billing starts
// right away only if both the client customer and the reader payout refs
// are present; otherwise the session stays pending until StartBilling.
func (o *Orchestrator) CreateSession(ctx context.Context, in CreateSessionInput) (CreatedSession, error) {
	if err := in.normalize(); err != nil {
		return CreatedSession{}, err
	}
	rec := domain.SessionRecord{
		ID:              domain.SessionID(uuid.NewString()),
		ExternalID:      in.ExternalID,
		ClientID:        in.ClientID,
		ReaderID:        in.ReaderID,
		Type:            in.Type,
		BillingMode:     in.BillingMode,
		Rate:            in.Rate,
		DurationMinutes: in.DurationMinutes,
		Status:          domain.SessionPending,
		RoomID:          domain.RoomID(uuid.NewString()),
		Metadata:        in.Metadata,
	}
	if err := o.Catalog.CreateSession(ctx, &rec); err != nil {
		return CreatedSession{}, err
	}
	log.Info().Str("module", "orch").Str("session", string(rec.ID)).Str("room", string(rec.RoomID)).
		Str("client", string(rec.ClientID)).Str("reader", string(rec.ReaderID)).Msg("session created")

	out := CreatedSession{Session: rec}
	if in.ClientCustomerRef != "" && in.ReaderPayoutRef != "" {
		res, err := o.startBilling(ctx, &out.Session, in.ClientCustomerRef, in.ReaderPayoutRef)
		if err != nil {
			return out, err
		}
		out.Billing = &res
	}

	o.notify(EventSessionStarted, map[string]any{
		"sessionId":   rec.ID,
		"externalId":  rec.ExternalID,
		"clientId":    rec.ClientID,
		"readerId":    rec.ReaderID,
		"sessionType": rec.Type,
		"billingType": rec.BillingMode,
		"roomId":      rec.RoomID,
		"billing":     out.Billing != nil,
	})
	return out, nil
}

// StartBilling begins metering a session that was created without payment details.
func (o *Orchestrator) StartBilling(ctx context.Context, ref, customerRef, payoutRef string) (billing.StartResult, error) {
	rec, err := o.Catalog.FindSession(ctx, ref)
	if err != nil {
		return billing.StartResult{}, err
	}
	if rec.Status != domain.SessionPending {
		return billing.StartResult{}, invalidf("session is %s", rec.Status)
	}
	return o.startBilling(ctx, &rec, customerRef, payoutRef)
}

func (o *Orchestrator) startBilling(ctx context.Context, rec *domain.SessionRecord, customerRef, payoutRef string) (billing.StartResult, error) {
	res, err := o.Billing.StartSession(ctx, billing.StartRequest{
		SessionID:        rec.ID,
		RoomID:           rec.RoomID,
		PayerID:          rec.ClientID,
		PayeeID:          rec.ReaderID,
		PayerCustomerRef: customerRef,
		PayeePayoutRef:   payoutRef,
		Mode:             rec.BillingMode,
		Rate:             rec.Rate,
		DurationMinutes:  rec.DurationMinutes,
	})
	if err != nil {
		if !errors.Is(err, billing.ErrSessionExists) {
			reason := domain.EndBillingError
			if billing.IsDecline(err) {
				reason = domain.EndPaymentFailed
			}
			// A failed fixed-duration charge already persisted the row as ended; it keeps its status.
			o.closeRow(ctx, rec.ID, domain.SessionCancelled, reason)
			if fresh, ferr := o.Catalog.FindSession(ctx, string(rec.ID)); ferr == nil {
				*rec = fresh
			}
		}
		return res, err
	}
	rec.Status = domain.SessionActive
	return res, nil
}

// EndedSession is the final row together with the billing outcome.
type EndedSession struct {
	Session domain.SessionRecord
	Billing billing.EndResult
	Closed  int
}

// EndSession stops billing, closes the row and ends the room. ref is a
// session id or a room id. reason must be completed or ended_early.
func (o *Orchestrator) EndSession(ctx context.Context, ref string, reason domain.EndReason) (EndedSession, error) {
	switch reason {
	case "":
		reason = domain.EndCompleted
	case domain.EndCompleted, domain.EndEndedEarly:
	default:
		return EndedSession{}, invalidf("unknown end reason %q", reason)
	}
	rec, err := o.Catalog.FindSession(ctx, ref)
	if err != nil {
		return EndedSession{}, err
	}

	res := o.Billing.EndSession(ctx, rec.ID, reason)
	if res.NoActive {
		o.closeRow(ctx, rec.ID, domain.SessionCompleted, reason)
		o.notify(EventSessionEnded, map[string]any{
			"sessionId": rec.ID,
			"roomId":    rec.RoomID,
			"reason":    reason,
		})
	}
	closed := o.Rooms.EndRoom(rec.RoomID, sessionEndedReason)

	if fresh, err := o.Catalog.FindSession(ctx, string(rec.ID)); err == nil {
		rec = fresh
	}
	log.Info().Str("module", "orch").Str("session", string(rec.ID)).Str("reason", string(reason)).Int("closed", closed).Msg("session ended")
	return EndedSession{Session: rec, Billing: res, Closed: closed}, nil
}

func (o *Orchestrator) closeRow(ctx context.Context, id domain.SessionID, status domain.SessionStatus, reason domain.EndReason) {
	if err := o.Catalog.CloseSession(ctx, id, status, reason); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("session", string(id)).Msg("close session row")
	}
}

// SessionView is the row plus whatever is live for it right now.
type SessionView struct {
	Session domain.SessionRecord
	Room    *core.RoomSnapshot
	Billing *domain.BillingSession
}

func (o *Orchestrator) SessionStatus(ctx context.Context, ref string) (SessionView, error) {
	rec, err := o.Catalog.FindSession(ctx, ref)
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{Session: rec}
	if snap, ok := o.Rooms.GetRoomInfo(rec.RoomID); ok {
		view.Room = &snap
	}
	if bs, ok := o.Billing.GetBillingInfo(rec.ID); ok {
		view.Billing = &bs
	}
	return view, nil
}

func (o *Orchestrator) BillingInfo(id domain.SessionID) (domain.BillingSession, bool) {
	return o.Billing.GetBillingInfo(id)
}

// systemEnded reports reasons the server decides on its own. Those end the
// room from the billing hook; requested ends close the room themselves.
func systemEnded(reason domain.EndReason) bool {
	switch reason {
	case domain.EndPaymentFailed, domain.EndBillingError, domain.EndCleanupTimeout:
		return true
	}
	return false
}

// onBillingEnded tells both parties while their connections are still
// open, then tears the room down for server-side ends.
func (o *Orchestrator) onBillingEnded(s domain.BillingSession, res billing.EndResult) {
	note := map[string]any{
		"type":         "session_ended",
		"sessionId":    s.ID,
		"reason":       res.Reason,
		"totalMinutes": res.ActualMinutes,
		"totalCharged": res.TotalCharged,
	}
	for _, uid := range []domain.UserID{s.PayerID, s.PayeeID} {
		if uid != "" {
			o.Router.NotifyUser(uid, note)
		}
	}
	if systemEnded(res.Reason) && s.RoomID != "" {
		o.Rooms.EndRoom(s.RoomID, string(res.Reason))
	}
	o.notify(EventSessionEnded, map[string]any{
		"sessionId":     s.ID,
		"roomId":        s.RoomID,
		"reason":        res.Reason,
		"totalMinutes":  res.ActualMinutes,
		"minutesBilled": res.MinutesBilled,
		"totalCharged":  res.TotalCharged,
		"refunded":      res.Refunded,
	})
	log.Info().Str("module", "orch").Str("session", string(s.ID)).Str("reason", string(res.Reason)).Msg("billing ended")
}
