package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var _ billing.Store = (*Store)(nil)

// UpsertSession writes the billing state onto the session row, creating
// the row when billing started without one.
func (s *Store) UpsertSession(ctx context.Context, bs domain.BillingSession) error {
	status := domain.SessionActive
	if bs.State == domain.BillingPending {
		status = domain.SessionPending
	}
	minutes := decimal.NewFromInt(int64(bs.MinutesBilled))
	if bs.State == domain.BillingEnded {
		status = domain.SessionCompleted
		if !bs.StartTime.IsZero() {
			minutes = decimal.NewFromFloat(bs.EndTime.Sub(bs.StartTime).Minutes()).Round(2)
		}
	}
	room := bs.RoomID
	if room == "" {
		room = domain.RoomID(bs.ID)
	}
	paymentRef := bs.ChargeRef
	if paymentRef == "" {
		paymentRef = bs.HoldRef
	}

	query := `
		INSERT INTO webrtc_sessions
			(id, client_id, reader_id, billing_type, rate, duration_minutes, room_id, status,
			 start_time, end_time, end_reason, total_minutes, amount_charged, stripe_payment_intent_id)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9, $10, $11, $12::text::numeric, $13::text::numeric, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			start_time = COALESCE(webrtc_sessions.start_time, EXCLUDED.start_time),
			end_time = EXCLUDED.end_time,
			end_reason = EXCLUDED.end_reason,
			total_minutes = EXCLUDED.total_minutes,
			amount_charged = EXCLUDED.amount_charged,
			stripe_payment_intent_id = COALESCE(EXCLUDED.stripe_payment_intent_id, webrtc_sessions.stripe_payment_intent_id),
			updated_at = NOW()`
	_, err := s.db.Exec(ctx, query,
		string(bs.ID), string(bs.PayerID), string(bs.PayeeID), string(bs.Mode), bs.Rate.String(),
		bs.DurationMinutes, string(room), string(status),
		nullTime(bs.StartTime), nullTime(bs.EndTime), nullString(string(bs.EndReason)),
		minutes.String(), bs.AmountCharged.String(), nullString(paymentRef),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", bs.ID, err)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.BillingEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	query := `
		INSERT INTO billing_events
			(id, session_id, stream_id, event_type, amount, stripe_payment_intent_id, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, query,
		ev.ID, nullString(string(ev.SessionID)), nullString(ev.StreamID), string(ev.Type),
		ev.Amount.String(), nullString(ev.PaymentRef), ev.Status, meta, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	return nil
}

// RecordGift stores the gift and bumps the stream total in one transaction.
func (s *Store) RecordGift(ctx context.Context, g domain.GiftTransfer) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO stream_gifts
				(id, stream_id, sender_id, receiver_id, gift_type, amount, receiver_amount,
				 platform_fee, message, stripe_payment_intent_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9, $10, $11)`,
			g.ID, g.StreamID, string(g.SenderID), string(g.ReceiverID), g.GiftType,
			g.Amount.String(), g.ReceiverAmount.String(), g.PlatformFee.String(),
			g.Message, nullString(g.PaymentRef), g.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert gift: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE live_streams
			SET total_gifts = total_gifts + $1::text::numeric, updated_at = NOW()
			WHERE id = $2`,
			g.Amount.String(), g.StreamID,
		)
		if err != nil {
			return fmt.Errorf("update stream total: %w", err)
		}
		return nil
	})
}

func (s *Store) CompleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE webrtc_sessions
		SET status = 'completed', end_time = NOW(), end_reason = 'cleanup_timeout', updated_at = NOW()
		WHERE status = 'active' AND start_time < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("complete stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) SessionStats(ctx context.Context, since time.Time) (billing.SessionStats, error) {
	var (
		st                   billing.SessionStats
		revenue, avgDuration string
	)
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount_charged), 0)::text,
			COALESCE(AVG(total_minutes), 0)::text,
			COUNT(*) FILTER (WHERE status = 'active')
		FROM webrtc_sessions
		WHERE created_at >= $1`,
		since,
	).Scan(&st.TotalSessions, &revenue, &avgDuration, &st.ActiveSessions)
	if err != nil {
		return billing.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	if st.TotalRevenue, err = decimal.NewFromString(revenue); err != nil {
		return billing.SessionStats{}, err
	}
	if st.AvgSessionDuration, err = decimal.NewFromString(avgDuration); err != nil {
		return billing.SessionStats{}, err
	}
	st.AvgSessionDuration = st.AvgSessionDuration.Round(2)
	return st, nil
}
