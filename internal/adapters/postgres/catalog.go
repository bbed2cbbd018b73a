package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) CreateSession(ctx context.Context, rec *domain.SessionRecord) error {
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	var duration *int
	if rec.DurationMinutes > 0 {
		duration = &rec.DurationMinutes
	}
	query := `
		INSERT INTO webrtc_sessions
			(id, external_session_id, client_id, reader_id, session_type, billing_type, rate,
			 duration_minutes, room_id, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10, $11)
		RETURNING created_at`
	err := s.db.QueryRow(ctx, query,
		string(rec.ID), nullString(rec.ExternalID), string(rec.ClientID), string(rec.ReaderID),
		string(rec.Type), string(rec.BillingMode), rec.Rate.String(), duration,
		string(rec.RoomID), string(rec.Status), meta,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindSession looks a session up by id or room id.
func (s *Store) FindSession(ctx context.Context, ref string) (domain.SessionRecord, error) {
	var (
		rec                     domain.SessionRecord
		id, client, reader      string
		typ, mode, status, room string
		external, endReason     *string
		duration                *int
		rate, minutes, charged  string
		start, end              *time.Time
	)
	query := `
		SELECT id, external_session_id, client_id, reader_id, session_type, billing_type,
		       rate::text, duration_minutes, status, room_id, start_time, end_time, end_reason,
		       total_minutes::text, amount_charged::text, metadata, created_at
		FROM webrtc_sessions
		WHERE id = $1 OR room_id = $1
		LIMIT 1`
	err := s.db.QueryRow(ctx, query, ref).Scan(
		&id, &external, &client, &reader, &typ, &mode,
		&rate, &duration, &status, &room, &start, &end, &endReason,
		&minutes, &charged, &rec.Metadata, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionRecord{}, domain.ErrSessionNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("find session: %w", err)
	}
	rec.ID = domain.SessionID(id)
	rec.ExternalID = derefString(external)
	rec.ClientID = domain.UserID(client)
	rec.ReaderID = domain.UserID(reader)
	rec.Type = domain.SessionType(typ)
	rec.BillingMode = domain.BillingMode(mode)
	rec.Status = domain.SessionStatus(status)
	rec.RoomID = domain.RoomID(room)
	rec.StartTime = derefTime(start)
	rec.EndTime = derefTime(end)
	rec.EndReason = domain.EndReason(derefString(endReason))
	if duration != nil {
		rec.DurationMinutes = *duration
	}
	rec.Rate = decimal.RequireFromString(rate)
	rec.TotalMinutes = decimal.RequireFromString(minutes)
	rec.AmountCharged = decimal.RequireFromString(charged)
	return rec, nil
}

// CloseSession ends a row that never reached billing. Rows already closed are left alone.
func (s *Store) CloseSession(ctx context.Context, id domain.SessionID, status domain.SessionStatus, reason domain.EndReason) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE webrtc_sessions
		SET status = CASE WHEN status IN ('pending', 'active') THEN $2 ELSE status END,
		    end_reason = COALESCE(end_reason, $3),
		    end_time = COALESCE(end_time, NOW()),
		    updated_at = NOW()
		WHERE id = $1`,
		string(id), string(status), nullString(string(reason)),
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) CreateStream(ctx context.Context, st *domain.Stream) error {
	meta := st.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	query := `
		INSERT INTO live_streams
			(id, reader_id, title, description, room_id, category, is_active, is_private, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8)
		RETURNING started_at`
	err := s.db.QueryRow(ctx, query,
		st.ID, string(st.ReaderID), st.Title, st.Description, string(st.RoomID),
		st.Category, st.Private, meta,
	).Scan(&st.StartedAt)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	st.Active = true
	st.TotalGifts = decimal.Zero
	return nil
}

const streamColumns = `
	ls.id, ls.reader_id, ls.title, COALESCE(ls.description, ''), ls.room_id, ls.category,
	ls.is_active, ls.is_private, ls.started_at, ls.ended_at, ls.metadata,
	COUNT(sg.id), COALESCE(SUM(sg.amount), 0)::text`

func scanStream(row pgx.Row) (domain.Stream, error) {
	var (
		st           domain.Stream
		reader, room string
		ended        *time.Time
		total        string
	)
	err := row.Scan(
		&st.ID, &reader, &st.Title, &st.Description, &room, &st.Category,
		&st.Active, &st.Private, &st.StartedAt, &ended, &st.Metadata,
		&st.GiftCount, &total,
	)
	if err != nil {
		return domain.Stream{}, err
	}
	st.ReaderID = domain.UserID(reader)
	st.RoomID = domain.RoomID(room)
	st.EndedAt = derefTime(ended)
	st.TotalGifts = decimal.RequireFromString(total)
	return st, nil
}

// FindStream looks a stream up by id or room id, with its gift totals.
func (s *Store) FindStream(ctx context.Context, ref string) (domain.Stream, error) {
	query := `SELECT` + streamColumns + `
		FROM live_streams ls
		LEFT JOIN stream_gifts sg ON sg.stream_id = ls.id
		WHERE ls.id = $1 OR ls.room_id = $1
		GROUP BY ls.id
		LIMIT 1`
	st, err := scanStream(s.db.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stream{}, domain.ErrStreamNotFound
		}
		return domain.Stream{}, fmt.Errorf("find stream: %w", err)
	}
	return st, nil
}

// EndStream marks an active stream inactive and returns its gift totals.
func (s *Store) EndStream(ctx context.Context, id string) (domain.GiftSummary, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE live_streams
		SET is_active = false, ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active = true`,
		id,
	)
	if err != nil {
		return domain.GiftSummary{}, fmt.Errorf("end stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.GiftSummary{}, domain.ErrStreamNotFound
	}

	var (
		sum   domain.GiftSummary
		total string
		last  *time.Time
	)
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::text, MAX(created_at)
		FROM stream_gifts
		WHERE stream_id = $1`,
		id,
	).Scan(&sum.Count, &total, &last)
	if err != nil {
		return domain.GiftSummary{}, fmt.Errorf("stream gift totals: %w", err)
	}
	sum.Amount = decimal.RequireFromString(total)
	sum.LastGift = derefTime(last)
	return sum, nil
}

// ActiveStreams lists public live streams, newest first.
func (s *Store) ActiveStreams(ctx context.Context, category string, limit, offset int) ([]domain.Stream, error) {
	query := `SELECT` + streamColumns + `
		FROM live_streams ls
		LEFT JOIN stream_gifts sg ON sg.stream_id = ls.id
		WHERE ls.is_active = true AND ls.is_private = false
		  AND ($1 = '' OR ls.category = $1)
		GROUP BY ls.id
		ORDER BY ls.started_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("active streams: %w", err)
	}
	defer rows.Close()

	var streams []domain.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

func (s *Store) StreamGifts(ctx context.Context, streamID string, limit, offset int) ([]domain.GiftTransfer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, stream_id, sender_id, receiver_id, gift_type, amount::text,
		       receiver_amount::text, platform_fee::text, COALESCE(message, ''),
		       COALESCE(stripe_payment_intent_id, ''), created_at
		FROM stream_gifts
		WHERE stream_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		streamID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("stream gifts: %w", err)
	}
	defer rows.Close()

	var gifts []domain.GiftTransfer
	for rows.Next() {
		var (
			g                           domain.GiftTransfer
			sender, receiver            string
			amount, receiverAmount, fee string
		)
		if err := rows.Scan(&g.ID, &g.StreamID, &sender, &receiver, &g.GiftType, &amount,
			&receiverAmount, &fee, &g.Message, &g.PaymentRef, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.SenderID = domain.UserID(sender)
		g.ReceiverID = domain.UserID(receiver)
		g.Amount = decimal.RequireFromString(amount)
		g.ReceiverAmount = decimal.RequireFromString(receiverAmount)
		g.PlatformFee = decimal.RequireFromString(fee)
		gifts = append(gifts, g)
	}
	return gifts, rows.Err()
}
