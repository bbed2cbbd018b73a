// Package memory is the process-local store used when no database is
// configured. Contents are lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.SessionRecord
	streams  map[string]*domain.Stream
	gifts    []domain.GiftTransfer
	events   []domain.BillingEvent
	now      func() time.Time
}

var _ billing.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		sessions: make(map[domain.SessionID]*domain.SessionRecord),
		streams:  make(map[string]*domain.Stream),
		now:      time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateSession(_ context.Context, rec *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CreatedAt = s.now()
	cp := *rec
	s.sessions[rec.ID] = &cp
	return nil
}

func (s *Store) findSession(ref string) *domain.SessionRecord {
	if rec, ok := s.sessions[domain.SessionID(ref)]; ok {
		return rec
	}
	for _, rec := range s.sessions {
		if string(rec.RoomID) == ref {
			return rec
		}
	}
	return nil
}

func (s *Store) FindSession(_ context.Context, ref string) (domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.findSession(ref)
	if rec == nil {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	return *rec, nil
}

// CloseSession ends a row that never reached billing. Rows already closed are left alone.
func (s *Store) CloseSession(_ context.Context, id domain.SessionID, status domain.SessionStatus, reason domain.EndReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if rec.Status == domain.SessionPending || rec.Status == domain.SessionActive {
		rec.Status = status
		rec.EndReason = reason
		rec.EndTime = s.now()
	}
	return nil
}

func (s *Store) UpsertSession(_ context.Context, bs domain.BillingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[bs.ID]
	if !ok {
		rec = &domain.SessionRecord{
			ID:              bs.ID,
			ClientID:        bs.PayerID,
			ReaderID:        bs.PayeeID,
			BillingMode:     bs.Mode,
			Rate:            bs.Rate,
			DurationMinutes: bs.DurationMinutes,
			RoomID:          bs.RoomID,
			CreatedAt:       s.now(),
		}
		s.sessions[bs.ID] = rec
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = bs.StartTime
	}
	rec.AmountCharged = bs.AmountCharged
	rec.TotalMinutes = decimal.NewFromInt(int64(bs.MinutesBilled))
	switch bs.State {
	case domain.BillingPending:
		rec.Status = domain.SessionPending
	case domain.BillingActive:
		rec.Status = domain.SessionActive
	case domain.BillingEnded:
		rec.Status = domain.SessionCompleted
		rec.EndReason = bs.EndReason
		rec.EndTime = bs.EndTime
		if !bs.StartTime.IsZero() {
			rec.TotalMinutes = decimal.NewFromFloat(bs.EndTime.Sub(bs.StartTime).Minutes()).Round(2)
		}
	}
	return nil
}

func (s *Store) AppendEvent(_ context.Context, ev domain.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) RecordGift(_ context.Context, g domain.GiftTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gifts = append(s.gifts, g)
	if st, ok := s.streams[g.StreamID]; ok {
		st.TotalGifts = st.TotalGifts.Add(g.Amount)
		st.GiftCount++
	}
	return nil
}

func (s *Store) CompleteStaleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.sessions {
		if rec.Status == domain.SessionActive && !rec.StartTime.IsZero() && rec.StartTime.Before(cutoff) {
			rec.Status = domain.SessionCompleted
			rec.EndReason = domain.EndCleanupTimeout
			rec.EndTime = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Store) SessionStats(_ context.Context, since time.Time) (billing.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := billing.SessionStats{TotalRevenue: decimal.Zero, AvgSessionDuration: decimal.Zero}
	minutes := decimal.Zero
	for _, rec := range s.sessions {
		if rec.CreatedAt.Before(since) {
			continue
		}
		st.TotalSessions++
		st.TotalRevenue = st.TotalRevenue.Add(rec.AmountCharged)
		minutes = minutes.Add(rec.TotalMinutes)
		if rec.Status == domain.SessionActive {
			st.ActiveSessions++
		}
	}
	if st.TotalSessions > 0 {
		st.AvgSessionDuration = minutes.Div(decimal.NewFromInt(st.TotalSessions)).Round(2)
	}
	return st, nil
}

func (s *Store) CreateStream(_ context.Context, st *domain.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Active = true
	st.StartedAt = s.now()
	st.TotalGifts = decimal.Zero
	cp := *st
	s.streams[st.ID] = &cp
	return nil
}

func (s *Store) findStream(ref string) *domain.Stream {
	if st, ok := s.streams[ref]; ok {
		return st
	}
	for _, st := range s.streams {
		if string(st.RoomID) == ref {
			return st
		}
	}
	return nil
}

func (s *Store) FindStream(_ context.Context, ref string) (domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.findStream(ref)
	if st == nil {
		return domain.Stream{}, domain.ErrStreamNotFound
	}
	return *st, nil
}

func (s *Store) EndStream(_ context.Context, id string) (domain.GiftSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok || !st.Active {
		return domain.GiftSummary{}, domain.ErrStreamNotFound
	}
	st.Active = false
	st.EndedAt = s.now()
	sum := domain.GiftSummary{Amount: decimal.Zero}
	for _, g := range s.gifts {
		if g.StreamID != id {
			continue
		}
		sum.Count++
		sum.Amount = sum.Amount.Add(g.Amount)
		if g.CreatedAt.After(sum.LastGift) {
			sum.LastGift = g.CreatedAt
		}
	}
	return sum, nil
}

func (s *Store) ActiveStreams(_ context.Context, category string, limit, offset int) ([]domain.Stream, error) {
	s.mu.RLock()
	var out []domain.Stream
	for _, st := range s.streams {
		if !st.Active || st.Private || (category != "" && st.Category != category) {
			continue
		}
		out = append(out, *st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) StreamGifts(_ context.Context, streamID string, limit, offset int) ([]domain.GiftTransfer, error) {
	s.mu.RLock()
	var out []domain.GiftTransfer
	for i := len(s.gifts) - 1; i >= 0; i-- {
		if s.gifts[i].StreamID == streamID {
			out = append(out, s.gifts[i])
		}
	}
	s.mu.RUnlock()
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
