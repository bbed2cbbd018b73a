package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRecordFollowsBilling(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &domain.SessionRecord{
		ID: "s1", RoomID: "room-1", ClientID: "c", ReaderID: "r", Status: domain.SessionPending,
	}))

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{
		ID: "s1", State: domain.BillingActive, StartTime: start, MinutesBilled: 1,
		AmountCharged: decimal.RequireFromString("3.99"),
	}))
	rec, err := s.FindSession(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, rec.Status)

	require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{
		ID: "s1", State: domain.BillingEnded, EndReason: domain.EndPaymentFailed,
		StartTime: start, EndTime: start.Add(90 * time.Second), MinutesBilled: 1,
		AmountCharged: decimal.RequireFromString("3.99"),
	}))
	rec, err = s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, rec.Status)
	assert.Equal(t, domain.EndPaymentFailed, rec.EndReason)
	assert.Equal(t, "1.5", rec.TotalMinutes.String())

	_, err = s.FindSession(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCompleteStaleSessions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{ID: "old", State: domain.BillingActive, StartTime: now.Add(-3 * time.Hour)}))
	require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{ID: "new", State: domain.BillingActive, StartTime: now.Add(-time.Hour)}))

	n, err := s.CompleteStaleSessions(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, _ := s.FindSession(ctx, "old")
	assert.Equal(t, domain.SessionCompleted, rec.Status)
}

func TestStreamGiftsAndEnd(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	st := &domain.Stream{ID: "st1", RoomID: "room-s", ReaderID: "r", Category: "tarot"}
	require.NoError(t, s.CreateStream(ctx, st))
	assert.True(t, st.Active)

	for _, amt := range []string{"5", "2.50"} {
		require.NoError(t, s.RecordGift(ctx, domain.GiftTransfer{
			ID: amt, StreamID: "st1", GiftType: "rose", Amount: decimal.RequireFromString(amt), CreatedAt: time.Now(),
		}))
	}

	got, err := s.FindStream(ctx, "room-s")
	require.NoError(t, err)
	assert.Equal(t, 2, got.GiftCount)
	assert.Equal(t, "7.50", got.TotalGifts.StringFixed(2))

	active, _ := s.ActiveStreams(ctx, "tarot", 10, 0)
	assert.Len(t, active, 1)
	none, _ := s.ActiveStreams(ctx, "astrology", 10, 0)
	assert.Empty(t, none)

	gifts, _ := s.StreamGifts(ctx, "st1", 1, 0)
	require.Len(t, gifts, 1)
	assert.Equal(t, "2.50", gifts[0].ID, "newest first")

	sum, err := s.EndStream(ctx, "st1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Count)
	assert.Equal(t, "7.5", sum.Amount.String())

	_, err = s.EndStream(ctx, "st1")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
	active, _ = s.ActiveStreams(ctx, "", 10, 0)
	assert.Empty(t, active)
}

func TestSessionStats(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{ID: "a", State: domain.BillingActive, MinutesBilled: 2, AmountCharged: decimal.NewFromInt(8)}))
	require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{ID: "b", State: domain.BillingActive, MinutesBilled: 4, AmountCharged: decimal.NewFromInt(16)}))

	st, err := s.SessionStats(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalSessions)
	assert.Equal(t, int64(2), st.ActiveSessions)
	assert.Equal(t, "24", st.TotalRevenue.String())
	assert.Equal(t, "3", st.AvgSessionDuration.String())
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4}
	assert.Equal(t, []int{2, 3}, page(items, 2, 1))
	assert.Nil(t, page(items, 2, 10))
	assert.Equal(t, items, page(items, 0, 0))
}

func TestCloseSessionKeepsFinalStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &domain.SessionRecord{ID: "s1", Status: domain.SessionPending}))

	require.NoError(t, s.CloseSession(ctx, "s1", domain.SessionCompleted, domain.EndEndedEarly))
	require.NoError(t, s.CloseSession(ctx, "s1", domain.SessionCancelled, domain.EndBillingError))
	rec, _ := s.FindSession(ctx, "s1")
	assert.Equal(t, domain.SessionCompleted, rec.Status)
	assert.Equal(t, domain.EndEndedEarly, rec.EndReason)
	assert.False(t, rec.EndTime.IsZero())

	assert.ErrorIs(t, s.CloseSession(ctx, "nope", domain.SessionCompleted, domain.EndCompleted), domain.ErrSessionNotFound)
}

func TestEndedSessionIsCompletedForEveryReason(t *testing.T) {
	reasons := []domain.EndReason{
		domain.EndCompleted, domain.EndEndedEarly, domain.EndPaymentFailed,
		domain.EndBillingError, domain.EndCleanupTimeout,
	}
	for _, reason := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			s := NewStore()
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{
				ID: "s1", State: domain.BillingActive, StartTime: start,
			}))
			require.NoError(t, s.UpsertSession(ctx, domain.BillingSession{
				ID: "s1", State: domain.BillingEnded, EndReason: reason,
				StartTime: start, EndTime: start.Add(time.Minute),
			}))

			rec, err := s.FindSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, domain.SessionCompleted, rec.Status)
			assert.Equal(t, reason, rec.EndReason)
		})
	}
}
