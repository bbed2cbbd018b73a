package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	holds     []PaymentRequest
	charges   []PaymentRequest
	transfers []TransferRequest
	refunds   []RefundRequest

	holdErr   error
	chargeErr error
	refundErr error
}

func (g *fakeGateway) ref(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *fakeGateway) CreateHold(_ context.Context, req PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holdErr != nil {
		return "", g.holdErr
	}
	g.holds = append(g.holds, req)
	return g.ref("pi_hold"), nil
}

func (g *fakeGateway) ChargeImmediate(_ context.Context, req PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	g.charges = append(g.charges, req)
	return g.ref("pi"), nil
}

func (g *fakeGateway) Transfer(_ context.Context, req TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, req)
	return g.ref("tr"), nil
}

func (g *fakeGateway) Refund(_ context.Context, req RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return g.ref("re"), nil
}

func (g *fakeGateway) setChargeErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeErr = err
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.BillingSession
	upserts  int
	events   []domain.BillingEvent
	gifts    []domain.GiftTransfer
	cutoff   time.Time
	stale    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[domain.SessionID]domain.BillingSession)}
}

func (s *fakeStore) UpsertSession(_ context.Context, bs domain.BillingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[bs.ID] = bs
	s.upserts++
	return nil
}

func (s *fakeStore) AppendEvent(_ context.Context, ev domain.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) RecordGift(_ context.Context, g domain.GiftTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gifts = append(s.gifts, g)
	return nil
}

func (s *fakeStore) CompleteStaleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoff = cutoff
	return s.stale, nil
}

func (s *fakeStore) SessionStats(context.Context, time.Time) (SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{TotalSessions: int64(len(s.sessions))}, nil
}

func (s *fakeStore) session(id domain.SessionID) domain.BillingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *fakeStore) eventsOf(t domain.BillingEventType) []domain.BillingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BillingEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// manualClock is a settable time source.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
