package billing

import (
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/shopspring/decimal"
)

// Journal keeps recent billing events in memory for the stats surface.
// Events older than the window are pruned on append.
type Journal struct {
	mu     sync.Mutex
	window time.Duration
	events []domain.BillingEvent
}

func NewJournal(window time.Duration) *Journal {
	return &Journal{window: window}
}

func (j *Journal) Append(ev domain.BillingEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := ev.CreatedAt.Add(-j.window)
	i := 0
	for i < len(j.events) && j.events[i].CreatedAt.Before(cutoff) {
		i++
	}
	j.events = append(j.events[i:], ev)
}

// Revenue sums charges and gifts minus refunds recorded at or after since.
func (j *Journal) Revenue(since time.Time) decimal.Decimal {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := decimal.Zero
	for _, ev := range j.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		switch ev.Type {
		case domain.EventCharge, domain.EventGift:
			total = total.Add(ev.Amount)
		case domain.EventRefund:
			total = total.Sub(ev.Amount)
		}
	}
	return total
}

// Count returns how many events of type t are held.
func (j *Journal) Count(t domain.BillingEventType) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, ev := range j.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
