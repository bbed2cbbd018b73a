package billing

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Clock runs one cancellable ticker per billed session.
type Clock struct {
	period time.Duration

	mu     sync.Mutex
	timers map[domain.SessionID]context.CancelFunc
	wg     sync.WaitGroup
}

func NewClock(period time.Duration) *Clock {
	return &Clock{period: period, timers: make(map[domain.SessionID]context.CancelFunc)}
}

// Arm starts calling fn every period until Cancel(id) or parent is done.
// Arming an id twice keeps the first timer.
func (c *Clock) Arm(parent context.Context, id domain.SessionID, fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.timers[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	c.timers[id] = cancel
	c.wg.Add(1)
	go c.run(ctx, id, fn)
	log.Debug().Str("module", "billing.clock").Str("session", string(id)).Dur("period", c.period).Msg("armed")
	return true
}

func (c *Clock) run(ctx context.Context, id domain.SessionID, fn func(ctx context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Both channels may be ready; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// Cancel stops the timer for id. It does not wait for a tick already running.
func (c *Clock) Cancel(id domain.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.timers[id]
	if !ok {
		return false
	}
	cancel()
	delete(c.timers, id)
	log.Debug().Str("module", "billing.clock").Str("session", string(id)).Msg("cancelled")
	return true
}

func (c *Clock) Armed(id domain.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[id]
	return ok
}

// Stop cancels every timer and waits for running ticks to return.
func (c *Clock) Stop() {
	c.mu.Lock()
	for id, cancel := range c.timers {
		cancel()
		delete(c.timers, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
