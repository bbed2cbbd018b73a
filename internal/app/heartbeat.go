package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/metrics"
	"github.com/rs/zerolog/log"
)

// HeartbeatMonitor probes every connection on a fixed interval and reaps
// the ones that stopped answering.
type HeartbeatMonitor struct {
	reg       *Registry
	interval  time.Duration
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewHeartbeatMonitor(reg *Registry, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		reg:      reg,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the probe loop in background. Only the first call has effect.
func (h *HeartbeatMonitor) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.run(ctx)
		log.Info().Str("module", "app.heartbeat").Dur("interval", h.interval).Msg("heartbeat started")
	})
}

// Stop shuts the loop down and waits for an in-flight round.
func (h *HeartbeatMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		log.Info().Str("module", "app.heartbeat").Msg("heartbeat stopped")
	})
}

func (h *HeartbeatMonitor) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.Beat()
		}
	}
}

// Beat runs one probe round: connections over the miss limit are
// unregistered and closed, the rest are pinged. Returns the reaped count.
func (h *HeartbeatMonitor) Beat() int {
	reaped := 0
	for _, cid := range h.reg.SweepDead() {
		conn, ok := h.reg.Get(cid)
		if !h.reg.Unregister(cid) {
			continue
		}
		reaped++
		metrics.HeartbeatExpired.Inc()
		log.Info().Str("module", "app.heartbeat").Str("conn", string(cid)).Msg("terminating dead connection")
		if ok {
			conn.Close()
		}
	}
	sent := h.reg.Probe()
	log.Debug().Str("module", "app.heartbeat").Int("reaped", reaped).Int("probed", sent).Msg("heartbeat round")
	return reaped
}
