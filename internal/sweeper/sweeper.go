// Package sweeper force-ends billing sessions that stopped progressing and
// reconciles persisted rows left active after a restart.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/dkeye/Liveroom/internal/metrics"
	"github.com/mileusna/crontab"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSchedule = "*/5 * * * *"
	jobTimeout      = 2 * time.Minute
)

// Biller is the part of the billing engine the sweeper drives.
type Biller interface {
	ActiveSessions() []domain.BillingSession
	EndSession(ctx context.Context, id domain.SessionID, reason domain.EndReason) billing.EndResult
	CompleteStaleRows(ctx context.Context, maxAge time.Duration) (int64, error)
	Now() time.Time
}

type Config struct {
	Schedule      string
	StaleAfter    time.Duration
	MaxSessionAge time.Duration
}

// Result summarizes one sweep.
type Result struct {
	Ended       []domain.SessionID
	RowsClosed  int64
	StoreFailed bool
}

type Sweeper struct {
	cfg    Config
	biller Biller
	ctab   *crontab.Crontab

	mu        sync.Mutex // one sweep at a time
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(cfg Config, biller Biller) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = 2 * time.Hour
	}
	return &Sweeper{cfg: cfg, biller: biller}
}

// Start schedules Sweep on the cron expression. Only the first call has effect.
func (s *Sweeper) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		s.ctab = crontab.New()
		err = s.ctab.AddJob(s.cfg.Schedule, func() {
			jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
			defer cancel()
			s.Sweep(jobCtx)
		})
		if err != nil {
			s.ctab.Shutdown()
			err = fmt.Errorf("schedule sweeper %q: %w", s.cfg.Schedule, err)
			return
		}
		log.Info().Str("module", "sweeper").Str("schedule", s.cfg.Schedule).
			Dur("stale_after", s.cfg.StaleAfter).Msg("stale-session sweeper scheduled")
	})
	return err
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.ctab != nil {
			s.ctab.Shutdown()
		}
		// wait for a running sweep
		s.mu.Lock()
		defer s.mu.Unlock()
		log.Info().Str("module", "sweeper").Msg("sweeper stopped")
	})
}

// Sweep ends every ledger session whose progress mark is older than
// StaleAfter, then marks persisted rows older than MaxSessionAge completed.
// Each session is ended under its own lock; the sweep holds none of them.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var res Result
	now := s.biller.Now()
	for _, bs := range s.biller.ActiveSessions() {
		if !s.stale(bs, now) {
			continue
		}
		log.Warn().Str("module", "sweeper").Str("session", string(bs.ID)).
			Time("last_tick", bs.LastTickTime).Msg("stale billing session")
		out := s.biller.EndSession(ctx, bs.ID, domain.EndCleanupTimeout)
		if !out.NoActive {
			res.Ended = append(res.Ended, bs.ID)
		}
	}

	n, err := s.biller.CompleteStaleRows(ctx, s.cfg.MaxSessionAge)
	if err != nil {
		res.StoreFailed = true
		log.Error().Err(err).Str("module", "sweeper").Msg("reconcile stale rows")
	}
	res.RowsClosed = n

	result := "ok"
	if res.StoreFailed {
		result = "store_error"
	}
	metrics.SweeperRuns.WithLabelValues(result).Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	log.Info().Str("module", "sweeper").Int("ended", len(res.Ended)).Int64("rows", n).Msg("sweep finished")
	return res
}

// stale reports whether bs stopped progressing. A fixed-duration session
// never ticks, so it is measured from its scheduled end.
func (s *Sweeper) stale(bs domain.BillingSession, now time.Time) bool {
	if bs.State != domain.BillingActive {
		return false
	}
	mark := bs.LastTickTime
	if bs.Mode == domain.BillingFixedDuration {
		if end := bs.StartTime.Add(time.Duration(bs.DurationMinutes) * time.Minute); end.After(mark) {
			mark = end
		}
	}
	return now.Sub(mark) > s.cfg.StaleAfter
}
