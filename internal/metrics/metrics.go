// Package metrics provides Prometheus metrics for the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// Connections tracks live signaling connections.
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveroom_connections",
			Help: "Number of live signaling connections",
		},
	)

	// Rooms tracks rooms with at least one participant.
	Rooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveroom_rooms",
			Help: "Number of active rooms",
		},
	)

	// SignalMessages counts inbound signaling messages by kind.
	SignalMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_signal_messages_total",
			Help: "Total number of inbound signaling messages",
		},
		[]string{"type"},
	)

	// DroppedFrames counts frames not delivered because of back-pressure or a closed peer.
	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveroom_dropped_frames_total",
			Help: "Total number of outbound frames dropped",
		},
	)

	// HeartbeatExpired counts connections reaped by the liveness probe.
	HeartbeatExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveroom_heartbeat_expired_total",
			Help: "Total number of connections terminated for missed probes",
		},
	)

	// ActiveBillingSessions tracks sessions held in the billing ledger.
	ActiveBillingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveroom_billing_active_sessions",
			Help: "Number of billing sessions currently in the ledger",
		},
	)

	// BillingAmountCents sums money moved, by event kind.
	BillingAmountCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_billing_amount_cents_total",
			Help: "Total amount moved through the payment gateway in cents",
		},
		[]string{"kind"},
	)

	// SessionsEnded counts billing session terminations by reason.
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_billing_sessions_ended_total",
			Help: "Total number of ended billing sessions",
		},
		[]string{"reason"},
	)

	// SweeperRuns counts stale-session sweeps by outcome.
	SweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_sweeper_runs_total",
			Help: "Total number of stale-session sweeps",
		},
		[]string{"result"},
	)

	// HTTPRequests counts REST requests by route and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveroom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks REST request latency by route.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveroom_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// SweepDuration tracks how long a stale-session sweep takes.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liveroom_sweeper_duration_seconds",
			Help:    "Duration of stale-session sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordAmount adds a money amount to the kind counter.
func RecordAmount(kind string, amount decimal.Decimal) {
	cents, _ := amount.Shift(2).Round(0).Float64()
	if cents <= 0 {
		return
	}
	BillingAmountCents.WithLabelValues(kind).Add(cents)
}

// RecordSessionStarted increments the active ledger gauge.
func RecordSessionStarted() {
	ActiveBillingSessions.Inc()
}

// RecordSessionEnded records a ledger removal.
func RecordSessionEnded(reason string) {
	SessionsEnded.WithLabelValues(reason).Inc()
	ActiveBillingSessions.Dec()
}
