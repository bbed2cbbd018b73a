package billing

import (
	"context"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentRequest moves Amount from the customer identified by CustomerRef.
type PaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	CustomerRef string
	Metadata    map[string]string
}

type TransferRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Destination string
	Metadata    map[string]string
}

type RefundRequest struct {
	PaymentRef string
	Amount     decimal.Decimal
	Metadata   map[string]string
}

// Gateway is the payment provider. ChargeImmediate may fail with a
// *DeclineError; any other error is treated as a gateway failure.
type Gateway interface {
	CreateHold(ctx context.Context, req PaymentRequest) (string, error)
	ChargeImmediate(ctx context.Context, req PaymentRequest) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

// SessionStats aggregates persisted sessions created in a time window.
type SessionStats struct {
	TotalSessions      int64           `json:"total_sessions"`
	TotalRevenue       decimal.Decimal `json:"total_revenue"`
	AvgSessionDuration decimal.Decimal `json:"avg_session_duration"`
	ActiveSessions     int64           `json:"active_sessions"`
}

// Store persists billing state. Failures are logged by the engine and never
// abort a billing operation.
type Store interface {
	UpsertSession(ctx context.Context, s domain.BillingSession) error
	AppendEvent(ctx context.Context, ev domain.BillingEvent) error
	RecordGift(ctx context.Context, g domain.GiftTransfer) error
	// CompleteStaleSessions marks rows still active that started before cutoff as completed.
	CompleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	SessionStats(ctx context.Context, since time.Time) (SessionStats, error)
}

// NopStore is used when no database is configured.
type NopStore struct{}

func (NopStore) UpsertSession(context.Context, domain.BillingSession) error { return nil }
func (NopStore) AppendEvent(context.Context, domain.BillingEvent) error     { return nil }
func (NopStore) RecordGift(context.Context, domain.GiftTransfer) error      { return nil }
func (NopStore) CompleteStaleSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (NopStore) SessionStats(context.Context, time.Time) (SessionStats, error) {
	return SessionStats{}, nil
}
