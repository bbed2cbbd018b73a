// Package billing meters live sessions and one-shot gifts against a payment
// gateway. Each session moves pending -> active -> ended; all mutations of a
// session are serialized on its ledger entry.
package billing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/dkeye/Liveroom/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Config struct {
	TickPeriod time.Duration
	Currency   string
	SessionFee decimal.Decimal
	GiftFee    decimal.Decimal
}

type StartRequest struct {
	SessionID        domain.SessionID
	RoomID           domain.RoomID
	PayerID          domain.UserID
	PayeeID          domain.UserID
	PayerCustomerRef string
	PayeePayoutRef   string
	Mode             domain.BillingMode
	Rate             decimal.Decimal
	DurationMinutes  int
}

func (r StartRequest) validate() error {
	switch {
	case r.SessionID == "":
		return invalid("sessionId is required")
	case r.PayerID == "":
		return invalid("payer is required")
	case r.PayerCustomerRef == "":
		return invalid("payer customer reference is required")
	case !r.Rate.IsPositive():
		return invalid("rate must be greater than 0")
	}
	switch r.Mode {
	case domain.BillingPerMinute:
	case domain.BillingFixedDuration:
		if r.DurationMinutes <= 0 {
			return invalid("duration is required for fixed_duration billing")
		}
	default:
		return invalid("unknown billing type " + string(r.Mode))
	}
	return nil
}

type StartResult struct {
	SessionID domain.SessionID   `json:"sessionId"`
	Mode      domain.BillingMode `json:"billingType"`
	HoldRef   string             `json:"paymentIntentId,omitempty"`
	ChargeRef string             `json:"chargeId,omitempty"`
	Charged   decimal.Decimal    `json:"charged"`
}

type EndResult struct {
	SessionID     domain.SessionID `json:"sessionId"`
	Reason        domain.EndReason `json:"reason"`
	ActualMinutes decimal.Decimal  `json:"totalMinutes"`
	MinutesBilled int              `json:"minutesBilled"`
	TotalCharged  decimal.Decimal  `json:"totalCharged"`
	Refunded      decimal.Decimal  `json:"refunded"`
	// NoActive is set when there was nothing to end.
	NoActive bool `json:"noActiveBilling,omitempty"`
}

type GiftRequest struct {
	StreamID          string
	RoomID            domain.RoomID
	SenderID          domain.UserID
	ReceiverID        domain.UserID
	GiftType          string
	Amount            decimal.Decimal
	Message           string
	SenderCustomerRef string
	ReceiverPayoutRef string
}

func (r GiftRequest) validate() error {
	switch {
	case r.StreamID == "":
		return invalid("streamId is required")
	case r.SenderID == "" || r.ReceiverID == "":
		return invalid("sender and receiver are required")
	case r.GiftType == "":
		return invalid("giftType is required")
	case !r.Amount.IsPositive():
		return invalid("amount must be greater than 0")
	}
	return nil
}

type Stats struct {
	ActiveBillingSessions int             `json:"activeBillingSessions"`
	Revenue24h            decimal.Decimal `json:"revenue24h"`
	Last24Hours           *SessionStats   `json:"last24Hours"`
}

// EndedFunc observes every session that reaches the ended state.
type EndedFunc func(s domain.BillingSession, res EndResult)

type ended struct {
	s   domain.BillingSession
	res EndResult
}

type Engine struct {
	cfg     Config
	gateway Gateway
	store   Store
	ledger  *Ledger
	clock   *Clock
	journal *Journal
	now     func() time.Time
	base    context.Context
	cancel  context.CancelFunc

	hookMu  sync.RWMutex
	onEnded EndedFunc
}

func NewEngine(cfg Config, gateway Gateway, store Store) *Engine {
	if store == nil {
		store = NopStore{}
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		ledger:  NewLedger(),
		clock:   NewClock(cfg.TickPeriod),
		journal: NewJournal(24 * time.Hour),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
	}
}

func (e *Engine) OnEnded(fn EndedFunc) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onEnded = fn
}

func (e *Engine) fireEnded(out ended) {
	e.hookMu.RLock()
	fn := e.onEnded
	e.hookMu.RUnlock()
	if fn != nil {
		fn(out.s, out.res)
	}
}

// StartSession activates billing. Per-minute sessions place a one-minute
// hold and arm the clock; fixed-duration sessions are charged in full now.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (StartResult, error) {
	if err := req.validate(); err != nil {
		return StartResult{}, err
	}
	en, ok := e.ledger.reserve(domain.BillingSession{
		ID:               req.SessionID,
		RoomID:           req.RoomID,
		PayerID:          req.PayerID,
		PayeeID:          req.PayeeID,
		PayerCustomerRef: req.PayerCustomerRef,
		PayeePayoutRef:   req.PayeePayoutRef,
		Mode:             req.Mode,
		Rate:             req.Rate,
		DurationMinutes:  req.DurationMinutes,
		State:            domain.BillingPending,
		AmountCharged:    decimal.Zero,
	})
	if !ok {
		return StartResult{}, ErrSessionExists
	}
	s := &en.s
	logger := log.With().Str("module", "billing").Str("session", string(s.ID)).Logger()
	logger.Info().Str("mode", string(s.Mode)).Str("rate", s.Rate.StringFixed(2)).Msg("starting billing")

	res := StartResult{SessionID: s.ID, Mode: s.Mode, Charged: decimal.Zero}
	if s.Mode == domain.BillingPerMinute {
		hold, err := e.gateway.CreateHold(ctx, PaymentRequest{
			Amount:      s.Rate,
			Currency:    e.cfg.Currency,
			CustomerRef: s.PayerCustomerRef,
			Metadata: map[string]string{
				"sessionId": string(s.ID),
				"payeeId":   string(s.PayeeID),
				"type":      "reading_session_hold",
			},
		})
		if err != nil {
			en.ended = true
			en.mu.Unlock()
			e.ledger.remove(s.ID, en)
			logger.Error().Err(err).Msg("hold failed")
			return StartResult{}, gatewayErr("create hold", err)
		}
		s.HoldRef = hold
		res.HoldRef = hold
	}

	now := e.now()
	s.State = domain.BillingActive
	s.StartTime = now
	s.LastTickTime = now
	metrics.RecordSessionStarted()

	if s.Mode == domain.BillingFixedDuration {
		total := s.Rate.Mul(decimal.NewFromInt(int64(s.DurationMinutes)))
		ref, err := e.chargeLocked(ctx, en, total, map[string]string{
			"type":     "fixed_duration_payment",
			"duration": strconv.Itoa(s.DurationMinutes),
		})
		if err != nil {
			reason := domain.EndBillingError
			if IsDecline(err) {
				reason = domain.EndPaymentFailed
			}
			out := e.endLocked(ctx, en, reason)
			en.mu.Unlock()
			e.fireEnded(out)
			return StartResult{}, err
		}
		s.ChargeRef = ref
		s.AmountCharged = total
		res.ChargeRef = ref
		res.Charged = total
	}

	e.persist(ctx, *s)
	if s.Mode == domain.BillingPerMinute {
		id := s.ID
		e.clock.Arm(e.base, id, func(ctx context.Context) { e.scheduledTick(ctx, id) })
	}
	en.mu.Unlock()
	return res, nil
}

func (e *Engine) scheduledTick(ctx context.Context, id domain.SessionID) {
	err := e.Tick(ctx, id)
	if err == nil || IsDecline(err) {
		return
	}
	log.Error().Err(err).Str("module", "billing").Str("session", string(id)).Msg("tick failed, ending session")
	e.EndSession(context.WithoutCancel(ctx), id, domain.EndBillingError)
}

// Tick charges every whole period elapsed since start that is not billed
// yet, one period per charge. A tick with nothing new to bill is a no-op.
// A hard decline ends the session with payment_failed; any other gateway
// failure is returned and the session is left as is.
func (e *Engine) Tick(ctx context.Context, id domain.SessionID) error {
	en, ok := e.ledger.get(id)
	if !ok {
		return nil
	}
	en.mu.Lock()
	out, err := e.tickLocked(ctx, en)
	en.mu.Unlock()
	if out != nil {
		e.fireEnded(*out)
	}
	return err
}

func (e *Engine) tickLocked(ctx context.Context, en *entry) (*ended, error) {
	s := &en.s
	if en.ended || s.State != domain.BillingActive || s.Mode != domain.BillingPerMinute {
		return nil, nil
	}
	now := e.now()
	elapsed := int(now.Sub(s.StartTime) / e.cfg.TickPeriod)
	for s.MinutesBilled < elapsed {
		minute := s.MinutesBilled + 1
		_, err := e.chargeLocked(ctx, en, s.Rate, map[string]string{
			"type":   "per_minute_charge",
			"minute": strconv.Itoa(minute),
		})
		if err != nil {
			if IsDecline(err) {
				log.Warn().Err(err).Str("module", "billing").Str("session", string(s.ID)).Int("minute", minute).Msg("payment declined, ending session")
				out := e.endLocked(ctx, en, domain.EndPaymentFailed)
				return &out, err
			}
			return nil, err
		}
		s.MinutesBilled = minute
		s.AmountCharged = s.AmountCharged.Add(s.Rate)
		s.LastTickTime = now
		e.persist(ctx, *s)
		log.Info().Str("module", "billing").Str("session", string(s.ID)).Int("minute", minute).Str("amount", s.Rate.StringFixed(2)).Msg("charged minute")
	}
	return nil, nil
}

// chargeLocked charges the payer and forwards the payee share when a payout
// destination is set. A failed transfer is logged; the charge stands.
func (e *Engine) chargeLocked(ctx context.Context, en *entry, amount decimal.Decimal, meta map[string]string) (string, error) {
	s := &en.s
	meta["sessionId"] = string(s.ID)
	meta["payeeId"] = string(s.PayeeID)
	ref, err := e.gateway.ChargeImmediate(ctx, PaymentRequest{
		Amount:      amount,
		Currency:    e.cfg.Currency,
		CustomerRef: s.PayerCustomerRef,
		Metadata:    meta,
	})
	if err != nil {
		return "", gatewayErr("charge", err)
	}
	split := SplitAmount(amount, e.cfg.SessionFee)
	e.transfer(ctx, split.Payee, s.PayeePayoutRef, s.ID, "", map[string]string{
		"sessionId": string(s.ID),
		"type":      "reading_payment",
	})
	evMeta := map[string]any{
		"payeeAmount": split.Payee.StringFixed(2),
		"platformFee": split.Platform.StringFixed(2),
	}
	for k, v := range meta {
		evMeta[k] = v
	}
	e.record(ctx, domain.BillingEvent{
		SessionID:  s.ID,
		Type:       domain.EventCharge,
		Amount:     amount,
		PaymentRef: ref,
		Status:     "completed",
		Metadata:   evMeta,
	})
	metrics.RecordAmount("charge", amount)
	return ref, nil
}

func (e *Engine) transfer(ctx context.Context, amount decimal.Decimal, dest string, sid domain.SessionID, streamID string, meta map[string]string) {
	if dest == "" || !amount.IsPositive() {
		return
	}
	ref, err := e.gateway.Transfer(ctx, TransferRequest{
		Amount:      amount,
		Currency:    e.cfg.Currency,
		Destination: dest,
		Metadata:    meta,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "billing").Str("session", string(sid)).Str("stream", streamID).Msg("payee transfer failed")
		return
	}
	e.record(ctx, domain.BillingEvent{
		SessionID:  sid,
		StreamID:   streamID,
		Type:       domain.EventTransfer,
		Amount:     amount,
		PaymentRef: ref,
		Status:     "completed",
		Metadata:   map[string]any{"destination": dest},
	})
}

// EndSession stops billing for id. Ending an unknown or already ended
// session is a no-op that reports NoActive.
func (e *Engine) EndSession(ctx context.Context, id domain.SessionID, reason domain.EndReason) EndResult {
	en, ok := e.ledger.get(id)
	if !ok {
		e.clock.Cancel(id)
		log.Debug().Str("module", "billing").Str("session", string(id)).Msg("no active billing")
		return EndResult{SessionID: id, Reason: reason, NoActive: true}
	}
	en.mu.Lock()
	if en.ended {
		en.mu.Unlock()
		return EndResult{SessionID: id, Reason: reason, NoActive: true}
	}
	out := e.endLocked(ctx, en, reason)
	en.mu.Unlock()
	e.fireEnded(out)
	return out.res
}

func (e *Engine) endLocked(ctx context.Context, en *entry, reason domain.EndReason) ended {
	// The clock's context is cancelled below; the rest must still reach the store.
	ctx = context.WithoutCancel(ctx)
	s := &en.s
	e.clock.Cancel(s.ID)
	en.ended = true

	now := e.now()
	actual := decimal.Zero
	if !s.StartTime.IsZero() {
		actual = decimal.NewFromFloat(now.Sub(s.StartTime).Minutes()).Round(2)
	}
	s.State = domain.BillingEnded
	s.EndTime = now
	s.EndReason = reason

	res := EndResult{
		SessionID:     s.ID,
		Reason:        reason,
		ActualMinutes: actual,
		MinutesBilled: s.MinutesBilled,
		TotalCharged:  s.AmountCharged,
		Refunded:      decimal.Zero,
	}
	e.persist(ctx, *s)
	if s.Mode == domain.BillingFixedDuration && reason == domain.EndEndedEarly {
		res.Refunded = e.refundLocked(ctx, en, actual)
	}
	e.ledger.remove(s.ID, en)
	metrics.RecordSessionEnded(string(reason))
	log.Info().Str("module", "billing").Str("session", string(s.ID)).Str("reason", string(reason)).
		Str("minutes", actual.String()).Str("charged", s.AmountCharged.StringFixed(2)).Msg("billing ended")
	return ended{s: *s, res: res}
}

// refundLocked returns rate * unused minutes against the original charge.
// Failures are logged and the session stays ended.
func (e *Engine) refundLocked(ctx context.Context, en *entry, actual decimal.Decimal) decimal.Decimal {
	s := &en.s
	unused := decimal.NewFromInt(int64(s.DurationMinutes)).Sub(actual)
	if !unused.IsPositive() || s.ChargeRef == "" {
		return decimal.Zero
	}
	amount := s.Rate.Mul(unused).Round(2)
	if amount.GreaterThan(s.AmountCharged) {
		amount = s.AmountCharged
	}
	ref, err := e.gateway.Refund(ctx, RefundRequest{
		PaymentRef: s.ChargeRef,
		Amount:     amount,
		Metadata: map[string]string{
			"sessionId":     string(s.ID),
			"type":          "early_end_refund",
			"unusedMinutes": unused.String(),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "billing").Str("session", string(s.ID)).Msg("early end refund failed")
		return decimal.Zero
	}
	e.record(ctx, domain.BillingEvent{
		SessionID:  s.ID,
		Type:       domain.EventRefund,
		Amount:     amount,
		PaymentRef: ref,
		Status:     "completed",
		Metadata:   map[string]any{"unusedMinutes": unused.String(), "reason": "early_end"},
	})
	metrics.RecordAmount("refund", amount)
	log.Info().Str("module", "billing").Str("session", string(s.ID)).Str("amount", amount.StringFixed(2)).Msg("refunded unused minutes")
	return amount
}

// ProcessGift charges the sender, pays the receiver their share when a
// payout destination is set, and records the transfer.
func (e *Engine) ProcessGift(ctx context.Context, req GiftRequest) (domain.GiftTransfer, error) {
	if err := req.validate(); err != nil {
		return domain.GiftTransfer{}, err
	}
	if req.SenderCustomerRef == "" {
		return domain.GiftTransfer{}, invalid("sender customer reference is required")
	}
	g := e.newGift(req)
	ref, err := e.gateway.ChargeImmediate(ctx, PaymentRequest{
		Amount:      req.Amount,
		Currency:    e.cfg.Currency,
		CustomerRef: req.SenderCustomerRef,
		Metadata: map[string]string{
			"streamId":   req.StreamID,
			"senderId":   string(req.SenderID),
			"receiverId": string(req.ReceiverID),
			"giftType":   req.GiftType,
			"type":       "stream_gift",
		},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "billing").Str("stream", req.StreamID).Msg("gift charge failed")
		return domain.GiftTransfer{}, gatewayErr("gift charge", err)
	}
	g.PaymentRef = ref
	e.transfer(ctx, g.ReceiverAmount, req.ReceiverPayoutRef, "", req.StreamID, map[string]string{
		"streamId": req.StreamID,
		"senderId": string(req.SenderID),
		"giftType": req.GiftType,
		"type":     "gift_payment",
	})
	e.saveGift(ctx, g)
	e.record(ctx, domain.BillingEvent{
		StreamID:   req.StreamID,
		Type:       domain.EventGift,
		Amount:     g.Amount,
		PaymentRef: ref,
		Status:     "completed",
		Metadata: map[string]any{
			"giftType":       g.GiftType,
			"receiverAmount": g.ReceiverAmount.StringFixed(2),
			"platformFee":    g.PlatformFee.StringFixed(2),
		},
	})
	metrics.RecordAmount("gift", g.Amount)
	log.Info().Str("module", "billing").Str("stream", req.StreamID).Str("gift", g.GiftType).
		Str("amount", g.Amount.StringFixed(2)).Str("receiver_amount", g.ReceiverAmount.StringFixed(2)).Msg("gift processed")
	return g, nil
}

// RecordGift stores a gift that carries no payment details. Nothing is charged.
func (e *Engine) RecordGift(ctx context.Context, req GiftRequest) (domain.GiftTransfer, error) {
	if err := req.validate(); err != nil {
		return domain.GiftTransfer{}, err
	}
	g := e.newGift(req)
	e.saveGift(ctx, g)
	log.Info().Str("module", "billing").Str("stream", req.StreamID).Str("gift", g.GiftType).Msg("gift recorded without payment")
	return g, nil
}

func (e *Engine) newGift(req GiftRequest) domain.GiftTransfer {
	split := SplitAmount(req.Amount, e.cfg.GiftFee)
	return domain.GiftTransfer{
		ID:             uuid.NewString(),
		StreamID:       req.StreamID,
		RoomID:         req.RoomID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		GiftType:       req.GiftType,
		Amount:         req.Amount,
		ReceiverAmount: split.Payee,
		PlatformFee:    split.Platform,
		Message:        req.Message,
		CreatedAt:      e.now(),
	}
}

func (e *Engine) saveGift(ctx context.Context, g domain.GiftTransfer) {
	if err := e.store.RecordGift(ctx, g); err != nil {
		log.Error().Err(err).Str("module", "billing").Str("stream", g.StreamID).Msg("persist gift")
	}
}

func (e *Engine) record(ctx context.Context, ev domain.BillingEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now()
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("module", "billing").Str("session", string(ev.SessionID)).Str("event", string(ev.Type)).Msg("persist billing event")
	}
	e.journal.Append(ev)
}

func (e *Engine) persist(ctx context.Context, s domain.BillingSession) {
	if err := e.store.UpsertSession(ctx, s); err != nil {
		log.Error().Err(err).Str("module", "billing").Str("session", string(s.ID)).Msg("persist billing session")
	}
}

// GetBillingInfo returns a copy of the live session state.
func (e *Engine) GetBillingInfo(id domain.SessionID) (domain.BillingSession, bool) {
	return e.ledger.Get(id)
}

// ActiveSessions copies every session still in the ledger.
func (e *Engine) ActiveSessions() []domain.BillingSession {
	return e.ledger.List()
}

// CompleteStaleRows reconciles persisted rows left active past maxAge.
func (e *Engine) CompleteStaleRows(ctx context.Context, maxAge time.Duration) (int64, error) {
	return e.store.CompleteStaleSessions(ctx, e.now().Add(-maxAge))
}

func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) Stats(ctx context.Context) Stats {
	since := e.now().Add(-24 * time.Hour)
	st := Stats{
		ActiveBillingSessions: e.ledger.Len(),
		Revenue24h:            e.journal.Revenue(since),
	}
	agg, err := e.store.SessionStats(ctx, since)
	if err != nil {
		log.Warn().Err(err).Str("module", "billing").Msg("session stats")
		return st
	}
	st.Last24Hours = &agg
	return st
}

// Shutdown stops every session clock and waits for running ticks.
func (e *Engine) Shutdown() {
	e.cancel()
	e.clock.Stop()
	log.Info().Str("module", "billing").Msg("billing clocks stopped")
}
