package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Liveroom/internal/adapters/memory"
	"github.com/dkeye/Liveroom/internal/app"
	"github.com/dkeye/Liveroom/internal/billing"
	"github.com/dkeye/Liveroom/internal/core"
	"github.com/dkeye/Liveroom/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	holds     int
	charges   []billing.PaymentRequest
	transfers []billing.TransferRequest
	chargeErr error
	holdErr   error
}

func (g *fakeGateway) ref(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *fakeGateway) CreateHold(context.Context, billing.PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holdErr != nil {
		return "", g.holdErr
	}
	g.holds++
	return g.ref("pi_hold"), nil
}

func (g *fakeGateway) ChargeImmediate(_ context.Context, req billing.PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	g.charges = append(g.charges, req)
	return g.ref("pi"), nil
}

func (g *fakeGateway) Transfer(_ context.Context, req billing.TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, req)
	return g.ref("tr"), nil
}

func (g *fakeGateway) Refund(context.Context, billing.RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ref("re"), nil
}

type hook struct {
	Event string
	Data  any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []hook
}

func (n *fakeNotifier) Notify(_ context.Context, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, hook{Event: event, Data: data})
	return nil
}

func (n *fakeNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, h := range n.events {
		out = append(out, h.Event)
	}
	return out
}

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	reason string
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) CloseWithReason(_ int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed, c.reason = true, reason
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *fakeConn) messages(t *testing.T) []message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message, 0, len(c.frames))
	for _, f := range c.frames {
		var m message
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.messages(t) {
		if m.Type != typ {
			continue
		}
		var p map[string]any
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		out = append(out, p)
	}
	return out
}

type fixture struct {
	o     *Orchestrator
	store *memory.Store
	gw    *fakeGateway
	hooks *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	gw := &fakeGateway{}
	hooks := &fakeNotifier{}
	reg := app.NewRegistry(2)
	rooms := app.NewRoomManager(reg, app.DropPolicy{})
	router := app.NewRouter(reg, rooms, nil)
	engine := billing.NewEngine(billing.Config{
		TickPeriod: time.Hour,
		SessionFee: decimal.RequireFromString("0.30"),
		GiftFee:    decimal.RequireFromString("0.20"),
	}, gw, store)
	t.Cleanup(engine.Shutdown)
	return &fixture{o: New(reg, rooms, router, engine, store, hooks), store: store, gw: gw, hooks: hooks}
}

// join connects a fake client and puts it in room as uid.
func (f *fixture) join(t *testing.T, room domain.RoomID, uid domain.UserID, typ string, role domain.Role) (core.ConnectionID, *fakeConn) {
	t.Helper()
	c := &fakeConn{}
	cid := f.o.OnConnect(c)
	frame, err := json.Marshal(map[string]any{
		"type":    typ,
		"roomId":  room,
		"userId":  uid,
		"payload": map[string]any{"role": role},
	})
	require.NoError(t, err)
	f.o.OnMessage(cid, frame)
	return cid, c
}

func sessionInput() CreateSessionInput {
	return CreateSessionInput{
		ClientID: "client-1",
		ReaderID: "reader-1",
		Type:     domain.SessionVideo,
		Rate:     decimal.RequireFromString("3.99"),
	}
}

func TestCoordinator_DisconnectLeavesRoom(t *testing.T) {
	f := newFixture(t)
	cid, _ := f.join(t, "room-1", "u1", app.MsgJoinRoom, domain.RoleClient)
	_, ok := f.o.Rooms.GetRoomInfo("room-1")
	require.True(t, ok)

	f.o.OnPong(cid)
	f.o.OnDisconnect(cid)
	_, ok = f.o.Rooms.GetRoomInfo("room-1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.o.Registry.Count())
}

func TestCreateSession_WithoutPaymentStaysPending(t *testing.T) {
	f := newFixture(t)
	out, err := f.o.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)
	assert.Nil(t, out.Billing)
	assert.Equal(t, domain.SessionPending, out.Session.Status)
	assert.NotEmpty(t, out.Session.RoomID)
	assert.NotEqual(t, string(out.Session.ID), string(out.Session.RoomID))

	_, ok := f.o.BillingInfo(out.Session.ID)
	assert.False(t, ok)
	f.o.Wait()
	assert.Equal(t, []string{EventSessionStarted}, f.hooks.names())
}

func TestCreateSession_WithPaymentStartsBilling(t *testing.T) {
	f := newFixture(t)
	in := sessionInput()
	in.ClientCustomerRef, in.ReaderPayoutRef = "cus_1", "acct_1"
	out, err := f.o.CreateSession(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Billing)
	assert.Equal(t, "pi_hold_1", out.Billing.HoldRef)
	assert.Equal(t, domain.SessionActive, out.Session.Status)

	rec, err := f.store.FindSession(context.Background(), string(out.Session.RoomID))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, rec.Status)
}

func TestCreateSession_Invalid(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*CreateSessionInput){
		"no client":       func(in *CreateSessionInput) { in.ClientID = "" },
		"no reader":       func(in *CreateSessionInput) { in.ReaderID = "" },
		"bad type":        func(in *CreateSessionInput) { in.Type = "smoke" },
		"zero rate":       func(in *CreateSessionInput) { in.Rate = decimal.Zero },
		"fixed no time":   func(in *CreateSessionInput) { in.BillingMode = domain.BillingFixedDuration },
		"unknown billing": func(in *CreateSessionInput) { in.BillingMode = "barter" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := sessionInput()
			mutate(&in)
			_, err := f.o.CreateSession(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestEndSession_NotifiesPartiesThenClosesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sessionInput()
	in.ClientCustomerRef, in.ReaderPayoutRef = "cus_1", "acct_1"
	out, err := f.o.CreateSession(ctx, in)
	require.NoError(t, err)
	room := out.Session.RoomID

	_, client := f.join(t, room, "client-1", app.MsgJoinRoom, domain.RoleClient)
	_, reader := f.join(t, room, "reader-1", app.MsgJoinRoom, domain.RoleReader)

	ended, err := f.o.EndSession(ctx, string(room), "")
	require.NoError(t, err)
	assert.Equal(t, 2, ended.Closed)
	assert.Equal(t, domain.EndCompleted, ended.Billing.Reason)
	assert.Equal(t, domain.SessionCompleted, ended.Session.Status)

	for _, c := range []*fakeConn{client, reader} {
		notes := c.ofType(t, app.MsgNotification)
		require.Len(t, notes, 1)
		assert.Equal(t, "session_ended", notes[0]["type"])
		ends := c.ofType(t, app.MsgSessionEnded)
		require.Len(t, ends, 1)
		assert.Equal(t, sessionEndedReason, ends[0]["reason"])
		assert.True(t, c.closed)
		assert.Equal(t, "Session ended: session_ended", c.reason)
	}
	_, ok := f.o.Rooms.GetRoomInfo(room)
	assert.False(t, ok)
	f.o.Wait()
	assert.ElementsMatch(t, []string{EventSessionStarted, EventSessionEnded}, f.hooks.names())
}

func TestEndSession_WithoutBillingClosesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.o.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	ended, err := f.o.EndSession(ctx, string(out.Session.ID), domain.EndEndedEarly)
	require.NoError(t, err)
	assert.True(t, ended.Billing.NoActive)
	assert.Equal(t, domain.SessionCompleted, ended.Session.Status)
	assert.Equal(t, domain.EndEndedEarly, ended.Session.EndReason)

	_, err = f.o.EndSession(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.o.EndSession(ctx, string(out.Session.ID), domain.EndPaymentFailed)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartBilling_DeclineEndsRoomWithReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sessionInput()
	in.BillingMode = domain.BillingFixedDuration
	in.DurationMinutes = 30
	out, err := f.o.CreateSession(ctx, in)
	require.NoError(t, err)
	room := out.Session.RoomID
	_, client := f.join(t, room, "client-1", app.MsgJoinRoom, domain.RoleClient)

	f.gw.chargeErr = &billing.DeclineError{Code: "card_declined"}
	_, err = f.o.StartBilling(ctx, string(out.Session.ID), "cus_1", "acct_1")
	require.ErrorIs(t, err, billing.ErrPaymentDeclined)

	ends := client.ofType(t, app.MsgSessionEnded)
	require.Len(t, ends, 1)
	assert.Equal(t, string(domain.EndPaymentFailed), ends[0]["reason"])
	assert.True(t, client.closed)

	rec, err := f.store.FindSession(ctx, string(out.Session.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, rec.Status)
	assert.Equal(t, domain.EndPaymentFailed, rec.EndReason)

	_, err = f.o.StartBilling(ctx, string(out.Session.ID), "cus_1", "acct_1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartBilling_HoldFailureCancelsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.o.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	f.gw.holdErr = fmt.Errorf("gateway unavailable")
	_, err = f.o.StartBilling(ctx, string(out.Session.ID), "cus_1", "acct_1")
	require.ErrorIs(t, err, billing.ErrGateway)

	rec, err := f.store.FindSession(ctx, string(out.Session.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, rec.Status)
	assert.Equal(t, domain.EndBillingError, rec.EndReason)
}

func TestSessionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sessionInput()
	in.ClientCustomerRef, in.ReaderPayoutRef = "cus_1", "acct_1"
	out, err := f.o.CreateSession(ctx, in)
	require.NoError(t, err)
	f.join(t, out.Session.RoomID, "client-1", app.MsgJoinRoom, domain.RoleClient)

	view, err := f.o.SessionStatus(ctx, string(out.Session.ID))
	require.NoError(t, err)
	require.NotNil(t, view.Room)
	assert.Equal(t, 1, view.Room.ParticipantCount)
	require.NotNil(t, view.Billing)
	assert.Equal(t, domain.BillingActive, view.Billing.State)
}

func TestSendGift_PaidGiftAnimatesAndNotifiesReader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st, err := f.o.CreateStream(ctx, CreateStreamInput{ReaderID: "reader-1", Title: "Evening tarot"})
	require.NoError(t, err)
	assert.Equal(t, defaultCategory, st.Category)

	_, streamer := f.join(t, st.RoomID, "reader-1", app.MsgStreamJoin, domain.RoleStreamer)
	_, viewer := f.join(t, st.RoomID, "viewer-1", app.MsgStreamJoin, "")

	g, err := f.o.SendGift(ctx, GiftInput{
		StreamRef:         string(st.RoomID),
		SenderID:          "viewer-1",
		SenderName:        "Vee",
		GiftType:          "rose",
		Amount:            decimal.RequireFromString("10"),
		SenderCustomerRef: "cus_v",
		ReceiverPayoutRef: "acct_r",
	})
	require.NoError(t, err)
	assert.Equal(t, "8", g.ReceiverAmount.String())
	assert.NotEmpty(t, g.PaymentRef)
	require.Len(t, f.gw.charges, 1)
	require.Len(t, f.gw.transfers, 1)

	for _, c := range []*fakeConn{streamer, viewer} {
		anims := c.ofType(t, app.MsgGiftAnimation)
		require.Len(t, anims, 1)
		assert.Equal(t, "rose", anims[0]["giftType"])
		assert.Equal(t, "Vee", anims[0]["senderName"])
		assert.Equal(t, st.ID, anims[0]["streamId"])
	}
	notes := streamer.ofType(t, app.MsgNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, "gift_received", notes[0]["type"])
	assert.Empty(t, viewer.ofType(t, app.MsgNotification))

	view, err := f.o.StreamStatus(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.ViewerCount)
	assert.Equal(t, 1, view.Stream.GiftCount)
}

func TestSendGift_WithoutPaymentOnlyRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st, err := f.o.CreateStream(ctx, CreateStreamInput{ReaderID: "reader-1", Title: "t"})
	require.NoError(t, err)

	g, err := f.o.SendGift(ctx, GiftInput{
		StreamRef: st.ID, SenderID: "viewer-1", GiftType: "star",
		Amount: decimal.RequireFromString("2"), SenderCustomerRef: "cus_v",
	})
	require.NoError(t, err)
	assert.Empty(t, g.PaymentRef)
	assert.Empty(t, f.gw.charges)

	gifts, err := f.o.StreamGifts(ctx, string(st.RoomID), 10, 0)
	require.NoError(t, err)
	assert.Len(t, gifts, 1)
}

func TestSendGift_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gift := GiftInput{SenderID: "v", GiftType: "rose", Amount: decimal.NewFromInt(1)}

	_, err := f.o.SendGift(ctx, gift)
	assert.ErrorIs(t, err, ErrInvalidInput)

	gift.StreamRef = "nope"
	_, err = f.o.SendGift(ctx, gift)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)

	st, err := f.o.CreateStream(ctx, CreateStreamInput{ReaderID: "reader-1", Title: "t"})
	require.NoError(t, err)
	gift.StreamRef = st.ID
	gift.Amount = decimal.Zero
	_, err = f.o.SendGift(ctx, gift)
	assert.ErrorIs(t, err, billing.ErrInvalidRequest)

	_, err = f.o.EndStream(ctx, st.ID, "")
	require.NoError(t, err)
	gift.Amount = decimal.NewFromInt(1)
	_, err = f.o.SendGift(ctx, gift)
	assert.ErrorIs(t, err, ErrStreamInactive)
}

func TestEndStream_OwnerOnlyAndClosesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st, err := f.o.CreateStream(ctx, CreateStreamInput{ReaderID: "reader-1", Title: "t", Category: "astrology"})
	require.NoError(t, err)
	_, viewer := f.join(t, st.RoomID, "viewer-1", app.MsgStreamJoin, "")

	live, err := f.o.ActiveStreams(ctx, "astrology", 10, 0)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 1, live[0].ViewerCount)

	_, err = f.o.EndStream(ctx, st.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)

	ended, err := f.o.EndStream(ctx, st.ID, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, 1, ended.Closed)
	assert.False(t, ended.Stream.Active)
	assert.Equal(t, "Session ended: stream_ended", viewer.reason)

	live, err = f.o.ActiveStreams(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, live)

	_, err = f.o.EndStream(ctx, st.ID, "reader-1")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
	f.o.Wait()
	assert.Contains(t, f.hooks.names(), EventStreamEnded)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.join(t, "room-a", "u1", app.MsgJoinRoom, domain.RoleClient)
	f.join(t, "room-a", "u2", app.MsgJoinRoom, domain.RoleReader)
	f.join(t, "room-b", "u3", app.MsgJoinRoom, domain.RoleClient)

	st := f.o.Stats(context.Background())
	assert.Equal(t, 3, st.Connections)
	assert.Equal(t, 3, st.Users)
	assert.Equal(t, 2, st.RoomCount)
	assert.Len(t, st.Rooms, 2)
	assert.Equal(t, 0, st.Billing.ActiveBillingSessions)
}
