package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/generate"
	"github.com/go-go-golems/voxchat/pkg/kvstore"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/scheduler"
	"github.com/go-go-golems/voxchat/pkg/transport"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

type fakeRealtime struct {
	mu      sync.Mutex
	ready   bool
	sendErr error
	sent    []string
}

func (f *fakeRealtime) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeRealtime) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	queries []generate.Request
	// before runs inside Generate, used to mutate the store mid-request.
	before func()
}

func (f *fakeGenerator) Generate(_ context.Context, query string, userID int) (string, error) {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, generate.Request{Query: query, UserID: userID})
	return f.reply, f.err
}

type staticID int

func (s staticID) UserID() int { return int(s) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store   *chatstore.Store
	gate    *quota.Gate
	rt      *fakeRealtime
	gen     *fakeGenerator
	sched   *scheduler.Fake
	clock   *clock
	coord   *Coordinator
	frames  []render.Frame
	exceeds int
}

func newHarness(t *testing.T, premium bool) *harness {
	t.Helper()
	ctx := context.Background()
	kv := kvstore.NewMemory()
	h := &harness{
		rt:    &fakeRealtime{},
		gen:   &fakeGenerator{reply: "pong"},
		sched: scheduler.NewFake(time.Unix(0, 0)),
		clock: &clock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.Local)},
	}
	var err error
	h.store, err = chatstore.Open(ctx, kv)
	require.NoError(t, err)
	h.gate, err = quota.NewGate(ctx, kv, quota.EntitlementFunc(func() bool { return premium }), quota.WithClock(h.clock.Now))
	require.NoError(t, err)
	player := render.NewPlayer(func(f render.Frame) { h.frames = append(h.frames, f) },
		render.WithScheduler(h.sched), render.WithRandom(func() float64 { return 0.5 }))
	h.coord, err = New(Deps{
		Store:     h.store,
		Gate:      h.gate,
		Realtime:  h.rt,
		Generator: h.gen,
		Identity:  staticID(7),
		Renderer:  player,
		Observer:  ui.Funcs{QuotaExceeded: func(quota.Status) { h.exceeds++ }},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) finals() []render.Frame {
	h.sched.RunAll(10000)
	var out []render.Frame
	for _, f := range h.frames {
		if f.Final {
			out = append(out, f)
		}
	}
	return out
}

func TestSubmit_EmptyIsRejected(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.coord.Submit(context.Background(), "   \n")
	require.ErrorIs(t, err, ErrEmptyMessage)
	cur, _ := h.store.Current()
	require.Empty(t, cur.Messages)
	require.Equal(t, 0, h.gate.Counter().Count)
}

func TestSubmit_HTTPFallbackWhenNotReady(t *testing.T) {
	h := newHarness(t, false)
	res, err := h.coord.Submit(context.Background(), "  ping  ")
	require.NoError(t, err)
	require.Equal(t, PathHTTP, res.Path)
	require.Equal(t, "ping", res.UserMessage.Content)
	require.Equal(t, quota.DefaultDailyLimit-1, res.Remaining)
	require.NoError(t, res.DeliveryErr)
	require.Equal(t, []generate.Request{{Query: "ping", UserID: 7}}, h.gen.queries)

	conv, err := h.store.Get(res.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, chatstore.RoleUser, conv.Messages[0].Role)
	require.Equal(t, chatstore.RoleAssistant, conv.Messages[1].Role)
	require.Equal(t, "pong", conv.Messages[1].Content)
	require.Equal(t, "ping", conv.Title)

	fs := h.finals()
	require.Len(t, fs, 2)
	require.Equal(t, "ping", fs[0].Text)
	require.Equal(t, "pong", fs[1].Text)
}

func TestSubmit_RealtimeWhenReady(t *testing.T) {
	h := newHarness(t, false)
	h.rt.ready = true
	res, err := h.coord.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, PathRealtime, res.Path)
	require.Equal(t, []string{"hello"}, h.rt.sent)
	require.Empty(t, h.gen.queries)

	h.coord.OnInboundAssistantMessage("hi back")
	cur, _ := h.store.Current()
	require.Len(t, cur.Messages, 2)
	require.Equal(t, "hi back", cur.Messages[1].Content)

	for _, d := range h.sched.Scheduled() {
		require.Equal(t, render.InboundDelay, d)
	}
}

func TestSubmit_RealtimeSendErrorUsesFallbackReply(t *testing.T) {
	h := newHarness(t, false)
	h.rt.ready = true
	h.rt.sendErr = errors.New("broken pipe")
	res, err := h.coord.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.Error(t, res.DeliveryErr)
	require.Equal(t, FallbackReply, res.Reply.Content)
	require.Empty(t, h.gen.queries)
}

func TestSubmit_NotReadyRaceFallsBackToHTTP(t *testing.T) {
	h := newHarness(t, false)
	h.rt.ready = true
	h.rt.sendErr = transport.ErrNotReady
	res, err := h.coord.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, PathHTTP, res.Path)
	require.Equal(t, "pong", res.Reply.Content)
}

func TestSubmit_HTTPFailureAppendsFallbackWithoutRollback(t *testing.T) {
	h := newHarness(t, false)
	h.gen.err = errors.Wrap(generate.ErrDelivery, "status 500")
	res, err := h.coord.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.ErrorIs(t, res.DeliveryErr, generate.ErrDelivery)

	cur, _ := h.store.Current()
	require.Len(t, cur.Messages, 2)
	require.Equal(t, FallbackReply, cur.Messages[1].Content)
	require.Equal(t, 1, h.gate.Counter().Count)

	for _, d := range h.sched.Scheduled() {
		require.Equal(t, render.ErrorDelay, d)
	}
	fs := h.finals()
	require.Equal(t, FallbackReply, fs[len(fs)-1].Text)
}

func TestSubmit_QuotaLimitAndRollover(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	for i := 0; i < quota.DefaultDailyLimit; i++ {
		_, err := h.coord.Submit(ctx, "msg")
		require.NoError(t, err)
	}
	before, _ := h.store.Current()

	res, err := h.coord.Submit(ctx, "one too many")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, 0, res.Remaining)
	require.Equal(t, 1, h.exceeds)
	after, _ := h.store.Current()
	require.Equal(t, len(before.Messages), len(after.Messages))

	h.clock.Add(24 * time.Hour)
	_, err = h.coord.Submit(ctx, "new day")
	require.NoError(t, err)
}

func TestSubmit_PremiumIsNotLimited(t *testing.T) {
	h := newHarness(t, true)
	for i := 0; i < quota.DefaultDailyLimit+3; i++ {
		res, err := h.coord.Submit(context.Background(), "msg")
		require.NoError(t, err)
		require.Equal(t, -1, res.Remaining)
	}
}

func TestSubmit_ReplyGoesToCurrentWhenOriginDeleted(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	origin := h.store.CurrentID()
	h.gen.before = func() {
		require.NoError(t, h.store.DeleteConversation(ctx, origin))
	}
	res, err := h.coord.Submit(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, origin, res.ConversationID)

	cur, ok := h.store.Current()
	require.True(t, ok)
	require.NotEqual(t, origin, cur.ID)
	require.Len(t, cur.Messages, 1)
	require.Equal(t, "pong", cur.Messages[0].Content)
}

func TestSubmit_ReplyStaysWithOriginAfterSwitch(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	origin := h.store.CurrentID()
	h.gen.before = func() {
		_, err := h.store.CreateConversation(ctx)
		require.NoError(t, err)
	}
	_, err := h.coord.Submit(ctx, "hello")
	require.NoError(t, err)

	conv, err := h.store.Get(origin)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	cur, _ := h.store.Current()
	require.Empty(t, cur.Messages)
}
