package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voxchat/pkg/scheduler"
)

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once

	mu      sync.Mutex
	written []Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.inbound:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	f, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server closing the connection.
func (c *fakeConn) drop() { c.dropOnce.Do(func() { close(c.inbound) }) }

func (c *fakeConn) frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) DialContext(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type recorder struct {
	mu           sync.Mutex
	states       []State
	replies      []string
	typing       []bool
	serverErrors []string
	exhausted    []int
}

func (r *recorder) OnStateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) OnAssistantMessage(text string) {
	r.mu.Lock()
	r.replies = append(r.replies, text)
	r.mu.Unlock()
}

func (r *recorder) OnTyping(v bool) {
	r.mu.Lock()
	r.typing = append(r.typing, v)
	r.mu.Unlock()
}

func (r *recorder) OnServerError(msg string) {
	r.mu.Lock()
	r.serverErrors = append(r.serverErrors, msg)
	r.mu.Unlock()
}

func (r *recorder) OnPersistentDisconnect(n int) {
	r.mu.Lock()
	r.exhausted = append(r.exhausted, n)
	r.mu.Unlock()
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:       append([]State(nil), r.states...),
		replies:      append([]string(nil), r.replies...),
		typing:       append([]bool(nil), r.typing...),
		serverErrors: append([]string(nil), r.serverErrors...),
		exhausted:    append([]int(nil), r.exhausted...),
	}
}

type staticID int

func (s staticID) UserID() int { return int(s) }

func newTestSession(d Dialer, sched scheduler.Scheduler, rec *recorder) *Session {
	return NewSession(Config{URL: "ws://test/ws"}, staticID(42),
		WithDialer(d), WithScheduler(sched), WithHandler(rec))
}

func TestSession_BackoffIsLinearAndExhaustsAfterFiveAttempts(t *testing.T) {
	d := &fakeDialer{fail: true}
	sched := scheduler.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newTestSession(d, sched, rec)

	require.Error(t, s.Connect(context.Background()))
	require.Equal(t, StateClosedReconnecting, s.State())

	for sched.FireNext() {
	}

	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second,
	}, sched.Scheduled())
	require.Equal(t, StateClosedExhausted, s.State())
	require.Equal(t, 0, sched.PendingCount())
	require.Equal(t, 6, d.dials)
	require.Equal(t, []int{5}, rec.snapshot().exhausted)

	require.ErrorIs(t, s.Connect(context.Background()), ErrInvalidState)
}

func TestSession_HandshakeSendAndInboundDispatch(t *testing.T) {
	d := &fakeDialer{}
	sched := scheduler.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newTestSession(d, sched, rec)

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, StateReady, s.State())
	require.Equal(t, []State{StateConnecting, StateOpen, StateHandshaking, StateReady}, rec.snapshot().states)

	conn := d.last()
	require.NoError(t, s.Send("hello"))
	require.Equal(t, []Frame{InitFrame(42), SendMessageFrame("hello")}, conn.frames())

	conn.inbound <- []byte(`{"type":"typing","isTyping":true}`)
	conn.inbound <- []byte(`not json`)
	conn.inbound <- []byte(`{"type":"new_message","sender":"user","text":"echo"}`)
	conn.inbound <- []byte(`{"type":"new_message","sender":"assistant","text":"hi there"}`)
	conn.inbound <- []byte(`{"type":"error","message":"rate limited"}`)
	conn.inbound <- []byte(`{"type":"mystery"}`)

	require.Eventually(t, func() bool {
		return len(rec.snapshot().serverErrors) == 1
	}, time.Second, 5*time.Millisecond)
	snap := rec.snapshot()
	require.Equal(t, []string{"hi there"}, snap.replies)
	require.Equal(t, []bool{true}, snap.typing)
	require.True(t, s.IsTyping())
	require.Equal(t, StateReady, s.State())
}

func TestSession_SendOutsideReadyIsDropped(t *testing.T) {
	s := newTestSession(&fakeDialer{fail: true}, scheduler.NewFake(time.Unix(0, 0)), &recorder{})
	require.ErrorIs(t, s.Send("x"), ErrNotReady)
	_ = s.Connect(context.Background())
	require.ErrorIs(t, s.Send("x"), ErrNotReady)
}

func TestSession_ReconnectAfterServerCloseResetsAttempts(t *testing.T) {
	d := &fakeDialer{}
	sched := scheduler.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	s := newTestSession(d, sched, rec)

	require.NoError(t, s.Connect(context.Background()))
	first := d.last()
	first.drop()

	require.Eventually(t, func() bool { return s.State() == StateClosedReconnecting }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, s.Attempts())
	require.Equal(t, []time.Duration{time.Second}, sched.Scheduled())

	require.True(t, sched.FireNext())
	require.Equal(t, StateReady, s.State())
	require.Equal(t, 0, s.Attempts())
	require.Len(t, d.conns, 2)
	require.Equal(t, []Frame{InitFrame(42)}, d.last().frames())
}

func TestSession_DisconnectIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	sched := scheduler.NewFake(time.Unix(0, 0))
	s := newTestSession(d, sched, &recorder{})

	require.NoError(t, s.Connect(context.Background()))
	conn := d.last()
	conn.drop()
	require.Eventually(t, func() bool { return s.State() == StateClosedReconnecting }, time.Second, 5*time.Millisecond)

	s.Disconnect()
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 0, sched.PendingCount())
	require.False(t, sched.FireNext())
	require.ErrorIs(t, s.Connect(context.Background()), ErrInvalidState)
	require.Equal(t, 1, d.dials)
}

func TestSession_DisconnectIgnoresLateClose(t *testing.T) {
	d := &fakeDialer{}
	sched := scheduler.NewFake(time.Unix(0, 0))
	s := newTestSession(d, sched, &recorder{})

	require.NoError(t, s.Connect(context.Background()))
	s.Disconnect()
	d.last().drop()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 0, sched.PendingCount())
}

func TestSession_GorillaHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	initFrames := make(chan Frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if json.Unmarshal(data, &f) == nil {
			initFrames <- f
		}
		reply, _ := json.Marshal(Frame{Type: FrameNewMessage, Sender: SenderAssistant, Text: "welcome"})
		_ = c.WriteMessage(websocket.TextMessage, reply)
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	rec := &recorder{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	s := NewSession(Config{URL: url}, staticID(7), WithScheduler(scheduler.NewFake(time.Unix(0, 0))), WithHandler(rec))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	select {
	case f := <-initFrames:
		require.Equal(t, InitFrame(7), f)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received init frame")
	}
	require.Eventually(t, func() bool {
		return len(rec.snapshot().replies) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "welcome", rec.snapshot().replies[0])
}

func TestDecodeFrame(t *testing.T) {
	_, err := DecodeFrame([]byte(`{`))
	require.ErrorIs(t, err, ErrMalformedFrame)
	_, err = DecodeFrame([]byte(`{"text":"x"}`))
	require.ErrorIs(t, err, ErrMalformedFrame)

	f, err := DecodeFrame([]byte(`{"type":"typing","isTyping":false}`))
	require.NoError(t, err)
	require.Equal(t, FrameTyping, f.Type)

	b, err := EncodeFrame(InitFrame(3))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"init","userId":3}`, string(b))
}
