// Package transport owns the realtime websocket session: the connection
// lifecycle, the init handshake, linear reconnect backoff and frame dispatch.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/identity"
	"github.com/go-go-golems/voxchat/pkg/scheduler"
)

const (
	DefaultURL         = "ws://localhost:8000/ws"
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

var (
	ErrNotReady     = errors.New("realtime channel not ready")
	ErrInvalidState = errors.New("invalid session state")
)

// Handler receives session events. Calls are made without holding session locks.
type Handler interface {
	OnStateChanged(State)
	OnAssistantMessage(text string)
	OnTyping(isTyping bool)
	OnServerError(message string)
	OnPersistentDisconnect(attempts int)
}

// NopHandler ignores every event; embed it to implement a subset.
// NopHandler ignores every session event.
type NopHandler struct{}

func (NopHandler) OnStateChanged(State) {}
func (NopHandler) OnAssistantMessage(string) {}
func (NopHandler) OnTyping(bool) {}
func (NopHandler) OnServerError(string) {}
func (NopHandler) OnPersistentDisconnect(int) {}

// Config sets the endpoint and reconnect policy. Zero fields take the defaults.
type Config struct {
	URL         string
	MaxAttempts int
	BaseDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

// Session owns one realtime connection at a time: it performs the init
// handshake, dispatches inbound frames to its Handler and reconnects with
// linear backoff until MaxAttempts is used up.
type Session struct {
	cfg     Config
	dialer  Dialer
	sched   scheduler.Scheduler
	ids     identity.Provider
	handler Handler

	mu       sync.Mutex
	state    State
	attempts int
	terminal bool
	// gen identifies the current connection; events tagged with an older
	// generation come from a superseded connection and are ignored.
	gen    uint64
	conn   Conn
	connID string
	timer  scheduler.Timer
	typing bool

	writeMu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the gorilla websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

func WithScheduler(sc scheduler.Scheduler) Option {
	return func(s *Session) {
		if sc != nil {
			s.sched = sc
		}
	}
}

func WithHandler(h Handler) Option {
	return func(s *Session) {
		if h != nil {
			s.handler = h
		}
	}
}

// NewSession returns an Idle session; nothing is dialed until Connect.
func NewSession(cfg Config, ids identity.Provider, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg.withDefaults(),
		dialer:  NewWebsocketDialer(10 * time.Second),
		sched:   scheduler.New(),
		ids:     ids,
		handler: NopHandler{},
		state:   StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetHandler replaces the event handler. Intended for wiring before Connect.
func (s *Session) SetHandler(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Ready() bool { return s.State() == StateReady }

func (s *Session) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Attempts is the number of reconnects since the last successful dial.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) URL() string { return s.cfg.URL }

// notifications are queued under the lock and delivered after it is released.
type notifications []func(Handler)

func (n notifications) deliver(h Handler) {
	for _, f := range n {
		f(h)
	}
}

func (s *Session) setStateLocked(st State, n *notifications) {
	if s.state == st {
		return
	}
	s.state = st
	*n = append(*n, func(h Handler) { h.OnStateChanged(st) })
}

// Connect opens the connection and performs the init handshake. It is valid
// from Idle and ClosedReconnecting. A dial failure is treated like an
// unexpected close and feeds the reconnect backoff.
func (s *Session) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var n notifications
	s.mu.Lock()
	if s.terminal || (s.state != StateIdle && s.state != StateClosedReconnecting) {
		st := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "connect from %s", st)
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting, &n)
	h := s.handler
	s.mu.Unlock()
	n.deliver(h)

	log.Info().Str("component", "transport").Str("url", s.cfg.URL).Int("attempt", s.Attempts()).Msg("connecting")
	conn, err := s.dialer.DialContext(ctx, s.cfg.URL)
	if err != nil {
		log.Warn().Err(err).Str("component", "transport").Str("url", s.cfg.URL).Msg("dial failed")
		s.connectionLost(gen, err)
		return errors.Wrap(err, "transport: connect")
	}

	n = nil
	s.mu.Lock()
	if s.terminal || s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.connID = uuid.NewString()
	s.attempts = 0
	connID := s.connID
	s.setStateLocked(StateOpen, &n)
	s.setStateLocked(StateHandshaking, &n)
	h = s.handler
	s.mu.Unlock()
	n.deliver(h)

	go s.readLoop(conn, gen, connID)

	userID := identity.DefaultUserID
	if s.ids != nil {
		userID = s.ids.UserID()
	}
	if err := s.write(conn, InitFrame(userID)); err != nil {
		log.Warn().Err(err).Str("component", "transport").Str("conn_id", connID).Msg("init handshake failed")
		s.connectionLost(gen, err)
		return errors.Wrap(err, "transport: handshake")
	}

	n = nil
	s.mu.Lock()
	if s.gen == gen && s.state == StateHandshaking {
		s.setStateLocked(StateReady, &n)
	}
	h = s.handler
	s.mu.Unlock()
	n.deliver(h)
	log.Info().Str("component", "transport").Str("conn_id", connID).Int("user_id", userID).Msg("session initialized")
	return nil
}

// Send writes a send_message frame. Outside Ready the text is dropped and
// ErrNotReady is returned; sends are never queued.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if s.state != StateReady || s.conn == nil {
		st := s.state
		s.mu.Unlock()
		log.Warn().Str("component", "transport").Str("state", st.String()).Msg("send dropped: channel not ready")
		return errors.Wrapf(ErrNotReady, "state %s", st)
	}
	conn := s.conn
	connID := s.connID
	s.mu.Unlock()

	if err := s.write(conn, SendMessageFrame(text)); err != nil {
		log.Warn().Err(err).Str("component", "transport").Str("conn_id", connID).Msg("send failed")
		return errors.Wrap(err, "transport: send")
	}
	log.Debug().Str("component", "transport").Str("conn_id", connID).Int("len", len(text)).Msg("message sent")
	return nil
}

func (s *Session) write(conn Conn, f Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

// Disconnect moves the session to the terminal Closed state. Pending
// reconnects are cancelled and later close events are ignored.
func (s *Session) Disconnect() {
	var n notifications
	s.mu.Lock()
	s.terminal = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	if s.typing {
		s.typing = false
		n = append(n, func(h Handler) { h.OnTyping(false) })
	}
	s.setStateLocked(StateClosed, &n)
	h := s.handler
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Str("component", "transport").Msg("close on disconnect")
		}
	}
	n.deliver(h)
}

// connectionLost runs the backoff decision for the connection of generation gen.
func (s *Session) connectionLost(gen uint64, cause error) {
	var n notifications
	s.mu.Lock()
	if s.terminal || s.gen != gen {
		s.mu.Unlock()
		return
	}
	// Bump the generation so the read loop of this connection goes stale.
	s.gen++
	conn := s.conn
	s.conn = nil
	if s.typing {
		s.typing = false
		n = append(n, func(h Handler) { h.OnTyping(false) })
	}
	if s.attempts < s.cfg.MaxAttempts {
		s.attempts++
		delay := s.cfg.BaseDelay * time.Duration(s.attempts)
		s.setStateLocked(StateClosedReconnecting, &n)
		s.timer = s.sched.AfterFunc(delay, s.reconnect)
		log.Info().Err(cause).Str("component", "transport").
			Int("attempt", s.attempts).Int("max_attempts", s.cfg.MaxAttempts).
			Dur("delay", delay).Msg("connection lost, reconnect scheduled")
	} else {
		attempts := s.attempts
		s.setStateLocked(StateClosedExhausted, &n)
		n = append(n, func(h Handler) { h.OnPersistentDisconnect(attempts) })
		log.Error().Err(cause).Str("component", "transport").Int("attempts", attempts).Msg("max reconnection attempts reached")
	}
	h := s.handler
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	n.deliver(h)
}

func (s *Session) reconnect() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.Connect(context.Background()); err != nil {
		if errors.Is(err, ErrInvalidState) {
			log.Debug().Err(err).Str("component", "transport").Msg("reconnect skipped")
			return
		}
		log.Debug().Err(err).Str("component", "transport").Msg("reconnect attempt failed")
	}
}

func (s *Session) readLoop(conn Conn, gen uint64, connID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("component", "transport").Str("conn_id", connID).Msg("read loop ended")
			s.connectionLost(gen, err)
			return
		}
		s.dispatch(data, gen, connID)
	}
}

func (s *Session) dispatch(data []byte, gen uint64, connID string) {
	f, err := DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("component", "transport").Str("conn_id", connID).Msg("dropping inbound frame")
		return
	}
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	h := s.handler
	switch f.Type {
	case FrameTyping:
		changed := s.typing != f.IsTyping
		s.typing = f.IsTyping
		s.mu.Unlock()
		if changed {
			h.OnTyping(f.IsTyping)
		}
		return
	}
	s.mu.Unlock()

	switch f.Type {
	case FrameNewMessage:
		if f.Sender != SenderAssistant {
			log.Debug().Str("component", "transport").Str("sender", f.Sender).Msg("ignoring non-assistant message")
			return
		}
		h.OnAssistantMessage(f.Text)
	case FrameError:
		log.Warn().Str("component", "transport").Str("conn_id", connID).Str("message", f.Message).Msg("server reported error")
		h.OnServerError(f.Message)
	default:
		log.Debug().Str("component", "transport").Str("type", f.Type).Msg("unknown frame type")
	}
}
