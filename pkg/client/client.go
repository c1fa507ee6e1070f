// Package client assembles the chat core from settings: storage, identity,
// quota, conversation store, realtime session, HTTP fallback, playback and
// the UI observers.
package client

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/config"
	"github.com/go-go-golems/voxchat/pkg/delivery"
	"github.com/go-go-golems/voxchat/pkg/generate"
	"github.com/go-go-golems/voxchat/pkg/identity"
	"github.com/go-go-golems/voxchat/pkg/kvstore"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/redisstream"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/scheduler"
	"github.com/go-go-golems/voxchat/pkg/transport"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

type Client struct {
	settings config.Settings

	kv       kvstore.Store
	ownsKV   bool
	identity *identity.Store
	subs     *quota.Subscriptions
	gate     *quota.Gate
	store    *chatstore.Store
	session  *transport.Session
	player   *render.Player
	coord    *delivery.Coordinator
	fanout   *ui.Fanout
	events   *redisstream.PubSub
	bridge   *ui.Bridge
}

type Option func(*options)

type options struct {
	kv        kvstore.Store
	sched     scheduler.Scheduler
	dialer    transport.Dialer
	generator delivery.Generator
	observers []ui.Observer
}

// WithKVStore uses kv instead of opening the configured storage. The caller
// keeps ownership.
func WithKVStore(kv kvstore.Store) Option {
	return func(o *options) { o.kv = kv }
}

func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithGenerator(g delivery.Generator) Option {
	return func(o *options) { o.generator = g }
}

func WithObserver(obs ui.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

func New(ctx context.Context, s config.Settings, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.sched == nil {
		o.sched = scheduler.New()
	}

	c := &Client{settings: s, fanout: ui.NewFanout(o.observers...)}
	if o.kv != nil {
		c.kv = o.kv
	} else {
		kv, err := kvstore.Open(s.Storage)
		if err != nil {
			return nil, errors.Wrap(err, "open storage")
		}
		c.kv = kv
		c.ownsKV = true
	}

	var err error
	if c.identity, err = identity.Load(ctx, c.kv); err != nil {
		return nil, c.closeOnError(err)
	}
	if c.subs, err = quota.LoadSubscriptions(ctx, c.kv, o.sched.Now); err != nil {
		return nil, c.closeOnError(err)
	}
	if c.gate, err = quota.NewGate(ctx, c.kv, c.subs, quota.WithLimit(s.DailyLimit), quota.WithClock(o.sched.Now)); err != nil {
		log.Warn().Err(err).Str("component", "client").Msg("quota counter not persisted")
	}
	if c.store, err = chatstore.Open(ctx, c.kv, chatstore.WithListener(c.fanout)); err != nil {
		if c.store == nil {
			return nil, c.closeOnError(err)
		}
		log.Warn().Err(err).Str("component", "client").Msg("conversations not persisted, continuing in memory")
	}

	if s.Events.Enabled {
		if err := c.EnableEventBridge(s.Events); err != nil {
			return nil, c.closeOnError(err)
		}
	}

	c.player = render.NewPlayer(c.fanout.OnRenderFrame, render.WithScheduler(o.sched))

	gen := o.generator
	if gen == nil {
		gen = generate.New(generate.Config{
			BaseURL: s.BackendURL,
			Path:    s.GeneratePath,
			Timeout: s.HTTPTimeout,
		})
	}

	var rt delivery.Realtime
	if s.Realtime.Enabled {
		sessOpts := []transport.Option{
			transport.WithScheduler(o.sched),
			transport.WithHandler(sessionHandler{c: c}),
		}
		if o.dialer != nil {
			sessOpts = append(sessOpts, transport.WithDialer(o.dialer))
		}
		c.session = transport.NewSession(transport.Config{
			URL:         s.Realtime.URL,
			MaxAttempts: s.Realtime.MaxAttempts,
			BaseDelay:   s.Realtime.BaseDelay,
		}, c.identity, sessOpts...)
		rt = c.session
	}

	c.coord, err = delivery.New(delivery.Deps{
		Store:     c.store,
		Gate:      c.gate,
		Realtime:  rt,
		Generator: gen,
		Identity:  c.identity,
		Renderer:  c.player,
		Observer:  c.fanout,
		Speeds:    speedsFrom(s.Typing),
	})
	if err != nil {
		return nil, c.closeOnError(err)
	}
	return c, nil
}

func speedsFrom(t config.TypingSettings) delivery.Speeds {
	sp := delivery.DefaultSpeeds()
	if t.Reply > 0 {
		sp.Reply.Delay = t.Reply
	}
	if t.Error > 0 {
		sp.Error.Delay = t.Error
	}
	if t.Inbound > 0 {
		sp.Inbound.Delay = t.Inbound
	}
	if t.Jitter >= 0 {
		sp.Reply.Jitter, sp.Error.Jitter, sp.Inbound.Jitter = t.Jitter, t.Jitter, t.Jitter
	}
	return sp
}

func (c *Client) closeOnError(err error) error {
	if cerr := c.Close(); cerr != nil {
		log.Warn().Err(cerr).Str("component", "client").Msg("cleanup after failed start")
	}
	return err
}

// EnableEventBridge publishes every UI event on the Watermill topic of s.
func (c *Client) EnableEventBridge(s redisstream.Settings) error {
	if c.bridge != nil {
		return nil
	}
	ps, err := redisstream.Build(s)
	if err != nil {
		return errors.Wrap(err, "event bridge")
	}
	topic := s.Topic
	if topic == "" {
		topic = redisstream.DefaultTopic
	}
	c.events = ps
	c.bridge = ui.NewBridge(ps.Publisher, topic, ui.WithPartialFrames(s.PartialFrames))
	c.fanout.Add(c.bridge)
	log.Info().Str("component", "client").Bool("redis", s.Enabled).Str("topic", topic).Msg("event bridge enabled")
	return nil
}

// Events returns the bridge pub/sub, nil unless the bridge is enabled.
func (c *Client) Events() *redisstream.PubSub { return c.events }

func (c *Client) AddObserver(o ui.Observer) { c.fanout.Add(o) }

// Connect starts the realtime session. Without one it is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	return c.session.Connect(ctx)
}

func (c *Client) Close() error {
	if c.player != nil {
		c.player.Cancel()
	}
	if c.session != nil {
		c.session.Disconnect()
	}
	var firstErr error
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			firstErr = err
		}
	}
	if c.ownsKV && c.kv != nil {
		if err := c.kv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) Submit(ctx context.Context, text string) (delivery.Result, error) {
	return c.coord.Submit(ctx, text)
}

// SelectConversation finishes any running playback before switching.
func (c *Client) SelectConversation(id string) (chatstore.Conversation, error) {
	if _, err := c.store.Get(id); err != nil {
		return chatstore.Conversation{}, err
	}
	c.player.Cancel()
	return c.store.SelectConversation(id)
}

func (c *Client) CreateConversation(ctx context.Context) (chatstore.Conversation, error) {
	c.player.Cancel()
	return c.store.CreateConversation(ctx)
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	c.player.Cancel()
	return c.store.DeleteConversation(ctx, id)
}

func (c *Client) Conversations() []chatstore.Conversation { return c.store.List() }

func (c *Client) Current() (chatstore.Conversation, bool) { return c.store.Current() }

func (c *Client) Conversation(id string) (chatstore.Conversation, error) { return c.store.Get(id) }

func (c *Client) QuotaStatus(ctx context.Context) quota.Status { return c.gate.Check(ctx) }

func (c *Client) Subscription() quota.Subscription { return c.subs.Subscription() }

func (c *Client) UpdateSubscription(ctx context.Context, patch quota.Subscription) (quota.Subscription, error) {
	return c.subs.Update(ctx, patch)
}

func (c *Client) User() (identity.User, bool) { return c.identity.User() }

func (c *Client) Login(ctx context.Context, username string) (identity.User, error) {
	return c.identity.Login(ctx, username)
}

// Logout forgets the user, history, subscription and quota count, then
// starts a fresh conversation.
func (c *Client) Logout(ctx context.Context) error {
	c.player.Cancel()
	if err := c.identity.Logout(ctx, chatstore.KeyConversations, quota.KeySubscription, quota.KeyCounter); err != nil {
		return err
	}
	c.subs.Reset()
	c.gate.Reset()
	return c.store.Clear(ctx)
}

func (c *Client) ConnectionState() transport.State {
	if c.session == nil {
		return transport.StateIdle
	}
	return c.session.State()
}

func (c *Client) Typing() bool {
	return c.session != nil && c.session.IsTyping()
}

func (c *Client) Settings() config.Settings { return c.settings }

// sessionHandler routes realtime events into the coordinator and observers.
type sessionHandler struct {
	c *Client
}

func (h sessionHandler) OnStateChanged(s transport.State) {
	h.c.fanout.OnConnectionStateChanged(s)
}

func (h sessionHandler) OnAssistantMessage(text string) {
	h.c.coord.OnInboundAssistantMessage(text)
}

func (h sessionHandler) OnTyping(isTyping bool) {
	h.c.fanout.OnTyping(isTyping)
}

func (h sessionHandler) OnServerError(message string) {
	h.c.fanout.OnServerError(message)
}

func (h sessionHandler) OnPersistentDisconnect(attempts int) {
	h.c.fanout.OnPersistentDisconnect(attempts)
}
