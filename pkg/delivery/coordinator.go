// Package delivery turns a submitted line of text into a user message, a
// quota charge and a reply, over the realtime channel when it is ready and
// the HTTP generate endpoint otherwise.
package delivery

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/identity"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/transport"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

// FallbackReply replaces a reply that could not be obtained.
const FallbackReply = "Sorry, I encountered an error. Please try again."

var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrQuotaExceeded = quota.ErrExceeded
)

type Path string

const (
	PathRealtime Path = "realtime"
	PathHTTP     Path = "http"
)

type Realtime interface {
	Ready() bool
	Send(text string) error
}

type Generator interface {
	Generate(ctx context.Context, query string, userID int) (string, error)
}

type Gate interface {
	Consume(ctx context.Context) (quota.Status, error)
}

type Renderer interface {
	Play(convID string, msg chatstore.Message, opts render.Options) *render.Playback
}

type Result struct {
	ConversationID string
	UserMessage    chatstore.Message
	// Remaining is the quota left after this message, -1 when unlimited.
	Remaining int
	Path      Path
	// Reply is set for HTTP deliveries, including the fallback reply.
	Reply *chatstore.Message
	// DeliveryErr is the recovered failure when the fallback reply was used.
	DeliveryErr error
}

// Speeds are the playback options for each kind of assistant message.
type Speeds struct {
	Reply   render.Options
	Error   render.Options
	Inbound render.Options
}

func DefaultSpeeds() Speeds {
	return Speeds{Reply: render.ReplyOptions(), Error: render.ErrorOptions(), Inbound: render.InboundOptions()}
}

type Deps struct {
	Store     *chatstore.Store
	Gate      Gate
	Realtime  Realtime
	Generator Generator
	Identity  identity.Provider
	Renderer  Renderer
	Observer  ui.Observer
	// Speeds defaults to DefaultSpeeds when zero.
	Speeds Speeds
}

type Coordinator struct {
	store    *chatstore.Store
	gate     Gate
	rt       Realtime
	gen      Generator
	ids      identity.Provider
	renderer Renderer
	obs      ui.Observer
	speeds   Speeds
}

func New(d Deps) (*Coordinator, error) {
	if d.Store == nil {
		return nil, errors.New("delivery: store is required")
	}
	if d.Gate == nil {
		return nil, errors.New("delivery: quota gate is required")
	}
	if d.Generator == nil && d.Realtime == nil {
		return nil, errors.New("delivery: need a realtime channel or a generator")
	}
	c := &Coordinator{
		store:    d.Store,
		gate:     d.Gate,
		rt:       d.Realtime,
		gen:      d.Generator,
		ids:      d.Identity,
		renderer: d.Renderer,
		obs:      d.Observer,
		speeds:   d.Speeds,
	}
	if c.speeds == (Speeds{}) {
		c.speeds = DefaultSpeeds()
	}
	if c.obs == nil {
		c.obs = ui.Funcs{}
	}
	return c, nil
}

func (c *Coordinator) userID() int {
	if c.ids == nil {
		return identity.DefaultUserID
	}
	return c.ids.UserID()
}

func (c *Coordinator) play(convID string, msg chatstore.Message, opts render.Options) {
	if c.renderer != nil {
		c.renderer.Play(convID, msg, opts)
	}
}

// Submit handles one line typed by the user. Empty input and an exhausted
// quota are rejected without touching the store. Delivery failures are not
// returned: they end as the fallback assistant reply, reported in
// Result.DeliveryErr.
func (c *Coordinator) Submit(ctx context.Context, text string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyMessage
	}

	st, err := c.gate.Consume(ctx)
	switch {
	case errors.Is(err, quota.ErrExceeded):
		log.Info().Str("component", "delivery").Int("limit", st.Limit).Msg("daily quota exceeded")
		c.obs.OnQuotaExceeded(st)
		return Result{Remaining: st.Remaining}, err
	case err != nil:
		log.Warn().Err(err).Str("component", "delivery").Msg("quota counter not persisted")
	}

	convID, userMsg, err := c.store.AppendToCurrent(ctx, chatstore.RoleUser, text)
	if err != nil {
		if userMsg.ID == "" {
			return Result{Remaining: st.Remaining}, errors.Wrap(err, "append user message")
		}
		log.Warn().Err(err).Str("component", "delivery").Msg("user message not persisted")
	}
	c.play(convID, userMsg, render.Options{})

	res := Result{
		ConversationID: convID,
		UserMessage:    userMsg,
		Remaining:      st.Remaining,
	}

	if c.rt != nil && c.rt.Ready() {
		err := c.rt.Send(text)
		switch {
		case err == nil:
			res.Path = PathRealtime
			return res, nil
		case errors.Is(err, transport.ErrNotReady) && c.gen != nil:
			log.Debug().Str("component", "delivery").Msg("channel went away, using http")
		default:
			res.Path = PathRealtime
			res.DeliveryErr = errors.Wrap(err, "realtime send")
			reply := c.appendReply(ctx, convID, FallbackReply, c.speeds.Error)
			res.Reply = &reply
			return res, nil
		}
	}

	res.Path = PathHTTP
	if c.gen == nil {
		res.DeliveryErr = errors.Wrap(transport.ErrNotReady, "no http fallback configured")
		reply := c.appendReply(ctx, convID, FallbackReply, c.speeds.Error)
		res.Reply = &reply
		return res, nil
	}

	replyText, err := c.gen.Generate(ctx, text, c.userID())
	if err != nil {
		log.Warn().Err(err).Str("component", "delivery").Str("conversation_id", convID).Msg("generate failed, using fallback reply")
		res.DeliveryErr = err
		reply := c.appendReply(ctx, convID, FallbackReply, c.speeds.Error)
		res.Reply = &reply
		return res, nil
	}
	reply := c.appendReply(ctx, convID, replyText, c.speeds.Reply)
	res.Reply = &reply
	return res, nil
}

// appendReply adds an assistant message to convID, or to the current
// conversation when convID was deleted while the request was in flight.
func (c *Coordinator) appendReply(ctx context.Context, convID, text string, opts render.Options) chatstore.Message {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	target := convID
	msg, err := c.store.AppendMessage(ctx, convID, chatstore.RoleAssistant, text)
	if errors.Is(err, chatstore.ErrNotFound) {
		target, msg, err = c.store.AppendToCurrent(ctx, chatstore.RoleAssistant, text)
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "delivery").Str("conversation_id", target).Msg("assistant reply not persisted")
	}
	if msg.ID != "" {
		c.play(target, msg, opts)
	}
	return msg
}

// OnInboundAssistantMessage appends a reply pushed by the realtime channel to
// the current conversation. Server pushes are not charged against the quota.
func (c *Coordinator) OnInboundAssistantMessage(text string) {
	ctx := context.Background()
	convID, msg, err := c.store.AppendToCurrent(ctx, chatstore.RoleAssistant, text)
	if err != nil {
		log.Warn().Err(err).Str("component", "delivery").Msg("inbound reply not persisted")
		if msg.ID == "" {
			return
		}
	}
	c.play(convID, msg, c.speeds.Inbound)
}
