package ui

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/transport"
)

const (
	EventConversationsChanged = "conversations_changed"
	EventMessageAppended      = "message_appended"
	EventRenderFrame          = "render_frame"
	EventConnectionState      = "connection_state"
	EventTyping               = "typing"
	EventQuotaExceeded        = "quota_exceeded"
	EventPersistentDisconnect = "persistent_disconnect"
	EventServerError          = "server_error"
)

// Event is the JSON payload published for every observer call.
type Event struct {
	Type           string             `json:"type"`
	At             time.Time          `json:"at"`
	ConversationID string             `json:"conversationId,omitempty"`
	CurrentID      string             `json:"currentId,omitempty"`
	Conversations  []ConversationInfo `json:"conversations,omitempty"`
	Message        *chatstore.Message `json:"message,omitempty"`
	MessageID      string             `json:"messageId,omitempty"`
	Text           string             `json:"text,omitempty"`
	Final          bool               `json:"final,omitempty"`
	State          string             `json:"state,omitempty"`
	Typing         bool               `json:"typing,omitempty"`
	Remaining      int                `json:"remaining,omitempty"`
	Attempts       int                `json:"attempts,omitempty"`
	Error          string             `json:"error,omitempty"`
}

type ConversationInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Messages int    `json:"messages"`
}

// Bridge publishes observer events on a Watermill topic. Partial render frames
// are skipped unless WithPartialFrames is set.
type Bridge struct {
	pub     message.Publisher
	topic   string
	partial bool
	now     func() time.Time
}

var _ Observer = &Bridge{}

type BridgeOption func(*Bridge)

func WithPartialFrames(v bool) BridgeOption {
	return func(b *Bridge) { b.partial = v }
}

func NewBridge(pub message.Publisher, topic string, opts ...BridgeOption) *Bridge {
	b := &Bridge{pub: pub, topic: topic, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bridge) publish(ev Event) {
	ev.At = b.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("component", "ui-bridge").Str("type", ev.Type).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("event_type", ev.Type)
	if err := b.pub.Publish(b.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "ui-bridge").Str("topic", b.topic).Str("type", ev.Type).Msg("publish failed")
	}
}

func (b *Bridge) OnConversationsChanged(convs []chatstore.Conversation, currentID string) {
	infos := make([]ConversationInfo, 0, len(convs))
	for _, c := range convs {
		infos = append(infos, ConversationInfo{ID: c.ID, Title: c.Title, Messages: len(c.Messages)})
	}
	b.publish(Event{Type: EventConversationsChanged, CurrentID: currentID, Conversations: infos})
}

func (b *Bridge) OnMessageAppended(convID string, msg chatstore.Message) {
	b.publish(Event{Type: EventMessageAppended, ConversationID: convID, Message: &msg})
}

func (b *Bridge) OnRenderFrame(f render.Frame) {
	if !f.Final && !b.partial {
		return
	}
	b.publish(Event{
		Type:           EventRenderFrame,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		Text:           f.Text,
		Final:          f.Final,
	})
}

func (b *Bridge) OnConnectionStateChanged(s transport.State) {
	b.publish(Event{Type: EventConnectionState, State: s.String()})
}

func (b *Bridge) OnTyping(isTyping bool) {
	b.publish(Event{Type: EventTyping, Typing: isTyping})
}

func (b *Bridge) OnQuotaExceeded(st quota.Status) {
	b.publish(Event{Type: EventQuotaExceeded, Remaining: st.Remaining})
}

func (b *Bridge) OnPersistentDisconnect(attempts int) {
	b.publish(Event{Type: EventPersistentDisconnect, Attempts: attempts})
}

func (b *Bridge) OnServerError(message string) {
	b.publish(Event{Type: EventServerError, Error: message})
}

// Consume subscribes to topic and hands every decoded event to fn until ctx
// is done or the subscription closes. Undecodable messages are acked and skipped.
func Consume(ctx context.Context, sub message.Subscriber, topic string, fn func(Event)) error {
	ch, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Warn().Err(err).Str("component", "ui-bridge").Str("uuid", msg.UUID).Msg("failed to decode event")
				msg.Ack()
				continue
			}
			fn(ev)
			msg.Ack()
		}
	}
}
