// Package ui is the port between the chat core and any presentation layer.
// The core calls an Observer; adapters fan events out to several observers or
// publish them on a Watermill topic.
package ui

import (
	"sync"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/transport"
)

type Observer interface {
	OnConversationsChanged(convs []chatstore.Conversation, currentID string)
	OnMessageAppended(convID string, msg chatstore.Message)
	OnRenderFrame(f render.Frame)
	OnConnectionStateChanged(s transport.State)
	OnTyping(isTyping bool)
	OnQuotaExceeded(st quota.Status)
	OnPersistentDisconnect(attempts int)
	OnServerError(message string)
}

// Funcs adapts closures to Observer; nil fields are skipped.
type Funcs struct {
	ConversationsChanged   func(convs []chatstore.Conversation, currentID string)
	MessageAppended        func(convID string, msg chatstore.Message)
	RenderFrame            func(f render.Frame)
	ConnectionStateChanged func(s transport.State)
	Typing                 func(isTyping bool)
	QuotaExceeded          func(st quota.Status)
	PersistentDisconnect   func(attempts int)
	ServerError            func(message string)
}

var _ Observer = Funcs{}

func (f Funcs) OnConversationsChanged(convs []chatstore.Conversation, currentID string) {
	if f.ConversationsChanged != nil {
		f.ConversationsChanged(convs, currentID)
	}
}

func (f Funcs) OnMessageAppended(convID string, msg chatstore.Message) {
	if f.MessageAppended != nil {
		f.MessageAppended(convID, msg)
	}
}

func (f Funcs) OnRenderFrame(fr render.Frame) {
	if f.RenderFrame != nil {
		f.RenderFrame(fr)
	}
}

func (f Funcs) OnConnectionStateChanged(s transport.State) {
	if f.ConnectionStateChanged != nil {
		f.ConnectionStateChanged(s)
	}
}

func (f Funcs) OnTyping(isTyping bool) {
	if f.Typing != nil {
		f.Typing(isTyping)
	}
}

func (f Funcs) OnQuotaExceeded(st quota.Status) {
	if f.QuotaExceeded != nil {
		f.QuotaExceeded(st)
	}
}

func (f Funcs) OnPersistentDisconnect(attempts int) {
	if f.PersistentDisconnect != nil {
		f.PersistentDisconnect(attempts)
	}
}

func (f Funcs) OnServerError(message string) {
	if f.ServerError != nil {
		f.ServerError(message)
	}
}

// Fanout forwards every event to each registered observer in registration order.
type Fanout struct {
	mu        sync.RWMutex
	observers []Observer
}

var _ Observer = &Fanout{}

func NewFanout(obs ...Observer) *Fanout {
	f := &Fanout{}
	for _, o := range obs {
		f.Add(o)
	}
	return f
}

func (f *Fanout) Add(o Observer) {
	if o == nil {
		return
	}
	f.mu.Lock()
	f.observers = append(f.observers, o)
	f.mu.Unlock()
}

func (f *Fanout) each(fn func(Observer)) {
	f.mu.RLock()
	obs := append([]Observer(nil), f.observers...)
	f.mu.RUnlock()
	for _, o := range obs {
		fn(o)
	}
}

func (f *Fanout) OnConversationsChanged(convs []chatstore.Conversation, currentID string) {
	f.each(func(o Observer) { o.OnConversationsChanged(convs, currentID) })
}

func (f *Fanout) OnMessageAppended(convID string, msg chatstore.Message) {
	f.each(func(o Observer) { o.OnMessageAppended(convID, msg) })
}

func (f *Fanout) OnRenderFrame(fr render.Frame) {
	f.each(func(o Observer) { o.OnRenderFrame(fr) })
}

func (f *Fanout) OnConnectionStateChanged(s transport.State) {
	f.each(func(o Observer) { o.OnConnectionStateChanged(s) })
}

func (f *Fanout) OnTyping(isTyping bool) {
	f.each(func(o Observer) { o.OnTyping(isTyping) })
}

func (f *Fanout) OnQuotaExceeded(st quota.Status) {
	f.each(func(o Observer) { o.OnQuotaExceeded(st) })
}

func (f *Fanout) OnPersistentDisconnect(attempts int) {
	f.each(func(o Observer) { o.OnPersistentDisconnect(attempts) })
}

func (f *Fanout) OnServerError(message string) {
	f.each(func(o Observer) { o.OnServerError(message) })
}
