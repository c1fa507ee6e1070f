package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/transport"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

type conversationsMsg struct {
	convs     []chatstore.Conversation
	currentID string
}

type frameMsg render.Frame

type connectionMsg transport.State

type typingMsg bool

type quotaExceededMsg quota.Status

type disconnectedMsg int

type serverErrorMsg string

// EventQueue is the ui.Observer the TUI listens on. Events are queued without
// blocking the caller, so core components never wait on the render loop.
type EventQueue struct {
	mu     sync.Mutex
	queue  []tea.Msg
	notify chan struct{}
	out    chan tea.Msg
	done   chan struct{}
	once   sync.Once
}

var _ ui.Observer = &EventQueue{}

func NewEventQueue() *EventQueue {
	q := &EventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan tea.Msg),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *EventQueue) push(m tea.Msg) {
	q.mu.Lock()
	q.queue = append(q.queue, m)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *EventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.queue
		q.queue = nil
		q.mu.Unlock()
		for _, m := range batch {
			select {
			case q.out <- m:
			case <-q.done:
				return
			}
		}
		select {
		case <-q.notify:
		case <-q.done:
			return
		}
	}
}

// Close stops delivery; pending events are dropped.
func (q *EventQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Wait returns a command that yields the next queued event.
func (q *EventQueue) Wait() tea.Cmd {
	return func() tea.Msg {
		m, ok := <-q.out
		if !ok {
			return nil
		}
		return m
	}
}

func (q *EventQueue) OnConversationsChanged(convs []chatstore.Conversation, currentID string) {
	q.push(conversationsMsg{convs: convs, currentID: currentID})
}

// Appends are followed by a conversations event carrying the same data.
func (q *EventQueue) OnMessageAppended(string, chatstore.Message) {}

func (q *EventQueue) OnRenderFrame(f render.Frame) { q.push(frameMsg(f)) }

func (q *EventQueue) OnConnectionStateChanged(s transport.State) { q.push(connectionMsg(s)) }

func (q *EventQueue) OnTyping(isTyping bool) { q.push(typingMsg(isTyping)) }

func (q *EventQueue) OnQuotaExceeded(st quota.Status) { q.push(quotaExceededMsg(st)) }

func (q *EventQueue) OnPersistentDisconnect(attempts int) { q.push(disconnectedMsg(attempts)) }

func (q *EventQueue) OnServerError(message string) { q.push(serverErrorMsg(message)) }
