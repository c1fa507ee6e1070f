// Package tui is the terminal front end: a transcript viewport, a
// conversation bar and an input box, driven by core events.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/delivery"
	"github.com/go-go-golems/voxchat/pkg/quota"
	"github.com/go-go-golems/voxchat/pkg/transport"
)

// Backend is the part of the client the TUI drives.
type Backend interface {
	Submit(ctx context.Context, text string) (delivery.Result, error)
	Conversations() []chatstore.Conversation
	Current() (chatstore.Conversation, bool)
	CreateConversation(ctx context.Context) (chatstore.Conversation, error)
	SelectConversation(id string) (chatstore.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	QuotaStatus(ctx context.Context) quota.Status
	ConnectionState() transport.State
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Padding(0, 1)
	activeTabStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("63")).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

const helpText = "enter send • ctrl+n new • ctrl+d delete • tab/shift+tab switch • ctrl+y copy reply • ctrl+c quit"

type submitDoneMsg struct {
	res delivery.Result
	err error
}

type Model struct {
	backend Backend
	events  *EventQueue
	ctx     context.Context

	input    textarea.Model
	viewport viewport.Model
	markdown *glamour.TermRenderer
	mdWidth  int
	rendered map[string]string

	convs     []chatstore.Conversation
	currentID string
	// live holds the partially revealed text of messages still animating.
	live map[string]string

	state    transport.State
	typing   bool
	inFlight int
	quota    quota.Status
	notice   string
	err      error

	width  int
	height int
}

func NewModel(ctx context.Context, backend Backend, events *EventQueue) Model {
	ta := textarea.New()
	ta.Placeholder = "Message VoxAI..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 4000
	ta.Focus()

	vp := viewport.New(80, 20)

	m := Model{
		backend:  backend,
		events:   events,
		ctx:      ctx,
		input:    ta,
		viewport: vp,
		rendered: map[string]string{},
		live:     map[string]string{},
		convs:    backend.Conversations(),
		state:    backend.ConnectionState(),
		quota:    backend.QuotaStatus(ctx),
	}
	if cur, ok := backend.Current(); ok {
		m.currentID = cur.ID
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink}
	if m.events != nil {
		cmds = append(cmds, m.events.Wait())
	}
	return tea.Batch(cmds...)
}

func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return m.events.Wait()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(msg.Width)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-8, 3)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case submitDoneMsg:
		m.inFlight--
		m.quota = m.backend.QuotaStatus(m.ctx)
		switch {
		case errors.Is(msg.err, delivery.ErrQuotaExceeded):
			m.err = errors.New("daily limit reached: upgrade to pro for unlimited messages")
		case msg.err != nil:
			m.err = msg.err
		case msg.res.DeliveryErr != nil:
			m.err = msg.res.DeliveryErr
		default:
			m.err = nil
		}
		return m, nil

	case conversationsMsg:
		m.convs = msg.convs
		m.currentID = msg.currentID
		m.refresh()
		return m, m.waitForEvent()

	case frameMsg:
		if msg.Final {
			delete(m.live, msg.MessageID)
		} else {
			m.live[msg.MessageID] = msg.Text
		}
		if msg.ConversationID == m.currentID {
			m.refresh()
		}
		return m, m.waitForEvent()

	case connectionMsg:
		m.state = transport.State(msg)
		return m, m.waitForEvent()

	case typingMsg:
		m.typing = bool(msg)
		return m, m.waitForEvent()

	case quotaExceededMsg:
		m.quota = quota.Status(msg)
		return m, m.waitForEvent()

	case disconnectedMsg:
		m.notice = fmt.Sprintf("realtime channel gave up after %d attempts, using http", int(msg))
		return m, m.waitForEvent()

	case serverErrorMsg:
		m.notice = "server: " + string(msg)
		return m, m.waitForEvent()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.inFlight++
		m.err = nil
		backend, ctx := m.backend, m.ctx
		return m, func() tea.Msg {
			res, err := backend.Submit(ctx, text)
			return submitDoneMsg{res: res, err: err}
		}

	case "ctrl+n":
		if _, err := m.backend.CreateConversation(m.ctx); err != nil {
			m.err = err
		}
		m.syncFromBackend()
		return m, nil

	case "ctrl+d":
		if m.currentID != "" {
			if err := m.backend.DeleteConversation(m.ctx, m.currentID); err != nil {
				m.err = err
			}
		}
		m.syncFromBackend()
		return m, nil

	case "tab", "shift+tab":
		step := 1
		if msg.String() == "shift+tab" {
			step = -1
		}
		m.cycle(step)
		return m, nil

	case "ctrl+y":
		if reply, ok := m.lastReply(); ok {
			if err := clipboard.WriteAll(reply); err != nil {
				m.err = errors.Wrap(err, "copy to clipboard")
			} else {
				m.notice = "reply copied to clipboard"
			}
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// syncFromBackend pulls state directly; the queued events that follow carry
// the same data.
func (m *Model) syncFromBackend() {
	m.convs = m.backend.Conversations()
	if cur, ok := m.backend.Current(); ok {
		m.currentID = cur.ID
	}
	m.refresh()
}

func (m *Model) cycle(step int) {
	if len(m.convs) < 2 {
		return
	}
	idx := 0
	for i, c := range m.convs {
		if c.ID == m.currentID {
			idx = i
			break
		}
	}
	next := (idx + step + len(m.convs)) % len(m.convs)
	if _, err := m.backend.SelectConversation(m.convs[next].ID); err != nil {
		m.err = err
		return
	}
	m.syncFromBackend()
}

func (m Model) current() (chatstore.Conversation, bool) {
	for _, c := range m.convs {
		if c.ID == m.currentID {
			return c, true
		}
	}
	return chatstore.Conversation{}, false
}

func (m Model) lastReply() (string, bool) {
	cur, ok := m.current()
	if !ok {
		return "", false
	}
	for i := len(cur.Messages) - 1; i >= 0; i-- {
		if cur.Messages[i].Role == chatstore.RoleAssistant {
			return cur.Messages[i].Content, true
		}
	}
	return "", false
}

func (m *Model) renderMarkdown(msg chatstore.Message) string {
	width := max(m.viewport.Width-4, 20)
	if m.markdown == nil || m.mdWidth != width {
		r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(width))
		if err != nil {
			log.Warn().Err(err).Str("component", "tui").Msg("markdown renderer unavailable")
			return msg.Content
		}
		m.markdown, m.mdWidth = r, width
		m.rendered = map[string]string{}
	}
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	out, err := m.markdown.Render(msg.Content)
	if err != nil {
		return msg.Content
	}
	out = strings.TrimRight(out, "\n")
	m.rendered[msg.ID] = out
	return out
}

// Transcript is the plain-text body of the current conversation.
func (m *Model) Transcript() string {
	cur, ok := m.current()
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, msg := range cur.Messages {
		switch msg.Role {
		case chatstore.RoleUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
		default:
			b.WriteString(assistantStyle.Render("VoxAI"))
			b.WriteString("\n")
			if partial, animating := m.live[msg.ID]; animating {
				b.WriteString(partial)
				b.WriteString("▌")
			} else {
				b.WriteString(m.renderMarkdown(msg))
			}
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.Transcript())
	m.viewport.GotoBottom()
}

func (m Model) tabs() string {
	parts := make([]string, 0, len(m.convs))
	for _, c := range m.convs {
		title := c.Title
		if c.ID == m.currentID {
			parts = append(parts, activeTabStyle.Render(title))
		} else {
			parts = append(parts, tabStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) status() string {
	var parts []string
	parts = append(parts, "link: "+m.state.String())
	if m.quota.Unlimited {
		parts = append(parts, "pro")
	} else {
		parts = append(parts, fmt.Sprintf("%d/%d left today", m.quota.Remaining, m.quota.Limit))
	}
	if m.typing || m.inFlight > 0 {
		parts = append(parts, "VoxAI is typing...")
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	return statusStyle.Render(strings.Join(parts, " • "))
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("VoxAI"))
	b.WriteString("  ")
	b.WriteString(m.tabs())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.status())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(helpText))
	return b.String()
}
