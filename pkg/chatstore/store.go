// Package chatstore owns the client's conversations and their messages.
//
// The Store keeps the ordered conversation list (newest first) and the
// "current" conversation, and writes the whole list to a kvstore.Store after
// every mutation. Loading tolerates missing or corrupt data by starting empty.
package chatstore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/idgen"
	"github.com/go-go-golems/voxchat/pkg/kvstore"
)

// KeyConversations is the kvstore key holding the serialized conversation list.
const KeyConversations = "chats"

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrInvalidRole = errors.New("invalid message role")
)

// Listener is notified after a mutation has been applied and persisted.
// Callbacks run without the store lock held.
type Listener interface {
	OnConversationsChanged(convs []Conversation, currentID string)
	OnMessageAppended(convID string, msg Message)
}

// Store holds the ordered conversation list, newest first, and the current
// selection. Every mutation is persisted to the kvstore under KeyConversations.
type Store struct {
	mu        sync.Mutex
	kv        kvstore.Store
	ids       *idgen.Generator
	now       func() time.Time
	listener  Listener
	convs     []*Conversation
	currentID string
}

// Option configures a Store at Open.
type Option func(*Store)

// WithIDGenerator shares an id generator, e.g. with the identity store.
func WithIDGenerator(g *idgen.Generator) Option {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithListener registers the mutation listener.
func WithListener(l Listener) Option {
	return func(s *Store) { s.listener = l }
}

// Open loads the persisted conversation list from kv and heals the current
// conversation invariant: the front conversation becomes current, or a new one
// is created when nothing was stored. When persisting that new conversation
// fails, the usable store is returned together with the error.
func Open(ctx context.Context, kv kvstore.Store, opts ...Option) (*Store, error) {
	if kv == nil {
		kv = kvstore.NewMemory()
	}
	s := &Store{
		kv:  kv,
		ids: idgen.New(),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var loaded []*Conversation
	err := kvstore.GetJSON(ctx, kv, KeyConversations, &loaded)
	switch {
	case err == nil:
	case errors.Is(err, kvstore.ErrNotFound):
		loaded = nil
	default:
		log.Warn().Err(err).Str("component", "chatstore").Msg("persisted conversations unreadable, starting empty")
		loaded = nil
	}

	for _, c := range loaded {
		if c == nil || c.ID == "" {
			continue
		}
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		s.ids.Observe(c.ID)
		for _, m := range c.Messages {
			s.ids.Observe(m.ID)
		}
		s.convs = append(s.convs, c)
	}

	s.mu.Lock()
	var persistErr error
	if len(s.convs) == 0 {
		s.createLocked()
		persistErr = s.persistLocked(ctx)
	} else {
		s.currentID = s.convs[0].ID
	}
	s.mu.Unlock()

	log.Debug().Str("component", "chatstore").Int("conversations", len(s.convs)).Msg("conversation store opened")
	return s, persistErr
}

// SetListener replaces the mutation listener.
func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// CreateConversation starts an empty conversation at the front of the list and
// makes it current.
func (s *Store) CreateConversation(ctx context.Context) (Conversation, error) {
	s.mu.Lock()
	c := s.createLocked()
	err := s.persistLocked(ctx)
	snap, cur, l := s.snapshotLocked(), s.currentID, s.listener
	created := c.clone()
	s.mu.Unlock()

	if l != nil {
		l.OnConversationsChanged(snap, cur)
	}
	return created, err
}

func (s *Store) createLocked() *Conversation {
	c := &Conversation{
		ID:        s.ids.Next(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: s.now().UTC(),
	}
	s.convs = append([]*Conversation{c}, s.convs...)
	s.currentID = c.ID
	return c
}

// SelectConversation makes id current. On ErrNotFound nothing changes.
func (s *Store) SelectConversation(id string) (Conversation, error) {
	s.mu.Lock()
	c := s.findLocked(id)
	if c == nil {
		s.mu.Unlock()
		return Conversation{}, errors.Wrapf(ErrNotFound, "select %q", id)
	}
	s.currentID = c.ID
	selected := c.clone()
	snap, l := s.snapshotLocked(), s.listener
	s.mu.Unlock()

	if l != nil {
		l.OnConversationsChanged(snap, selected.ID)
	}
	return selected, nil
}

// AppendMessage adds a message to convID, or to the current conversation when
// convID is empty. The first user message of a conversation sets its title.
func (s *Store) AppendMessage(ctx context.Context, convID string, role Role, content string) (Message, error) {
	_, msg, err := s.appendMessage(ctx, convID, role, content)
	return msg, err
}

// AppendToCurrent appends to the current conversation, creating one when
// needed, and reports which conversation received the message.
func (s *Store) AppendToCurrent(ctx context.Context, role Role, content string) (string, Message, error) {
	return s.appendMessage(ctx, "", role, content)
}

func (s *Store) appendMessage(ctx context.Context, convID string, role Role, content string) (string, Message, error) {
	if !role.Valid() {
		return "", Message{}, errors.Wrapf(ErrInvalidRole, "%q", role)
	}

	s.mu.Lock()
	if convID == "" {
		convID = s.currentID
		if convID == "" || s.findLocked(convID) == nil {
			convID = s.createLocked().ID
		}
	}
	c := s.findLocked(convID)
	if c == nil {
		s.mu.Unlock()
		return "", Message{}, errors.Wrapf(ErrNotFound, "append to %q", convID)
	}

	msg := Message{
		ID:        s.ids.Next(),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	c.Messages = append(c.Messages, msg)
	if len(c.Messages) == 1 && role == RoleUser {
		c.Title = DeriveTitle(content)
	}
	err := s.persistLocked(ctx)
	snap, cur, l := s.snapshotLocked(), s.currentID, s.listener
	s.mu.Unlock()

	if l != nil {
		l.OnMessageAppended(convID, msg)
		l.OnConversationsChanged(snap, cur)
	}
	return convID, msg, err
}

// DeleteConversation removes id. When it was current, the new front becomes
// current, or a fresh conversation is created if the list is now empty.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := -1
	for i, c := range s.convs {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "delete %q", id)
	}
	s.convs = append(s.convs[:idx], s.convs[idx+1:]...)
	if s.currentID == id {
		s.healCurrentLocked()
	}
	err := s.persistLocked(ctx)
	snap, cur, l := s.snapshotLocked(), s.currentID, s.listener
	s.mu.Unlock()

	if l != nil {
		l.OnConversationsChanged(snap, cur)
	}
	return err
}

// Clear drops every conversation and starts a fresh one.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.convs = nil
	s.currentID = ""
	s.healCurrentLocked()
	err := s.persistLocked(ctx)
	snap, cur, l := s.snapshotLocked(), s.currentID, s.listener
	s.mu.Unlock()

	if l != nil {
		l.OnConversationsChanged(snap, cur)
	}
	return err
}

func (s *Store) healCurrentLocked() {
	if len(s.convs) == 0 {
		s.createLocked()
		return
	}
	s.currentID = s.convs[0].ID
}

// List returns a deep copy of all conversations, newest first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns a copy of conversation id, or ErrNotFound.
func (s *Store) Get(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findLocked(id)
	if c == nil {
		return Conversation{}, errors.Wrapf(ErrNotFound, "get %q", id)
	}
	return c.clone(), nil
}

// Current returns a copy of the selected conversation.
func (s *Store) Current() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findLocked(s.currentID)
	if c == nil {
		return Conversation{}, false
	}
	return c.clone(), true
}

func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *Store) findLocked(id string) *Conversation {
	if id == "" {
		return nil
	}
	for _, c := range s.convs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) snapshotLocked() []Conversation {
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.clone())
	}
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := kvstore.PutJSON(ctx, s.kv, KeyConversations, s.convs); err != nil {
		log.Error().Err(err).Str("component", "chatstore").Msg("failed to persist conversations")
		return errors.Wrap(err, "persist conversations")
	}
	return nil
}
