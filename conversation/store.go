// Package conversation holds multi-turn conversation state and persists it through pluggable sinks.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klejdi94/relay/core"
	"github.com/rs/zerolog"
)

// DefaultTitle is the title of a conversation until its first user message.
const DefaultTitle = "New conversation"

// titleRunes is the length of a derived title before the ellipsis.
const titleRunes = 30

// Sink persists the full set of conversations.
type Sink interface {
	LoadSnapshot(ctx context.Context) (map[string]core.Conversation, error)
	SaveSnapshot(ctx context.Context, snapshot map[string]core.Conversation) error
}

// Store is the in-memory conversation state. Every mutation writes the whole
// snapshot through the sink; sink failures are logged and never returned.
// Callers always receive copies.
type Store struct {
	mu       sync.Mutex
	convs    map[string]*core.Conversation
	activeID string

	sink  Sink
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the conversation id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore loads the sink's snapshot and makes the most recently updated
// conversation active. A nil sink keeps state in memory only.
func NewStore(ctx context.Context, sink Sink, opts ...Option) (*Store, error) {
	if sink == nil {
		sink = NewMemorySink()
	}
	s := &Store{
		convs: make(map[string]*core.Conversation),
		sink:  sink,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	snap, err := sink.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: load snapshot: %w", err)
	}
	for id, c := range snap {
		c := c.Copy()
		if c.ID == "" {
			c.ID = id
		}
		if !c.TitleFixed && (c.HasUserMessage() || c.Title != DefaultTitle) {
			c.TitleFixed = true
		}
		s.convs[c.ID] = &c
	}
	s.activeID = s.mostRecentLocked()
	return s, nil
}

// Create starts a new conversation, makes it active and returns its id.
func (s *Store) Create(ctx context.Context, model, providerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, model, providerID)
}

// ActiveOrCreate returns the active conversation id, creating and activating
// a new conversation when none is active. created reports which happened.
func (s *Store) ActiveOrCreate(ctx context.Context, model, providerID string) (id string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[s.activeID]; ok {
		return s.activeID, false
	}
	return s.createLocked(ctx, model, providerID), true
}

func (s *Store) createLocked(ctx context.Context, model, providerID string) string {
	now := s.now()
	c := &core.Conversation{
		ID:         s.newID(),
		Title:      DefaultTitle,
		Messages:   []core.Message{},
		Model:      model,
		ProviderID: providerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.convs[c.ID] = c
	s.activeID = c.ID
	s.persistLocked(ctx)
	return c.ID
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (core.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[s.activeID]
	if !ok {
		return core.Conversation{}, false
	}
	return c.Copy(), true
}

// ActiveID returns the active conversation id, or "" when none is active.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActive makes id the active conversation. It returns false for unknown ids.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return false
	}
	s.activeID = id
	return true
}

// Get returns a copy of the conversation with id.
func (s *Store) Get(id string) (core.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return core.Conversation{}, false
	}
	return c.Copy(), true
}

// AppendMessage appends msg to the active conversation. It returns false when
// no conversation is active.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, s.activeID, msg)
}

// AppendTo appends msg to the conversation with id, active or not.
func (s *Store) AppendTo(ctx context.Context, id string, msg core.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, id, msg)
}

func (s *Store) appendLocked(ctx context.Context, id string, msg core.Message) bool {
	c, ok := s.convs[id]
	if !ok {
		return false
	}
	now := s.now()
	msg.Timestamp = now
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	if msg.Role == core.RoleUser && !c.TitleFixed {
		c.TitleFixed = true
		if msg.Content != "" {
			c.Title = deriveTitle(msg.Content)
		}
	}
	s.persistLocked(ctx)
	return true
}

// deriveTitle keeps the first 30 runes of content, adding "..." when it was longer.
func deriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	r := []rune(content)
	return string(r[:titleRunes]) + "..."
}

// UpdateTitle renames the active conversation.
func (s *Store) UpdateTitle(ctx context.Context, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[s.activeID]
	if !ok {
		return false
	}
	c.Title = title
	c.TitleFixed = true
	c.UpdatedAt = s.now()
	s.persistLocked(ctx)
	return true
}

// Delete removes the conversation with id. Deleting the active conversation
// activates the most recently updated remaining one, if any.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return false
	}
	delete(s.convs, id)
	if s.activeID == id {
		s.activeID = s.mostRecentLocked()
	}
	s.persistLocked(ctx)
	return true
}

// ClearAll removes every conversation.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]*core.Conversation)
	s.activeID = ""
	s.persistLocked(ctx)
}

// List returns copies of all conversations, most recently updated first.
func (s *Store) List() []core.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Copy())
	}
	sortByRecency(out)
	return out
}

func sortByRecency(cs []core.Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].UpdatedAt.Equal(cs[j].UpdatedAt) {
			return cs[i].UpdatedAt.After(cs[j].UpdatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func (s *Store) mostRecentLocked() string {
	var best *core.Conversation
	for _, c := range s.convs {
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) ||
			(c.UpdatedAt.Equal(best.UpdatedAt) && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func (s *Store) persistLocked(ctx context.Context) {
	snap := make(map[string]core.Conversation, len(s.convs))
	for id, c := range s.convs {
		snap[id] = c.Copy()
	}
	if err := s.sink.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		s.log.Error().Err(err).Int("conversations", len(snap)).Msg("persist conversations")
	}
}
