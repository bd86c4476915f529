// Package chat drives one user turn end to end: it appends the prompt to the
// conversation store, streams the completion through the gateway, forwards
// progress to the UI and records the final reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/klejdi94/relay/conversation"
	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"github.com/rs/zerolog"
)

// ErrBusy is returned when a conversation already has a response streaming.
var ErrBusy = errors.New("a response is already streaming for this conversation")

// Command names a UI event.
type Command string

const (
	CommandAddMessage           Command = "addMessage"
	CommandStartResponse        Command = "startResponse"
	CommandUpdateResponse       Command = "updateResponse"
	CommandResponseComplete     Command = "responseComplete"
	CommandError                Command = "error"
	CommandConversationCreated  Command = "conversationCreated"
	CommandConversationSwitched Command = "conversationSwitched"
	CommandConversationDeleted  Command = "conversationDeleted"
	CommandConversationUpdated  Command = "conversationUpdated"
	CommandConversationsUpdated Command = "conversationsUpdated"
)

// Event is one message to the UI. Content carries the cumulative response text.
type Event struct {
	Command        Command             `json:"command"`
	ConversationID string              `json:"conversationId,omitempty"`
	Message        *core.Message       `json:"message,omitempty"`
	Content        string              `json:"content,omitempty"`
	Error          string              `json:"error,omitempty"`
	Cancelled      bool                `json:"cancelled,omitempty"`
	Conversations  []core.Conversation `json:"conversations,omitempty"`
	Active         *core.Conversation  `json:"activeConversation,omitempty"`
}

// Emitter delivers events to the UI.
type Emitter func(Event)

// Streamer opens completion streams (satisfied by *gateway.Gateway).
type Streamer interface {
	Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error)
}

// Orchestrator serializes turns per conversation. Turns in different
// conversations run independently.
type Orchestrator struct {
	gw    Streamer
	store *conversation.Store
	log   zerolog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an orchestrator over gw and store.
func New(gw Streamer, store *conversation.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{gw: gw, store: store, log: zerolog.Nop(), inflight: make(map[string]context.CancelFunc)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func nopEmit(Event) {}

func (o *Orchestrator) snapshot(cmd Command, id string) Event {
	ev := Event{Command: cmd, ConversationID: id, Conversations: o.store.List()}
	if c, ok := o.store.Active(); ok {
		ev.Active = &c
	}
	return ev
}

func (o *Orchestrator) acquire(id string, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = cancel
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}

// Busy reports whether conversation id has a response streaming.
func (o *Orchestrator) Busy(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[id]
	return ok
}

// Cancel stops the response streaming for conversation id.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.inflight[id]
	if ok {
		cancel()
	}
	return ok
}

// Send runs one turn in the active conversation, creating one first if none is
// active. The reply is appended to the conversation the turn started in, even
// if the user switches away meanwhile. Cancelled and failed turns record no reply.
func (o *Orchestrator) Send(ctx context.Context, text, model, providerID string, emit Emitter) error {
	if emit == nil {
		emit = nopEmit
	}
	id, created := o.store.ActiveOrCreate(ctx, model, providerID)
	if created {
		emit(o.snapshot(CommandConversationCreated, id))
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.acquire(id, cancel) {
		return ErrBusy
	}
	defer o.release(id)

	userMsg := core.Message{Role: core.RoleUser, Content: text}
	o.store.AppendTo(ctx, id, userMsg)
	emit(Event{Command: CommandAddMessage, ConversationID: id, Message: &userMsg})
	emit(Event{Command: CommandStartResponse, ConversationID: id})

	reply, err := o.stream(turnCtx, id, core.NewRequest(providerID, model, text), emit)
	if err != nil {
		if core.IsCancelled(err) {
			o.log.Info().Str("conversation", id).Msg("response cancelled")
			emit(Event{Command: CommandResponseComplete, ConversationID: id, Cancelled: true})
			return err
		}
		o.log.Error().Err(err).Str("conversation", id).Str("provider", providerID).Msg("response failed")
		emit(Event{Command: CommandError, ConversationID: id, Error: fmt.Sprintf("Failed to generate response: %v", err)})
		return err
	}

	o.store.AppendTo(ctx, id, core.Message{Role: core.RoleAssistant, Content: reply})
	emit(o.snapshot(CommandConversationsUpdated, id))
	emit(Event{Command: CommandResponseComplete, ConversationID: id, Content: reply})
	return nil
}

func (o *Orchestrator) stream(ctx context.Context, id string, req core.CompletionRequest, emit Emitter) (string, error) {
	s, err := o.gw.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer s.Close()
	for s.Next() {
		d := s.Current()
		emit(Event{Command: CommandUpdateResponse, ConversationID: id, Content: d.Text})
		if d.Final {
			return d.Text, nil
		}
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return "", core.ErrIncompleteStream
}

// NewConversation creates and activates a conversation.
func (o *Orchestrator) NewConversation(ctx context.Context, model, providerID string, emit Emitter) string {
	id := o.store.Create(ctx, model, providerID)
	if emit != nil {
		emit(o.snapshot(CommandConversationCreated, id))
	}
	return id
}

// SwitchConversation activates conversation id.
func (o *Orchestrator) SwitchConversation(id string, emit Emitter) bool {
	if !o.store.SetActive(id) {
		return false
	}
	if emit != nil {
		emit(o.snapshot(CommandConversationSwitched, id))
	}
	return true
}

// DeleteConversation cancels any response streaming for id and deletes it.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string, emit Emitter) bool {
	o.Cancel(id)
	if !o.store.Delete(ctx, id) {
		return false
	}
	if emit != nil {
		emit(o.snapshot(CommandConversationDeleted, id))
	}
	return true
}

// RenameConversation sets the active conversation's title.
func (o *Orchestrator) RenameConversation(ctx context.Context, title string, emit Emitter) bool {
	if !o.store.UpdateTitle(ctx, title) {
		return false
	}
	if emit != nil {
		emit(o.snapshot(CommandConversationUpdated, o.store.ActiveID()))
	}
	return true
}
