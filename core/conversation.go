package core

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single entry in a conversation. Messages are never mutated once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered exchange of messages with one model.
type Conversation struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages"`
	Model      string    `json:"model"`
	ProviderID string    `json:"provider"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// TitleFixed is set once the title was derived from the first user
	// message or renamed; later messages never change it.
	TitleFixed bool `json:"title_fixed,omitempty"`
}

// HasUserMessage reports whether any message in c was written by the user.
func (c *Conversation) HasUserMessage() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// Copy returns a copy of the conversation that shares no message storage with c.
func (c *Conversation) Copy() Conversation {
	q := *c
	q.Messages = append([]Message(nil), c.Messages...)
	return q
}
