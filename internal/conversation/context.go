// Package conversation holds the per-session LLM context shared by the
// user and assistant aggregators.
package conversation

import (
	"strings"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of the context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type entry struct {
	role Role
	text strings.Builder
}

// Context is an ordered list of messages. Entries can be reserved before their
// text is known, which keeps turn order fixed at the moment the turn ends.
type Context struct {
	mu      sync.Mutex
	entries []*entry
}

// NewContext seeds a context with the given messages in order.
func NewContext(msgs ...Message) *Context {
	c := &Context{}
	for _, m := range msgs {
		c.Add(m)
	}
	return c
}

// Add appends a complete message.
func (c *Context) Add(m Message) {
	e := &entry{role: m.Role}
	e.text.WriteString(m.Content)
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Reserve appends an empty entry for role and returns a handle to fill it.
// Empty entries are left out of Messages.
func (c *Context) Reserve(role Role) *Slot {
	e := &entry{role: role}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
	return &Slot{c: c, e: e}
}

// Messages returns the non-empty messages in insertion order.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.entries))
	for _, e := range c.entries {
		txt := strings.TrimSpace(e.text.String())
		if txt == "" {
			continue
		}
		out = append(out, Message{Role: e.role, Content: txt})
	}
	return out
}

// Slot is a reserved context entry.
type Slot struct {
	c *Context
	e *entry
}

// Append adds text to the reserved entry.
func (s *Slot) Append(text string) {
	if s == nil || text == "" {
		return
	}
	s.c.mu.Lock()
	s.e.text.WriteString(text)
	s.c.mu.Unlock()
}

// Text returns the current content of the slot.
func (s *Slot) Text() string {
	if s == nil {
		return ""
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return strings.TrimSpace(s.e.text.String())
}
