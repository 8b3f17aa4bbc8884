// Package chat provides a mutable conversation container.
package chat

import (
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
)

// Chat is a mutable conversation container. The zero value is ready to use.
// Chat is not safe for concurrent use; callers must synchronize externally.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with the given messages.
func New(msgs ...message.Message) *Chat {
	return &Chat{messages: msgs}
}

// Append adds one or more messages to the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index]
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// Each iterates over messages, calling fn for each one. If fn returns false,
// iteration stops early.
func (c *Chat) Each(fn func(int, message.Message) bool) {
	for i, m := range c.messages {
		if !fn(i, m) {
			return
		}
	}
}

// SystemPrompt returns the text of the first system message, or "" if there
// is none.
func (c *Chat) SystemPrompt() string {
	for _, m := range c.messages {
		if m.Role == role.System {
			return m.TextContent()
		}
	}
	return ""
}

// Truncate drops every message after the first n. It is a no-op when the
// chat holds n messages or fewer.
func (c *Chat) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(c.messages) {
		return
	}
	clear(c.messages[n:])
	c.messages = c.messages[:n]
}

// Reset drops every message except the system prompt, keeping the persona of
// an interactive session while forgetting its history.
func (c *Chat) Reset() {
	var kept []message.Message
	for _, m := range c.messages {
		if m.Role == role.System {
			kept = append(kept, m)
		}
	}
	c.messages = kept
}
