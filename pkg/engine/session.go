package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/content"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/modeladapter"
)

// Streamer is a Completer that can deliver the reply in pieces.
type Streamer interface {
	Stream(ctx context.Context, c *chat.Chat, onChunk func(string)) (message.Message, error)
}

// Session is one interactive conversation with a provider. Unlike agents it
// keeps the chat history between turns. Only one Send call may be active at
// a time.
type Session struct {
	id        string
	provider  string
	completer modeladapter.Completer
	streamer  Streamer
	chat      *chat.Chat
	events    *EventBus

	mu     sync.Mutex
	active bool
}

// newSession creates a session. A system prompt, when given, opens the chat.
func newSession(id, provider string, c modeladapter.Completer, s Streamer, system string, events *EventBus) *Session {
	ch := chat.New()
	if system != "" {
		ch.Append(message.NewText("", role.System, system))
	}

	return &Session{
		id:        id,
		provider:  provider,
		completer: c,
		streamer:  s,
		chat:      ch,
		events:    events,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Provider returns the name of the provider the session talks to.
func (s *Session) Provider() string { return s.provider }

// Chat returns the underlying chat. It must not be read while a Send is
// active.
func (s *Session) Chat() *chat.Chat { return s.chat }

// Send appends a text message from the user and returns the reply. When the
// provider can stream, each piece is published as an EventChunk.
func (s *Session) Send(ctx context.Context, text string) (message.Message, error) {
	return s.SendParts(ctx, content.Text{Text: text})
}

// SendParts appends a user message with the given parts and returns the
// reply. A failed call leaves the user message out of the history.
func (s *Session) SendParts(ctx context.Context, parts ...content.Part) (message.Message, error) {
	if err := s.acquire(); err != nil {
		return message.Message{}, err
	}
	defer s.release()

	s.publish(EventAgentStart, nil)

	before := s.chat.Len()
	s.chat.Append(message.New("user", role.User, parts...))

	var (
		reply message.Message
		err   error
	)
	if s.streamer != nil {
		reply, err = s.streamer.Stream(ctx, s.chat, func(chunk string) {
			s.publish(EventChunk, chunk)
		})
	} else {
		reply, err = s.completer.Complete(ctx, s.chat)
	}

	if err != nil {
		s.chat.Truncate(before)

		s.publish(EventError, err)
		s.publish(EventAgentEnd, nil)
		return message.Message{}, err
	}

	if reply.Role == "" {
		reply.Role = role.Assistant
	}
	s.chat.Append(reply)

	s.publish(EventMessageAdded, reply)
	s.publish(EventAgentEnd, nil)

	return reply, nil
}

// Reset forgets the conversation, keeping the system prompt.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chat.Reset()
}

func (s *Session) publish(kind EventKind, data any) {
	s.events.Publish(Event{Kind: kind, SessionID: s.id, Agent: s.provider, Data: data})
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("engine: session %s: another Send is already active", s.id)
	}
	s.active = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
}
