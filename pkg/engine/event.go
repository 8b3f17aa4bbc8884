package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventAgentStart    EventKind = "agent_start"    // Data: the input.
	EventAgentEnd      EventKind = "agent_end"      // Data: the answer.
	EventRouteSelected EventKind = "route_selected" // Data: the float64 score.
	EventMessageAdded  EventKind = "message_added"  // Data: the session reply.
	EventChunk         EventKind = "chunk"          // Data: a streamed string piece.
	EventQARun         EventKind = "qa_run"         // Data: the qaplan.Result.
	EventError         EventKind = "error"          // Data: the error.
)

// Event is an immutable notification of engine activity.
type Event struct {
	Kind      EventKind
	SessionID string // Empty for agent, route and QA events.
	Agent     string // Agent name, or provider name for session events.
	Timestamp time.Time
	Data      any
}

// Subscription receives events from an EventBus.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	kinds   map[EventKind]struct{}
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(k EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// EventBus fans out events to all active subscribers. It is safe for
// concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe creates a subscription with the given channel buffer size that
// receives the listed kinds, or every kind when none is listed. The caller
// reads from sub.C and eventually calls Unsubscribe.
func (b *EventBus) Subscribe(bufSize int, kinds ...EventKind) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel. Events still
// buffered remain readable.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish sends an event to every interested subscriber, stamping the time
// when unset. A subscriber whose buffer is full misses the event; publishing
// never blocks a model call.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}
