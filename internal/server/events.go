package server

import (
	"sync"

	"ragcore/internal/logging"
	"ragcore/internal/orchestrator"
)

// Event is one notification delivered to SSE subscribers.
type Event struct {
	Name      string `json:"-"`
	SessionID string `json:"session_id"`
	// Label is set for thinking steps, Token for streamed tokens.
	Label string `json:"label,omitempty"`
	Token string `json:"token,omitempty"`
}

// Broadcaster fans notifications out to every connected subscriber. It
// implements types.Notifier and never blocks the publisher: a subscriber
// whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]string // subscriber -> session filter, "" for all
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer
// events each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broadcaster{subs: make(map[chan Event]string), buffer: buffer}
}

// ThinkingStep publishes a progress label for sessionID.
func (b *Broadcaster) ThinkingStep(sessionID, label string) {
	b.publish(Event{Name: "thinking", SessionID: sessionID, Label: label})
}

// ChatToken publishes one streamed token for sessionID.
func (b *Broadcaster) ChatToken(sessionID, token string) {
	b.publish(Event{Name: orchestrator.EventChatToken, SessionID: sessionID, Token: token})
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, session := range b.subs {
		if session != "" && session != ev.SessionID {
			continue
		}
		select {
		case ch <- ev:
		default:
			logging.APIDebug("Dropping %s event for slow subscriber", ev.Name)
		}
	}
}

// Subscribe registers a subscriber for the events of sessionID, or of every
// session when sessionID is empty. The returned cancel function unregisters
// it; the channel is never closed.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = sessionID
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// Subscribers returns the number of connected subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
