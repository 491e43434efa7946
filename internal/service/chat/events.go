package chat

import (
	"log"
	"sync"

	"github.com/zhouzirui/soulbuddy/companion/internal/model/chat"
)

// EventKind names what changed in a conversation.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventState   EventKind = "state"
	EventStatus  EventKind = "status"
)

// Event is pushed to live subscribers of a conversation.
type Event struct {
	Kind           EventKind     `json:"kind"`
	ConversationID string        `json:"conversationId"`
	Message        *chat.Message `json:"message,omitempty"`
	State          chat.State    `json:"state,omitempty"`
	Status         string        `json:"status,omitempty"`
}

// Hub fans conversation events out to subscribers. Publishing never blocks:
// a full subscriber queue drops its oldest event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber queues hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers for events of conversationID. Call the returned func
// to unsubscribe; the channel is closed afterwards.
func (h *Hub) Subscribe(conversationID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[chan Event]struct{})
	}
	h.subs[conversationID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[conversationID], ch)
			if len(h.subs[conversationID]) == 0 {
				delete(h.subs, conversationID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber of its conversation.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.ConversationID] {
		select {
		case ch <- ev:
			continue
		default:
		}

		// queue full: drop the oldest event and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
			log.Printf("[events] dropped %s event for %s", ev.Kind, ev.ConversationID)
		}
	}
}

// Subscribers reports how many listeners a conversation has.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
