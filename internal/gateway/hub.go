package gateway

import (
	"sync"

	"github.com/fokuslabs/focusgate/internal/feed"
)

// Hub fans committed mutations out to websocket subscribers. Publishing
// holds the hub lock, so subscribers on one topic observe events in the
// order they were published, which the server arranges to be commit order.
type Hub struct {
	mu     sync.Mutex
	nextID int
	topics map[string]map[int]chan feed.Event
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[int]chan feed.Event)}
}

// Subscribe registers a consumer for one topic. The returned cancel closes
// the channel; a consumer that is no longer read must be cancelled or it
// starts losing events once its buffer fills.
func (h *Hub) Subscribe(topic string) (<-chan feed.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan feed.Event, 64)
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[int]chan feed.Event)
	}
	h.topics[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.topics[topic], id)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of topic. Sends never block; a
// subscriber whose buffer is full misses the event and recovers via the
// reset-and-reconcile path on its next reconnect.
func (h *Hub) Publish(topic string, ev feed.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.topics[topic] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current consumer count for a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
