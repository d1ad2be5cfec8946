package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub broadcasts run events to in-process subscribers (live feed sockets).
// A subscriber whose buffer is full misses the event rather than stalling the pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan RunEvent
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan RunEvent)}
}

// Subscribe returns the event stream and a cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan RunEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan RunEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ctx context.Context, evt RunEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			log.Warn().Int("subscriber", id).Str("run_id", evt.RunID).Msg("live feed subscriber lagging, event dropped")
		}
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
