package fieldsync

import (
	"sync"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 16

// Hub fans change events out to in-process subscribers (websocket bridges,
// dashboards, tests). Delivery is best effort: a subscriber that stops
// draining its channel loses events rather than stalling sync writes, and
// consumers that need a gapless feed use the pull endpoint instead.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan ChangeEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away; the channel is closed by cancel, never by
// Publish.
func (h *Hub) Subscribe() (<-chan ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan ChangeEvent, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish never blocks. Events dropped on a full subscriber buffer are
// logged; subscribers deduplicate by (serverId, serverVersion) so a later
// pull reconciles them.
func (h *Hub) Publish(event ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			config.GetLogger().WithFields(logrus.Fields{
				"module":     syncModule,
				"subscriber": id,
				"serverId":   event.ServerId,
			}).Warn("slow subscriber, change event dropped")
		}
	}
}
