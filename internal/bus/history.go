package bus

import (
	"strings"
	"sync"
	"time"
)

// history is a bounded ring buffer of published events, queryable for
// debugging and for slow-moving context reconstruction.
type history struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	count int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{ring: make([]Event, capacity)}
}

func (h *history) add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// snapshot returns retained events in publish order, oldest first.
func (h *history) snapshot() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, 0, h.count)
	start := h.next - h.count
	if start < 0 {
		start += len(h.ring)
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}

// query filters retained events. Empty type and prefix match everything; a
// zero since matches any timestamp.
func (h *history) query(eventType, prefix string, since time.Time) []Event {
	events := h.snapshot()
	out := events[:0]
	for _, e := range events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if prefix != "" && !strings.HasPrefix(e.Type, prefix) {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}
