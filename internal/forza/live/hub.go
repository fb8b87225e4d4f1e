// Package live keeps the most recent telemetry frame and fans frames out to
// subscribers such as websocket clients.
package live

import (
	"sync"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
)

// Hub is a network.Sink that remembers the latest frame and broadcasts each
// frame to subscribers. A subscriber that is not keeping up misses frames;
// the hub never blocks the ingest path.
type Hub struct {
	mu      sync.RWMutex
	latest  *network.Frame
	subs    map[chan network.Frame]struct{}
	skipped int64
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan network.Frame]struct{})}
}

func (h *Hub) HandleFrame(f network.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	latest := f
	h.latest = &latest
	for ch := range h.subs {
		select {
		case ch <- f:
		default:
			h.skipped++
		}
	}
}

// Latest returns the most recent frame, if any.
func (h *Hub) Latest() (network.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return network.Frame{}, false
	}
	return *h.latest, true
}

// Subscribe registers a subscriber with the given channel buffer. The returned
// cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan network.Frame, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan network.Frame, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Skipped returns how many frames were not delivered to slow subscribers.
func (h *Hub) Skipped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.skipped
}
