package provider

import (
	"sync"

	"github.com/gin-contrib/sse"

	"github.com/ivxp/ivxp-go/wire"
)

// streamEvent is one rendered status stream event plus its terminality.
type streamEvent struct {
	name     string
	status   wire.StreamStatus
	terminal bool
}

// streamHub fans order status changes out to any open event streams.
type streamHub struct {
	mu   sync.Mutex
	subs map[string]map[chan streamEvent]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[string]map[chan streamEvent]struct{})}
}

// subscribe opens a stream on orderID. The returned cancel must be called
// exactly once; it is safe to call after the hub closed the channel.
func (h *streamHub) subscribe(orderID string) (<-chan streamEvent, func()) {
	ch := make(chan streamEvent, 8)

	h.mu.Lock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[chan streamEvent]struct{})
	}
	h.subs[orderID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[orderID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, orderID)
			}
		}
	}
	return ch, cancel
}

// publish delivers one event to every open stream on orderID. Slow consumers
// with a full buffer are skipped rather than blocking order processing.
func (h *streamHub) publish(orderID, name string, status wire.StreamStatus) {
	terminal := name == wire.SSEEventCompleted || name == wire.SSEEventFailed

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[orderID] {
		select {
		case ch <- streamEvent{name: name, status: status, terminal: terminal}:
		default:
		}
	}
	if terminal {
		delete(h.subs, orderID)
	}
}

// render converts the event to the gin-contrib/sse wire form.
func (e streamEvent) render() sse.Event {
	return sse.Event{Event: e.name, Data: e.status}
}
