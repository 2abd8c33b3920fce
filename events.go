package ivxp

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an in-process protocol event.
type EventType string

const (
	EventOrderQuoted        EventType = "order.quoted"
	EventOrderPaid          EventType = "order.paid"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderDelivered     EventType = "order.delivered"
	EventOrderConfirmed     EventType = "order.confirmed"
	EventPaymentSent        EventType = "payment.sent"
	EventPaymentConfirmed   EventType = "payment.confirmed"
	EventDeliveryReceived   EventType = "delivery.received"
	EventDeliveryRejected   EventType = "delivery.rejected"
	EventSSEFallback        EventType = "sse_fallback"
	EventError              EventType = "error"
)

// Event is an in-process notification for client UI and inspection.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Payload    interface{} `json:"payload"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// EventHandler consumes one event.
type EventHandler func(Event)

// EventEmitter is a typed in-process event bus. Handlers for an event run in
// registration order; a panicking handler never stops later handlers and
// never propagates to the emitting operation.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]*registration
}

type registration struct {
	fn EventHandler
}

// NewEventEmitter creates an empty emitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{handlers: make(map[EventType][]*registration)}
}

// On registers handler for event and returns a token for Off.
func (e *EventEmitter) On(event EventType, handler EventHandler) *Subscription {
	reg := &registration{fn: handler}
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], reg)
	e.mu.Unlock()
	return &Subscription{emitter: e, event: event, reg: reg}
}

// Off removes a previously registered subscription. Removing one that was
// never registered (or already removed) is a no-op.
func (e *EventEmitter) Off(sub *Subscription) {
	if sub == nil || sub.reg == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.handlers[sub.event]
	for i, reg := range regs {
		if reg == sub.reg {
			e.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	// Reclaim the map entry when the last handler goes away.
	if len(e.handlers[sub.event]) == 0 {
		delete(e.handlers, sub.event)
	}
	sub.reg = nil
}

// Emit delivers payload to every handler registered for event.
func (e *EventEmitter) Emit(event EventType, payload interface{}) {
	e.mu.RLock()
	regs := make([]*registration, len(e.handlers[event]))
	copy(regs, e.handlers[event])
	e.mu.RUnlock()

	evt := Event{
		ID:         uuid.NewString(),
		Type:       event,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	for _, reg := range regs {
		e.invoke(reg.fn, evt)
	}
}

// ListenerCount reports the number of handlers registered for event.
func (e *EventEmitter) ListenerCount(event EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[event])
}

func (e *EventEmitter) invoke(fn EventHandler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panic event=%s: %v", evt.Type, r)
		}
	}()
	fn(evt)
}

// Subscription identifies one registered handler.
type Subscription struct {
	emitter *EventEmitter
	event   EventType
	reg     *registration
}

// Unsubscribe detaches the handler; safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.emitter != nil {
		s.emitter.Off(s)
	}
}
