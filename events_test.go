package ivxp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversInRegistrationOrder(t *testing.T) {
	emitter := NewEventEmitter()
	var order []string
	emitter.On(EventOrderPaid, func(Event) { order = append(order, "first") })
	emitter.On(EventOrderPaid, func(Event) { order = append(order, "second") })

	emitter.Emit(EventOrderPaid, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmitterEventFields(t *testing.T) {
	emitter := NewEventEmitter()
	var got Event
	emitter.On(EventPaymentSent, func(evt Event) { got = evt })

	emitter.Emit(EventPaymentSent, "payload")

	assert.Equal(t, EventPaymentSent, got.Type)
	assert.Equal(t, "payload", got.Payload)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.ReceivedAt.IsZero())
}

func TestEmitterScopesByEventType(t *testing.T) {
	emitter := NewEventEmitter()
	calls := 0
	emitter.On(EventOrderPaid, func(Event) { calls++ })

	emitter.Emit(EventOrderQuoted, nil)
	assert.Equal(t, 0, calls)

	emitter.Emit(EventOrderPaid, nil)
	assert.Equal(t, 1, calls)
}

func TestEmitterPanicDoesNotStopLaterHandlers(t *testing.T) {
	emitter := NewEventEmitter()
	reached := false
	emitter.On(EventError, func(Event) { panic("handler exploded") })
	emitter.On(EventError, func(Event) { reached = true })

	require.NotPanics(t, func() { emitter.Emit(EventError, nil) })
	assert.True(t, reached)
}

func TestUnsubscribe(t *testing.T) {
	emitter := NewEventEmitter()
	calls := 0
	sub := emitter.On(EventOrderDelivered, func(Event) { calls++ })

	emitter.Emit(EventOrderDelivered, nil)
	sub.Unsubscribe()
	emitter.Emit(EventOrderDelivered, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, emitter.ListenerCount(EventOrderDelivered))

	// Repeated unsubscribe is a no-op.
	assert.NotPanics(t, func() { sub.Unsubscribe() })
}

func TestOffUnknownSubscriptionIsNoOp(t *testing.T) {
	emitter := NewEventEmitter()
	other := NewEventEmitter()
	sub := other.On(EventOrderPaid, func(Event) {})

	assert.NotPanics(t, func() { emitter.Off(sub) })
	assert.NotPanics(t, func() { emitter.Off(nil) })
}
