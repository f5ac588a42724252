package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Emit(EventFunctionDeployed, "echo", map[string]string{"function_id": "fn1"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventFunctionDeployed, event.Type)
			assert.Equal(t, "echo", event.Message)
			assert.Equal(t, "fn1", event.Metadata["function_id"])
			assert.NotEmpty(t, event.ID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("event never delivered")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// The channel is closed on unsubscribe.
	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerSkipsFullSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	live := b.Subscribe()

	// Overflow the slow subscriber's buffer; delivery to others must not
	// block.
	for i := 0; i < cap(slow)+10; i++ {
		b.Emit(EventScheduleFired, "tick", nil)
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < cap(slow) {
		select {
		case <-live:
			received++
		case <-deadline:
			t.Fatalf("live subscriber stalled after %d events", received)
		}
	}
	assert.Len(t, slow, cap(slow))
}
