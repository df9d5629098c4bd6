package fanout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
	"agenthub/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receivePush(t *testing.T, ch <-chan []byte) map[string]any {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "channel closed")
		var push map[string]any
		require.NoError(t, json.Unmarshal(data, &push))
		return push
	case <-time.After(2 * time.Second):
		t.Fatal("no push received in time")
		return nil
	}
}

func TestHubDeliversToSessionSubscribers(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	defer cancel()
	other, cancelOther := h.Subscribe("s2")
	defer cancelOther()

	h.Send("s1", Push{"type": PushAgentResponse, "response": "hello"})

	push := receivePush(t, ch)
	assert.Equal(t, "agent_response", push["type"])
	assert.Equal(t, "hello", push["response"])

	select {
	case <-other:
		t.Fatal("push leaked to another session")
	default:
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Send("s1", Push{"type": PushAgentResponse, "n": i})
	}

	// The queue holds exactly subscriberBuffer messages; the rest dropped.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.Equal(t, subscriberBuffer, count)
			return
		}
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	h := NewHub(nil, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	cancel()
	cancel() // second call is a no-op

	_, ok := <-ch
	assert.False(t, ok)

	// Sends after cancel do not panic.
	h.Send("s1", Push{"type": PushAgentResponse})
}

func TestHubCancelAfterCloseIsNoop(t *testing.T) {
	h := NewHub(nil, testLogger())

	ch, cancel := h.Subscribe("s1")
	h.Close()
	cancel() // must not panic on the already-closed channel
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestHubDeliveryOrderMatchesPublishOrder(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	h := NewHub(bus, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	defer cancel()

	const n = 50
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]any{"n": i})
		bus.Publish(context.Background(), domain.Event{
			Type:      domain.EventAgentResponse,
			Timestamp: time.Now(),
			SessionID: "s1",
			Payload:   payload,
		})
	}

	for i := 0; i < n; i++ {
		push := receivePush(t, ch)
		require.Equal(t, float64(i), push["n"], "delivery order diverged at %d", i)
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	h := NewHub(nil, testLogger())

	ch, _ := h.Subscribe("s1")
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// Subscribing after close yields a closed channel.
	late, _ := h.Subscribe("s2")
	_, ok = <-late
	assert.False(t, ok)
}

func TestHubBridgesAgentResponseEvents(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	h := NewHub(bus, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"agent_id":      "general_assistant",
		"instance_id":   "i-1",
		"response":      "all done",
		"response_time": 0.25,
	})
	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventAgentResponse,
		Timestamp: time.Now(),
		SessionID: "s1",
		Payload:   payload,
	})

	push := receivePush(t, ch)
	assert.Equal(t, "agent_response", push["type"])
	assert.Equal(t, "s1", push["session_id"])
	assert.Equal(t, "all done", push["response"])
	assert.Equal(t, "general_assistant", push["agent_id"])
}

func TestHubBridgesAgentErrorEvents(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	h := NewHub(bus, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"error": "model unavailable",
		"code":  "TOOL_INVOCATION_ERROR",
	})
	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventAgentError,
		Timestamp: time.Now(),
		SessionID: "s1",
		Payload:   payload,
	})

	push := receivePush(t, ch)
	assert.Equal(t, "error", push["type"])
	assert.Equal(t, "model unavailable", push["message"])
	assert.Equal(t, "TOOL_INVOCATION_ERROR", push["code"])
}

func TestHubIgnoresEventsWithoutSession(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	h := NewHub(bus, testLogger())
	defer h.Close()

	ch, cancel := h.Subscribe("s1")
	defer cancel()

	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventAgentResponse,
		Timestamp: time.Now(),
	})

	select {
	case <-ch:
		t.Fatal("sessionless event should not be delivered")
	case <-time.After(100 * time.Millisecond):
	}
}
