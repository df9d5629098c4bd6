package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"agenthub/internal/domain"
)

// subscriberBuffer is the per-subscriber outbound queue depth. A full
// queue drops the event for that subscriber only.
const subscriberBuffer = 64

type subscriber struct {
	sessionID string
	ch        chan []byte
	closeOnce sync.Once
}

// close is shared between the subscriber's cancel and Hub.Close; whichever
// runs second is a no-op.
func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Hub fans events out to the subscribers of each session. It bridges the
// event bus: agent.response and agent.error events are forwarded to
// whoever is listening on the event's session. The bridge is one
// subscription, so a session's responses and errors reach its subscribers
// in the order the workers published them.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber // sessionID -> id -> subscriber
	closed bool

	nextID atomic.Uint64
	unsubs []func()
}

// NewHub creates a Hub wired to the bus.
func NewHub(bus domain.EventBus, logger *slog.Logger) *Hub {
	h := &Hub{
		logger: logger,
		subs:   make(map[string]map[uint64]*subscriber),
	}
	if bus != nil {
		h.unsubs = append(h.unsubs, bus.SubscribeAll(h.onAgentEvent))
	}
	return h
}

// Subscribe registers a listener for one session's events. The returned
// cancel is idempotent.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	sub := &subscriber{sessionID: sessionID, ch: make(chan []byte, subscriberBuffer)}
	id := h.nextID.Add(1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]*subscriber)
	}
	h.subs[sessionID][id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber attached", "session_id", sessionID)

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subs[sessionID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		sub.close()
		h.logger.Debug("subscriber detached", "session_id", sessionID)
	}
	return sub.ch, cancel
}

// Send delivers a push to every subscriber of a session, in FIFO order per
// subscriber. Subscribers with full queues lose the message.
func (h *Hub) Send(sessionID string, push Push) {
	data := push.marshal()

	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[sessionID]))
	for _, sub := range h.subs[sessionID] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		h.logger.Debug("no active subscribers for session", "session_id", sessionID)
		return
	}

	for _, sub := range targets {
		select {
		case sub.ch <- data:
		default:
			h.logger.Warn("dropped push for slow subscriber", "session_id", sessionID, "type", push["type"])
		}
	}
}

// Close detaches from the bus and closes every subscriber channel.
func (h *Hub) Close() {
	for _, unsub := range h.unsubs {
		unsub()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	h.subs = make(map[string]map[uint64]*subscriber)
}

// onAgentEvent converts a bus event into the client push shape.
func (h *Hub) onAgentEvent(_ context.Context, event domain.Event) {
	if event.SessionID == "" {
		return
	}

	fields := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &fields); err != nil {
			h.logger.Warn("unparseable event payload", "event_type", event.Type, "error", err)
			return
		}
	}

	var push Push
	switch event.Type {
	case domain.EventAgentResponse:
		push = Push{"type": PushAgentResponse, "session_id": event.SessionID}
		for k, v := range fields {
			push[k] = v
		}
	case domain.EventAgentError:
		message, _ := fields["error"].(string)
		if message == "" {
			message = "agent request failed"
		}
		push = Push{"type": PushError, "session_id": event.SessionID, "message": message}
		if code, ok := fields["code"]; ok {
			push["code"] = code
		}
	default:
		return
	}

	h.Send(event.SessionID, push)
}
