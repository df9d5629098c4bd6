// Package fanout delivers agent events to session subscribers over
// WebSocket and SSE. Delivery is best-effort: a subscriber that cannot
// keep up loses events rather than slowing the rest of the system.
package fanout

import "encoding/json"

// Push message kinds sent to subscribers.
const (
	PushConnection    = "connection"
	PushAgentResponse = "agent_response"
	PushError         = "error"
	PushPong          = "pong"
)

// Push is one outbound message. Flat key/value shape matching the client
// protocol: "type" plus message-specific fields.
type Push map[string]any

func (p Push) marshal() []byte {
	data, err := json.Marshal(p)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return data
}

func errorPush(message string) Push {
	return Push{"type": PushError, "message": message}
}
