package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"agenthub/internal/domain"
	"agenthub/internal/usecase/dispatch"
)

// Dispatcher is the inbound seam for agent requests arriving on a
// subscriber connection.
type Dispatcher interface {
	Submit(ctx context.Context, req dispatch.SubmitRequest) (*domain.DispatchAccepted, error)
}

// Server exposes the subscriber endpoints: /ws for bidirectional
// WebSocket sessions and /events for one-way SSE streams.
type Server struct {
	hub        *Hub
	dispatcher Dispatcher
	logger     *slog.Logger
	addr       string
	httpSrv    *http.Server
	boundAddr  string
}

// NewServer creates a fanout server.
func NewServer(hub *Hub, dispatcher Dispatcher, addr string, logger *slog.Logger) *Server {
	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger,
		addr:       addr,
	}
}

// Start begins serving. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/events", s.handleSSE)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("fanout listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: mux}

	s.logger.Info("fanout server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("fanout serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// wsConn tracks one WebSocket subscriber connection.
type wsConn struct {
	ws        *websocket.Conn
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) enqueue(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &wsConn{
		ws:     ws,
		sendCh: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
	s.logger.Info("websocket connected", "session_id", sessionID)

	go s.writeLoop(cc)

	cc.enqueue(Push{
		"type":       PushConnection,
		"status":     "connected",
		"session_id": sessionID,
	}.marshal())

	events, cancel := s.hub.Subscribe(sessionID)
	defer cancel()

	// Forward hub events onto this connection's queue.
	go func() {
		for {
			select {
			case <-cc.done:
				return
			case data, ok := <-events:
				if !ok {
					return
				}
				if !cc.enqueue(data) {
					s.logger.Warn("dropped event for slow websocket", "session_id", sessionID)
				}
			}
		}
	}()

	s.readLoop(domain.WithSessionID(r.Context(), sessionID), sessionID, cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("websocket disconnected", "session_id", sessionID)
}

func (s *Server) writeLoop(cc *wsConn) {
	for {
		select {
		case <-cc.done:
			return
		case data := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := cc.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, sessionID string, cc *wsConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		_, data, err := cc.ws.Read(ctx)
		if err != nil {
			return // connection closed or errored
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("invalid JSON from websocket", "session_id", sessionID)
			cc.enqueue(errorPush("Invalid JSON format").marshal())
			continue
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "ping":
			cc.enqueue(Push{"type": PushPong}.marshal())
		case "agent_request":
			s.handleAgentRequest(ctx, sessionID, cc, msg)
		default:
			s.logger.Warn("unknown websocket message type", "session_id", sessionID, "type", msgType)
			cc.enqueue(errorPush(fmt.Sprintf("Unknown message type: %s", msgType)).marshal())
		}
	}
}

func (s *Server) handleAgentRequest(ctx context.Context, sessionID string, cc *wsConn, msg map[string]any) {
	message, _ := msg["message"].(string)
	typeHint, _ := msg["agent_type"].(string)
	taskContext, _ := msg["context"].(map[string]any)

	var toolHints []string
	if raw, ok := msg["tools"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				toolHints = append(toolHints, s)
			}
		}
	}

	ack, err := s.dispatcher.Submit(ctx, dispatch.SubmitRequest{
		SessionID: sessionID,
		Message:   message,
		TypeHint:  typeHint,
		ToolHints: toolHints,
		Context:   taskContext,
	})
	if err != nil {
		s.logger.Warn("agent request rejected", "session_id", sessionID, "error", err)
		push := errorPush(err.Error())
		push["code"] = domain.ErrorCodeOf(err)
		cc.enqueue(push.marshal())
		return
	}

	push := Push{
		"type":        PushAgentResponse,
		"status":      "queued",
		"session_id":  ack.SessionID,
		"agent_id":    ack.AgentID,
		"instance_id": ack.InstanceID,
		"response":    ack.Response,
	}
	if requestID, ok := msg["request_id"]; ok {
		push["request_id"] = requestID
	}
	cc.enqueue(push.marshal())
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's write timeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := s.hub.Subscribe(sessionID)
	defer cancel()

	s.logger.Info("sse subscriber connected", "session_id", sessionID)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := domain.WithSessionID(r.Context(), sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case data, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
