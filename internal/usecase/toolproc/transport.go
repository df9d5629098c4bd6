package toolproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agenthub/internal/domain"
)

// Transport is the protocol seam between process lifecycle and the wire.
// A new connection kind (socket, HTTP) is added by implementing this
// interface; the supervisor and registry do not change.
type Transport interface {
	// Discover asks the process for the tools it implements.
	Discover(ctx context.Context) ([]domain.ToolSpec, error)
	// Call invokes one tool by name with structured arguments.
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	// Close stops the transport. The underlying pipes belong to the process.
	Close() error
}

// Wire types for the line-delimited JSON-RPC protocol.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type listResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

// stdioTransport speaks newline-delimited JSON-RPC over a process's
// standard streams. Requests are serialized (single in-flight per process)
// but responses are still matched by correlation id, so a reply arriving
// after its deadline is discarded instead of being paired with the next
// request.
type stdioTransport struct {
	serverName string
	timeout    time.Duration
	logger     *slog.Logger

	stdin io.Writer

	reqMu sync.Mutex // serializes requests

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	done      chan struct{} // closed when the read loop exits
	closeOnce sync.Once
}

// newStdioTransport wires a transport over the given pipes and starts the
// read loop.
func newStdioTransport(serverName string, stdin io.Writer, stdout io.Reader, timeout time.Duration, logger *slog.Logger) *stdioTransport {
	t := &stdioTransport{
		serverName: serverName,
		timeout:    timeout,
		logger:     logger,
		stdin:      stdin,
		pending:    make(map[string]chan rpcResponse),
		done:       make(chan struct{}),
	}
	go t.readLoop(stdout)
	return t
}

func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.closeOnce.Do(func() { close(t.done) })

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Warn("tool process wrote malformed JSON",
				"server", t.serverName, "error", err)
			continue
		}

		id := fmt.Sprint(resp.ID)
		t.pendingMu.Lock()
		ch, ok := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()

		if !ok {
			// Late reply from a timed-out call, or an unsolicited message.
			t.logger.Debug("discarding stale response",
				"server", t.serverName, "id", id)
			continue
		}
		ch <- resp
	}
}

// roundTrip writes one request line and waits for the matching response.
func (t *stdioTransport) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	select {
	case <-t.done:
		return nil, domain.NewSubSystemError("toolproc", "Transport.roundTrip",
			domain.ErrProcessTerminated, t.serverName)
	default:
	}

	id := newRequestID()
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapOp("marshal request", err)
	}
	line = append(line, '\n')

	respCh := make(chan rpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	if _, err := t.stdin.Write(line); err != nil {
		t.dropPending(id)
		return nil, domain.NewSubSystemError("toolproc", "Transport.roundTrip",
			domain.ErrProcessTerminated, fmt.Sprintf("%s: write: %v", t.serverName, err))
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, domain.NewSubSystemError("toolproc", "Transport.roundTrip",
				domain.ErrToolInvocation, fmt.Sprintf("%s: %s", t.serverName, resp.Error.Message))
		}
		return resp.Result, nil
	case <-timer.C:
		t.dropPending(id)
		return nil, domain.NewSubSystemError("toolproc", "Transport.roundTrip",
			domain.ErrToolTimeout, fmt.Sprintf("%s: no response within %s", t.serverName, t.timeout))
	case <-t.done:
		t.dropPending(id)
		return nil, domain.NewSubSystemError("toolproc", "Transport.roundTrip",
			domain.ErrProcessTerminated, t.serverName)
	case <-ctx.Done():
		t.dropPending(id)
		return nil, ctx.Err()
	}
}

func (t *stdioTransport) dropPending(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// Discover implements Transport via "tools/list".
func (t *stdioTransport) Discover(ctx context.Context) ([]domain.ToolSpec, error) {
	raw, err := t.roundTrip(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var result listResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.WrapOp("parse tools/list result", err)
	}

	specs := make([]domain.ToolSpec, 0, len(result.Tools))
	for _, tl := range result.Tools {
		specs = append(specs, domain.ToolSpec{
			Name:        tl.Name,
			Description: tl.Description,
			InputSchema: tl.InputSchema,
			ServerName:  t.serverName,
		})
	}
	return specs, nil
}

// Call implements Transport via "tools/call".
func (t *stdioTransport) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return t.roundTrip(ctx, "tools/call", callParams{Name: name, Arguments: args})
}

// Close implements Transport.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func newRequestID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
