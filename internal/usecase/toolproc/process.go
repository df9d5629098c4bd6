package toolproc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

const (
	// settleDelay is how long a freshly started process gets to initialize
	// before we probe it for tools.
	settleDelay = 2 * time.Second
	// stopGrace is how long Stop waits after SIGTERM before sending SIGKILL.
	stopGrace = 5 * time.Second
	// killWait bounds the wait after SIGKILL. A descendant that escaped the
	// process group can hold the stderr pipe open past the kill; the handle
	// is abandoned rather than blocking Stop on it.
	killWait = 2 * time.Second
	// stderrBufferMax bounds the captured stderr used for start diagnostics.
	stderrBufferMax = 64 * 1024
)

// Process supervises one external tool-provider process and the transport
// speaking to it.
type Process struct {
	name   string
	cfg    config.ToolProcess
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *ringBuffer
	transport Transport
	tools     []domain.ToolSpec
	done      chan struct{} // closed when cmd.Wait returns
}

// NewProcess creates an unstarted supervisor for the named tool process.
func NewProcess(name string, cfg config.ToolProcess, logger *slog.Logger) *Process {
	return &Process{
		name:   name,
		cfg:    cfg,
		logger: logger.With("server", name),
	}
}

// Name returns the configured process name.
func (p *Process) Name() string { return p.name }

// AutoRestart reports whether the process should be restarted after an
// unexpected exit.
func (p *Process) AutoRestart() bool { return p.cfg.AutoRestart }

// Start launches the process, waits for it to settle, and discovers its
// tools. On any failure the process is torn down and nothing is registered.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.runningLocked() {
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrDuplicateProcess, p.name)
	}

	if p.cfg.Connection != domain.ConnectionStdio {
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrProcessStart,
			fmt.Sprintf("%s: connection_type %q is not supported yet", p.name, p.cfg.Connection))
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	// Own process group, so Stop can signal the whole tree. Tool servers
	// routinely spawn children that inherit the stderr pipe; killing only
	// the parent would leave cmd.Wait blocked on them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stderrBuf := newRingBuffer(stderrBufferMax)
	cmd.Stderr = stderrBuf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrProcessStart,
			fmt.Sprintf("%s: stdin pipe: %v", p.name, err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrProcessStart,
			fmt.Sprintf("%s: stdout pipe: %v", p.name, err))
	}

	if err := cmd.Start(); err != nil {
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrProcessStart,
			fmt.Sprintf("%s: %v", p.name, err))
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(done)
		p.logger.Info("tool process exited", "error", err)
	}()

	transport := newStdioTransport(p.name, stdin, stdout, p.cfg.Timeout.Std(), p.logger)

	// Give the process a moment to initialize before probing it.
	select {
	case <-time.After(settleDelay):
	case <-done:
	case <-ctx.Done():
		p.teardown(cmd, transport, stdin, done)
		return ctx.Err()
	}

	select {
	case <-done:
		p.teardown(cmd, transport, stdin, done)
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrProcessStart,
			fmt.Sprintf("%s: exited during startup: %s", p.name, stderrTail(stderrBuf)))
	default:
	}

	tools, err := transport.Discover(ctx)
	if err != nil {
		p.teardown(cmd, transport, stdin, done)
		return domain.NewSubSystemError("toolproc", "Process.Start", domain.ErrProcessStart,
			fmt.Sprintf("%s: discovery failed: %v", p.name, err))
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stderr = stderrBuf
	p.transport = transport
	p.tools = tools
	p.done = done

	p.logger.Info("tool process started", "command", p.cfg.Command, "tools", len(tools))
	return nil
}

// Stop terminates the process: SIGTERM first, SIGKILL after the grace
// period. Stop on an already-stopped process is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	transport := p.transport
	stdin := p.stdin
	done := p.done
	p.cmd = nil
	p.stdin = nil
	p.transport = nil
	p.tools = nil
	p.done = nil
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if transport != nil {
		transport.Close()
	}
	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-done:
		return nil
	default:
	}

	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		p.logger.Debug("SIGTERM failed, killing", "error", err)
		signalGroup(cmd, syscall.SIGKILL)
	}

	timer := time.NewTimer(stopGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("tool process ignored SIGTERM, killing")
		signalGroup(cmd, syscall.SIGKILL)
		p.awaitExit(done)
	case <-ctx.Done():
		signalGroup(cmd, syscall.SIGKILL)
		return ctx.Err()
	}

	p.logger.Info("tool process stopped")
	return nil
}

// awaitExit waits up to killWait for cmd.Wait to return, then gives up and
// abandons the handle.
func (p *Process) awaitExit(done chan struct{}) {
	timer := time.NewTimer(killWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("tool process pipes still held after SIGKILL, abandoning handle")
	}
}

// signalGroup signals the process's whole group, falling back to the
// process alone when the group is gone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return cmd.Process.Signal(sig)
	}
	return nil
}

// Running reports whether the supervised process is currently alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Process) runningLocked() bool {
	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Tools returns the tools discovered at the most recent successful start.
func (p *Process) Tools() []domain.ToolSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ToolSpec, len(p.tools))
	copy(out, p.tools)
	return out
}

// Call forwards a tool invocation to the process.
func (p *Process) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	p.mu.Lock()
	transport := p.transport
	p.mu.Unlock()

	if transport == nil {
		return nil, domain.NewSubSystemError("toolproc", "Process.Call", domain.ErrProcessTerminated, p.name)
	}
	return transport.Call(ctx, tool, args)
}

// teardown cleans up after a failed start.
func (p *Process) teardown(cmd *exec.Cmd, transport Transport, stdin io.WriteCloser, done chan struct{}) {
	transport.Close()
	stdin.Close()
	select {
	case <-done:
	default:
		signalGroup(cmd, syscall.SIGKILL)
		p.awaitExit(done)
	}
}

// stderrTail returns a trimmed single-line view of captured stderr for
// error messages.
func stderrTail(buf *ringBuffer) string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return "(no stderr output)"
	}
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
