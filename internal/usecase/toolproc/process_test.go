package toolproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

func TestProcessStartBadCommand(t *testing.T) {
	p := NewProcess("ghost", config.ToolProcess{
		Command:    "/nonexistent/tool-server",
		Timeout:    config.Duration(time.Second),
		Connection: domain.ConnectionStdio,
	}, testLogger())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProcessStart)
	assert.False(t, p.Running())
}

func TestProcessStartRejectsUnsupportedConnection(t *testing.T) {
	p := NewProcess("sock", config.ToolProcess{
		Command:    "/bin/cat",
		Timeout:    config.Duration(time.Second),
		Connection: domain.ConnectionSocket,
	}, testLogger())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProcessStart)
	assert.Contains(t, err.Error(), "connection_type")
}

func TestProcessStopUnstarted(t *testing.T) {
	p := NewProcess("idle", config.ToolProcess{
		Command:    "/bin/cat",
		Timeout:    config.Duration(time.Second),
		Connection: domain.ConnectionStdio,
	}, testLogger())

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background())) // idempotent
	assert.False(t, p.Running())
}

func TestProcessCallWithoutTransport(t *testing.T) {
	p := NewProcess("idle", config.ToolProcess{
		Command:    "/bin/cat",
		Timeout:    config.Duration(time.Second),
		Connection: domain.ConnectionStdio,
	}, testLogger())

	_, err := p.Call(context.Background(), "anything", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProcessTerminated)
}

// shellServer builds a Process running an inline /bin/sh tool server.
func shellServer(name, script string, timeout time.Duration) *Process {
	return NewProcess(name, config.ToolProcess{
		Command:    "/bin/sh",
		Args:       []string{"-c", script},
		Timeout:    config.Duration(timeout),
		Connection: domain.ConnectionStdio,
	}, testLogger())
}

// replyToList extracts the request id and answers tools/list.
const replyToList = `read req
id=$(printf '%s' "$req" | sed 's/.*"id":"\([^"]*\)".*/\1/')
`

func TestStopKillsSpawnedChildren(t *testing.T) {
	// The server answers discovery, then forks a child that inherits the
	// stderr pipe and outlives it.
	script := replyToList +
		`printf '{"jsonrpc":"2.0","id":"%s","result":{"tools":[]}}\n' "$id"
sleep 60 &
read req2
`
	p := shellServer("forker", script, 2*time.Second)
	require.NoError(t, p.Start(context.Background()))

	begin := time.Now()
	require.NoError(t, p.Stop(context.Background()))
	// Stop must not wait out the child's lifetime; the group signal takes
	// the child down with the server.
	assert.Less(t, time.Since(begin), 3*time.Second)
	assert.False(t, p.Running())
}

func TestCallTimeoutLeavesProcessRunning(t *testing.T) {
	// The server answers discovery with one tool, then goes silent.
	script := replyToList +
		`printf '{"jsonrpc":"2.0","id":"%s","result":{"tools":[{"name":"hang","description":"","inputSchema":null}]}}\n' "$id"
read req2
sleep 60
`
	p := shellServer("silent", script, 500*time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	tools := p.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "hang", tools[0].Name)

	_, err := p.Call(context.Background(), "hang", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolTimeout)

	// A timed-out call is not process death.
	assert.True(t, p.Running())
}

func TestStderrTail(t *testing.T) {
	buf := newRingBuffer(stderrBufferMax)
	assert.Equal(t, "(no stderr output)", stderrTail(buf))

	buf.Write([]byte("first line\nsecond line\n"))
	assert.Equal(t, "first line | second line", stderrTail(buf))
}
