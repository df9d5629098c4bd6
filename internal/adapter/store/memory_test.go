package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleUser, "hello", map[string]any{"agent_id": "general_assistant"}))
	require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleAssistant, "hi there", nil))

	msgs, err := s.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "general_assistant", msgs[0].Meta["agent_id"])
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestMemoryImplicitSession(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	// Caller-supplied session IDs work without CreateSession.
	require.NoError(t, s.AppendMessage(ctx, "external-session", domain.RoleUser, "hello", nil))

	msgs, err := s.RecentHistory(ctx, "external-session", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemoryHistoryLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleUser, fmt.Sprintf("msg-%d", i), nil))
	}

	msgs, err := s.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	// The window keeps the newest messages, oldest first.
	assert.Equal(t, "msg-5", msgs[0].Content)
	assert.Equal(t, "msg-14", msgs[9].Content)
}

func TestMemoryUnknownSession(t *testing.T) {
	s := NewMemory()

	msgs, err := s.RecentHistory(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryHistoryIsCopy(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	sessionID, _ := s.CreateSession(ctx)
	require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleUser, "original", nil))

	msgs, err := s.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	again, err := s.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}
