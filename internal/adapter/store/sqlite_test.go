package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	meta := map[string]any{"agent_id": "general_assistant", "instance_id": "i-1"}
	require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleUser, "hello", meta))
	require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleAssistant, "hi there", nil))

	msgs, err := s.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "general_assistant", msgs[0].Meta["agent_id"])
	assert.Equal(t, "i-1", msgs[0].Meta["instance_id"])
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Nil(t, msgs[1].Meta)
	assert.False(t, msgs[0].Timestamp.IsZero())
}

func TestSQLiteImplicitSession(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "ws-session", domain.RoleUser, "hello", nil))
	require.NoError(t, s.AppendMessage(ctx, "ws-session", domain.RoleUser, "again", nil))

	msgs, err := s.RecentHistory(ctx, "ws-session", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSQLiteHistoryOrderAndLimit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleUser, fmt.Sprintf("msg-%d", i), nil))
	}

	msgs, err := s.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 10)
	assert.Equal(t, "msg-5", msgs[0].Content)
	assert.Equal(t, "msg-14", msgs[9].Content)

	// limit <= 0 falls back to the default window.
	all, err := s.RecentHistory(ctx, sessionID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 15)
}

func TestSQLiteSessionsAreIsolated(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a, err := s.CreateSession(ctx)
	require.NoError(t, err)
	b, err := s.CreateSession(ctx)
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, a, domain.RoleUser, "for a", nil))
	require.NoError(t, s.AppendMessage(ctx, b, domain.RoleUser, "for b", nil))

	msgs, err := s.RecentHistory(ctx, a, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "for a", msgs[0].Content)
}

func TestSQLiteUnknownSession(t *testing.T) {
	s := newTestSQLite(t)

	msgs, err := s.RecentHistory(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSQLiteReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	sessionID, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, sessionID, domain.RoleUser, "persisted", nil))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.RecentHistory(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persisted", msgs[0].Content)
}
