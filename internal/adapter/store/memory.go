// Package store provides session collaborator implementations: an
// in-memory store for the default configuration and tests, and a
// SQLite-backed store for deployments that want history to survive
// restarts.
package store

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agenthub/internal/domain"
)

// Memory is an in-process SessionStore. Sessions appear either through
// CreateSession or implicitly when a caller supplies its own session ID.
type Memory struct {
	mu       sync.Mutex
	messages map[string][]domain.StoredMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]domain.StoredMessage)}
}

// CreateSession implements domain.SessionStore.
func (s *Memory) CreateSession(_ context.Context) (string, error) {
	id := newSessionID()
	s.mu.Lock()
	s.messages[id] = nil
	s.mu.Unlock()
	return id, nil
}

// AppendMessage implements domain.SessionStore.
func (s *Memory) AppendMessage(_ context.Context, sessionID, role, content string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], domain.StoredMessage{
		Role:      role,
		Content:   content,
		Meta:      meta,
		Timestamp: time.Now(),
	})
	return nil
}

// RecentHistory implements domain.SessionStore. Unknown sessions yield an
// empty history.
func (s *Memory) RecentHistory(_ context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func newSessionID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

var _ domain.SessionStore = (*Memory)(nil)
