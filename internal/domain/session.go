package domain

import (
	"context"
	"time"
)

// Role constants for stored conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StoredMessage is one entry in a session's conversation history.
type StoredMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionStore is the session collaborator contract consumed by the core.
// Durable storage semantics belong to the implementation.
type SessionStore interface {
	// CreateSession mints a new session and returns its ID.
	CreateSession(ctx context.Context) (string, error)
	// AppendMessage adds a message to a session's conversation history.
	AppendMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) error
	// RecentHistory returns up to limit messages for a session, oldest first.
	RecentHistory(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error)
}
