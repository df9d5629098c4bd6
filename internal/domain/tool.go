package domain

import (
	"context"
	"encoding/json"
)

// Connection kinds for tool processes.
const (
	ConnectionStdio  = "stdio"
	ConnectionSocket = "socket"
	ConnectionHTTP   = "http"
)

// ToolSpec describes one callable tool exposed by an external process.
// Tool names are globally unique across all processes; a collision is
// resolved last-registration-wins by the registry.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	ServerName  string          `json:"server_name"`
}

// ToolCaller abstracts tool lookup and invocation for the dispatch layer.
type ToolCaller interface {
	// CallTool resolves the owning process for name and invokes the tool.
	// Fails with ErrToolNotFound when no process exposes the name.
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	// ListTools returns a flat snapshot of every registered tool.
	ListTools() []ToolSpec
	// ToolsForAgent returns the tool names appropriate for an agent type.
	ToolsForAgent(agentType AgentType) []string
}
