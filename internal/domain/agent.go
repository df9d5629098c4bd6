package domain

import "time"

// AgentType classifies an agent's behavior kind.
type AgentType string

const (
	AgentTypeLLM      AgentType = "llm_agent"
	AgentTypeBrowser  AgentType = "browser_agent"
	AgentTypeData     AgentType = "data_agent"
	AgentTypeWorkflow AgentType = "workflow_agent"
	AgentTypeCustom   AgentType = "custom_agent"
)

// AgentStatus is the lifecycle state of a running agent instance.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusError   AgentStatus = "error"
	AgentStatusOffline AgentStatus = "offline"
)

// Capability describes one thing an agent can do.
type Capability struct {
	Name        string         `json:"name"        yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Required    bool           `json:"required,omitempty"   yaml:"required,omitempty"`
}

// AgentConfig is the immutable descriptor for a known agent.
// Descriptors are created at startup from built-in defaults and loaded
// configuration; the only later mutation path is CreateAgent.
type AgentConfig struct {
	ID                    string         `json:"agent_id"     yaml:"id"`
	Name                  string         `json:"name"         yaml:"name"`
	Type                  AgentType      `json:"type"         yaml:"type"`
	Model                 string         `json:"model"        yaml:"model"`
	Instructions          string         `json:"instructions" yaml:"instructions"`
	Tools                 []string       `json:"tools,omitempty"        yaml:"tools,omitempty"`
	Capabilities          []Capability   `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	MaxTokens             int            `json:"max_tokens,omitempty"   yaml:"max_tokens,omitempty"`
	Temperature           float64        `json:"temperature,omitempty"  yaml:"temperature,omitempty"`
	ContextWindow         int            `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	Timeout               time.Duration  `json:"timeout,omitempty"        yaml:"timeout,omitempty"`
	MaxConcurrentSessions int            `json:"max_concurrent_sessions,omitempty" yaml:"max_concurrent_sessions,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// AgentInstance is the live, session-bound execution context for one agent.
// Exactly one instance exists per session at any time.
type AgentInstance struct {
	InstanceID   string      `json:"instance_id"`
	AgentID      string      `json:"agent_id"`
	SessionID    string      `json:"session_id"`
	Status       AgentStatus `json:"status"`
	CurrentTask  string      `json:"current_task,omitempty"`
	StartTime    time.Time   `json:"start_time"`
	LastActivity time.Time   `json:"last_activity"`
	MessageCount int         `json:"message_count"`
	ErrorCount   int         `json:"error_count"`
}

// AgentMetrics holds running performance totals for one agent.
// Mutated only by that agent's worker goroutine.
type AgentMetrics struct {
	AgentID             string        `json:"agent_id"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	TotalTime           time.Duration `json:"total_time"`
	LastReset           time.Time     `json:"last_reset"`
}

// DispatchTask is the envelope carried on an agent's queue.
type DispatchTask struct {
	InstanceID string
	SessionID  string
	Message    string
	Context    map[string]any
	ToolHints  []string
	EnqueuedAt time.Time
}

// DispatchAccepted is the immediate acknowledgement returned by Submit.
// The actual result arrives later through the notification fanout.
type DispatchAccepted struct {
	Response   string         `json:"response"`
	SessionID  string         `json:"session_id"`
	AgentID    string         `json:"agent_id"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AgentStatusReport is a read-only snapshot of one agent for status listings.
type AgentStatusReport struct {
	AgentID             string        `json:"agent_id"`
	Name                string        `json:"name"`
	Type                AgentType     `json:"type"`
	Status              string        `json:"status"` // "online" or "offline"
	ActiveInstances     int           `json:"active_instances"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	Tools               []string      `json:"tools"`
}
