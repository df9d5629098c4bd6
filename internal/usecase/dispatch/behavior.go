package dispatch

import (
	"context"
	"fmt"
	"strings"

	"agenthub/internal/domain"
)

// CompletionRequest is what a Completer receives for one turn.
type CompletionRequest struct {
	AgentID      string
	SessionID    string
	Model        string
	Instructions string
	Message      string
	History      []domain.StoredMessage
	Tools        []string
	Context      map[string]any
}

// Completer produces the actual reply text for a turn. This is the seam
// where a model provider plugs in; the built-in behaviors below are used
// when no Completer is configured.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Executor runs one agent turn, delegating to the Completer when present
// and otherwise to a per-type canned behavior.
type Executor struct {
	completer Completer
}

// NewExecutor creates an Executor. completer may be nil.
func NewExecutor(completer Completer) *Executor {
	return &Executor{completer: completer}
}

// Execute produces the reply for one task.
func (e *Executor) Execute(ctx context.Context, agent *domain.AgentConfig, req CompletionRequest) (string, error) {
	if e.completer != nil {
		return e.completer.Complete(ctx, req)
	}

	switch agent.Type {
	case domain.AgentTypeBrowser:
		return browserReply(req.Message), nil
	case domain.AgentTypeData:
		return dataReply(req.Message), nil
	case domain.AgentTypeWorkflow:
		return workflowReply(req.Message), nil
	default:
		return llmReply(req.Message, req.Tools), nil
	}
}

func llmReply(message string, tools []string) string {
	listed := tools
	suffix := ""
	if len(listed) > 5 {
		listed = listed[:5]
		suffix = "..."
	}
	return fmt.Sprintf("[LLM Agent] I understand your request: '%s'. I have access to these tools: %s%s. How can I help you further?",
		message, strings.Join(listed, ", "), suffix)
}

func browserReply(message string) string {
	keywords := []string{"navigate", "click", "screenshot", "scrape", "website", "page"}
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return fmt.Sprintf("[Browser Agent] I can help you with web automation tasks. Your request: '%s'. I'll use my browser automation capabilities to assist you.", message)
		}
	}
	return fmt.Sprintf("[Browser Agent] I specialize in web automation. For general questions, you might want to use the General Assistant. However, I can still help with: '%s'", message)
}

func dataReply(message string) string {
	keywords := []string{"analyze", "data", "chart", "graph", "statistics", "csv", "excel"}
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return fmt.Sprintf("[Data Agent] I can help you with data analysis tasks. Your request: '%s'. I'll process your data and provide insights.", message)
		}
	}
	return fmt.Sprintf("[Data Agent] I specialize in data analysis. Your request: '%s'. If you have data to analyze, I'm here to help!", message)
}

func workflowReply(message string) string {
	return fmt.Sprintf("[Workflow Agent] I can help orchestrate complex tasks involving multiple agents. Your request: '%s'. Let me break this down into manageable steps.", message)
}
