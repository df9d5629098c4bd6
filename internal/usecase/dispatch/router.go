package dispatch

import (
	"log/slog"
	"strings"
)

// keywordRule routes a message to an agent when any keyword appears in it.
type keywordRule struct {
	Keywords []string
	AgentID  string
}

// hintRule routes on the presence of a requested tool hint.
type hintRule struct {
	Hints   []string
	AgentID string
}

// typeRule routes on the caller's agent-type hint.
type typeRule struct {
	Hint    string
	AgentID string
}

// Router selects an agent for an incoming request. Rules are evaluated in
// a fixed order — keyword rules first, then tool-hint rules, then type-hint
// rules — and the first match wins. When nothing matches, the fallback
// agent is selected. Rule order is part of the routing contract: adding a
// rule earlier in a table changes routing for every message it matches.
type Router struct {
	keywordRules []keywordRule
	hintRules    []hintRule
	typeRules    []typeRule
	fallbackID   string
	logger       *slog.Logger
}

// NewRouter creates a Router with the default rule tables targeting the
// built-in agents.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		keywordRules: []keywordRule{
			{Keywords: []string{"website", "browser", "navigate", "click", "screenshot", "scrape"}, AgentID: AgentBrowserSpecialist},
			{Keywords: []string{"analyze", "data", "chart", "statistics", "csv", "excel", "graph"}, AgentID: AgentDataAnalyst},
			{Keywords: []string{"workflow", "multiple steps", "coordinate", "orchestrate", "complex task"}, AgentID: AgentWorkflowOrchestrator},
		},
		hintRules: []hintRule{
			{Hints: []string{"browser_automation"}, AgentID: AgentBrowserSpecialist},
			{Hints: []string{"data_processing", "visualization"}, AgentID: AgentDataAnalyst},
		},
		typeRules: []typeRule{
			{Hint: "browser", AgentID: AgentBrowserSpecialist},
			{Hint: "analysis", AgentID: AgentDataAnalyst},
			{Hint: "workflow", AgentID: AgentWorkflowOrchestrator},
		},
		fallbackID: AgentGeneralAssistant,
		logger:     logger,
	}
}

// Select picks the agent ID for a message. typeHint is the caller's
// requested agent kind ("default" or empty means no preference).
func (r *Router) Select(message string, toolHints []string, typeHint string) string {
	lower := strings.ToLower(message)

	for _, rule := range r.keywordRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				r.logger.Debug("keyword rule matched", "keyword", kw, "agent_id", rule.AgentID)
				return rule.AgentID
			}
		}
	}

	for _, rule := range r.hintRules {
		for _, hint := range rule.Hints {
			if containsString(toolHints, hint) {
				r.logger.Debug("tool hint matched", "hint", hint, "agent_id", rule.AgentID)
				return rule.AgentID
			}
		}
	}

	for _, rule := range r.typeRules {
		if typeHint == rule.Hint {
			r.logger.Debug("type hint matched", "hint", typeHint, "agent_id", rule.AgentID)
			return rule.AgentID
		}
	}

	r.logger.Debug("no rule matched, using fallback", "agent_id", r.fallbackID)
	return r.fallbackID
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
