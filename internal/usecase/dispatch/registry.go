package dispatch

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

// Well-known default agent IDs.
const (
	AgentGeneralAssistant     = "general_assistant"
	AgentBrowserSpecialist    = "browser_specialist"
	AgentDataAnalyst          = "data_analyst"
	AgentWorkflowOrchestrator = "workflow_orchestrator"
)

// Registry holds all known agent descriptors and provides lookup.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentConfig
	logger *slog.Logger
}

// NewRegistry creates a Registry pre-populated with the built-in default
// agents.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		agents: make(map[string]*domain.AgentConfig),
		logger: logger,
	}
	for _, cfg := range defaultAgents() {
		r.agents[cfg.ID] = cfg
	}
	return r
}

// Register adds an agent descriptor. Returns ErrDuplicateAgent if the ID is
// already taken.
func (r *Registry) Register(cfg *domain.AgentConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[cfg.ID]; exists {
		return domain.NewSubSystemError("dispatch", "Registry.Register", domain.ErrDuplicateAgent, cfg.ID)
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	r.agents[cfg.ID] = cfg
	r.logger.Info("agent registered", "agent_id", cfg.ID, "name", cfg.Name, "type", cfg.Type)
	return nil
}

// Get returns the descriptor for an agent ID, or ErrAgentNotFound.
func (r *Registry) Get(agentID string) (*domain.AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.agents[agentID]
	if !ok {
		return nil, domain.NewSubSystemError("dispatch", "Registry.Get", domain.ErrAgentNotFound, agentID)
	}
	return cfg, nil
}

// IDs returns all registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FromSpec converts a configured agent entry into a descriptor.
func FromSpec(spec config.AgentSpec) *domain.AgentConfig {
	agentType := spec.Type
	if agentType == "" {
		agentType = domain.AgentTypeCustom
	}
	return &domain.AgentConfig{
		ID:           spec.ID,
		Name:         spec.Name,
		Type:         agentType,
		Model:        spec.Model,
		Instructions: spec.Instructions,
		Tools:        spec.Tools,
		Capabilities: spec.Capabilities,
		MaxTokens:    spec.MaxTokens,
	}
}

// defaultAgents returns the built-in agent roster.
func defaultAgents() []*domain.AgentConfig {
	now := time.Now()
	return []*domain.AgentConfig{
		{
			ID:    AgentGeneralAssistant,
			Name:  "General Assistant",
			Type:  domain.AgentTypeLLM,
			Model: "gpt-4",
			Instructions: "You are a helpful AI assistant with access to various tools and capabilities. " +
				"You can help with web browsing, data analysis, file operations, and general questions. " +
				"Always be helpful, accurate, and efficient in your responses.",
			Tools: []string{"web_search", "calculator", "text_processing"},
			Capabilities: []domain.Capability{
				{Name: "general_conversation", Description: "Handle general conversation and questions", Required: true},
				{Name: "web_search", Description: "Search the web for information", Parameters: map[string]any{"max_results": 10}},
				{Name: "text_analysis", Description: "Analyze and process text content"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:    AgentBrowserSpecialist,
			Name:  "Browser Automation Specialist",
			Type:  domain.AgentTypeBrowser,
			Model: "gpt-4",
			Instructions: "You are specialized in web automation and browser tasks. " +
				"You can navigate websites, extract data, fill forms, take screenshots, and perform complex browser interactions. " +
				"Always prioritize user safety and respect website terms of service.",
			Tools: []string{"browser_automation", "screenshot", "web_scraping", "form_filling"},
			Capabilities: []domain.Capability{
				{Name: "web_navigation", Description: "Navigate and interact with web pages", Required: true},
				{Name: "data_extraction", Description: "Extract structured data from websites", Parameters: map[string]any{"formats": []string{"json", "csv", "xml"}}},
				{Name: "form_automation", Description: "Fill and submit web forms automatically"},
				{Name: "screenshot_capture", Description: "Capture screenshots of web pages"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:    AgentDataAnalyst,
			Name:  "Data Analysis Agent",
			Type:  domain.AgentTypeData,
			Model: "gpt-4",
			Instructions: "You are a data analysis expert with advanced analytical capabilities. " +
				"You can process data, create visualizations, perform statistical analysis, and provide insights. " +
				"Always ensure data privacy and provide clear, actionable insights.",
			Tools: []string{"data_processing", "visualization", "statistical_analysis", "file_operations"},
			Capabilities: []domain.Capability{
				{Name: "data_processing", Description: "Process and clean various data formats", Required: true, Parameters: map[string]any{"supported_formats": []string{"csv", "json", "xlsx", "parquet"}}},
				{Name: "statistical_analysis", Description: "Perform statistical analysis and modeling"},
				{Name: "data_visualization", Description: "Create charts and visualizations", Parameters: map[string]any{"chart_types": []string{"bar", "line", "scatter", "heatmap"}}},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:    AgentWorkflowOrchestrator,
			Name:  "Workflow Orchestration Agent",
			Type:  domain.AgentTypeWorkflow,
			Model: "gpt-4",
			Instructions: "You are a workflow orchestration specialist that can coordinate multiple agents and tasks. " +
				"You can break down complex requests into subtasks, delegate to appropriate agents, and manage execution flow. " +
				"Always ensure efficient task distribution and proper error handling.",
			Tools: []string{"agent_coordination", "task_scheduling", "workflow_management"},
			Capabilities: []domain.Capability{
				{Name: "task_decomposition", Description: "Break complex tasks into manageable subtasks", Required: true},
				{Name: "agent_delegation", Description: "Delegate tasks to appropriate specialized agents"},
				{Name: "workflow_monitoring", Description: "Monitor and manage workflow execution"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
