package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

const historyWindow = 10 // messages of context handed to the behavior

// Deps bundles the Manager's collaborators.
type Deps struct {
	Registry *Registry
	Router   *Router
	Executor *Executor
	Tools    domain.ToolCaller // may be nil
	Store    domain.SessionStore
	Bus      domain.EventBus
	Logger   *slog.Logger
}

// SubmitRequest is one inbound user request.
type SubmitRequest struct {
	SessionID string         // empty mints a new session
	Message   string
	TypeHint  string         // caller's agent kind preference; "" or "default" means none
	ToolHints []string
	Context   map[string]any
}

// Manager owns agent selection, per-agent FIFO queues and workers, and the
// session-bound instance lifecycle. Submit acknowledges immediately; the
// actual reply is published on the event bus when the agent's worker gets
// to the task.
type Manager struct {
	cfg      config.DispatchConfig
	registry *Registry
	router   *Router
	executor *Executor
	tools    domain.ToolCaller
	store    domain.SessionStore
	bus      domain.EventBus
	limiter  *sessionLimiter
	metrics  *metricsBook
	logger   *slog.Logger

	mu        sync.Mutex
	queues    map[string]chan domain.DispatchTask
	instances map[string]*domain.AgentInstance // instanceID -> instance
	sessions  map[string]string                // sessionID -> instanceID
	started   bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. Call Start before Submit.
func NewManager(cfg config.DispatchConfig, deps Deps) *Manager {
	return &Manager{
		cfg:       cfg,
		registry:  deps.Registry,
		router:    deps.Router,
		executor:  deps.Executor,
		tools:     deps.Tools,
		store:     deps.Store,
		bus:       deps.Bus,
		limiter:   newSessionLimiter(cfg.SessionRateLimit, cfg.SessionRateWindow.Std()),
		metrics:   newMetricsBook(),
		logger:    deps.Logger,
		queues:    make(map[string]chan domain.DispatchTask),
		instances: make(map[string]*domain.AgentInstance),
		sessions:  make(map[string]string),
	}
}

// Start launches one worker per registered agent plus the monitoring
// sweeps. Workers outlive the passed context; Stop shuts them down.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.runCtx, m.cancel = context.WithCancel(context.Background())

	for _, agentID := range m.registry.IDs() {
		m.startWorkerLocked(agentID)
	}

	m.wg.Add(2)
	go m.monitorLoop()
	go m.cleanupLoop()

	m.logger.Info("dispatch manager started", "agents", len(m.queues))
}

// Stop cancels workers and sweeps and waits up to the shutdown grace
// period for in-flight tasks to finish.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	grace := m.cfg.ShutdownGrace.Std()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		m.logger.Info("dispatch manager stopped")
	case <-timer.C:
		m.logger.Warn("dispatch workers did not finish within grace period", "grace", grace)
	case <-ctx.Done():
	}
}

// Submit routes a request to an agent and enqueues it for that agent's
// worker. The returned ack carries the minted/confirmed session and
// instance; the reply itself arrives through the event bus.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.DispatchAccepted, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = domain.SessionIDFrom(ctx)
	}
	if sessionID == "" {
		minted, err := m.store.CreateSession(ctx)
		if err != nil {
			return nil, domain.WrapOp("create session", err)
		}
		sessionID = minted
	}

	if !m.limiter.Allow(sessionID) {
		return nil, domain.NewSubSystemError("dispatch", "Manager.Submit", domain.ErrRateLimited, sessionID)
	}

	agentID := m.router.Select(req.Message, req.ToolHints, req.TypeHint)
	agentCfg, err := m.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	instance := m.getOrCreateInstance(agentID, sessionID)

	if err := m.store.AppendMessage(ctx, sessionID, domain.RoleUser, req.Message,
		map[string]any{"agent_id": agentID, "instance_id": instance.InstanceID}); err != nil {
		m.logger.Warn("failed to record user message", "session_id", sessionID, "error", err)
	}

	task := domain.DispatchTask{
		InstanceID: instance.InstanceID,
		SessionID:  sessionID,
		Message:    req.Message,
		Context:    req.Context,
		ToolHints:  req.ToolHints,
		EnqueuedAt: time.Now(),
	}

	m.mu.Lock()
	queue, ok := m.queues[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, domain.NewSubSystemError("dispatch", "Manager.Submit", domain.ErrAgentNotFound, agentID)
	}

	select {
	case queue <- task:
	default:
		return nil, domain.NewSubSystemError("dispatch", "Manager.Submit", domain.ErrQueueFull, agentID)
	}

	return &domain.DispatchAccepted{
		Response:   "Request queued for processing. You'll receive the response shortly.",
		SessionID:  sessionID,
		AgentID:    agentID,
		InstanceID: instance.InstanceID,
		Metadata: map[string]any{
			"agent_name": agentCfg.Name,
			"model":      agentCfg.Model,
			"status":     "queued",
		},
	}, nil
}

// CreateAgent registers a custom agent and starts its worker.
func (m *Manager) CreateAgent(ctx context.Context, cfg *domain.AgentConfig) (string, error) {
	if cfg.ID == "" {
		return "", domain.NewSubSystemError("dispatch", "Manager.CreateAgent", domain.ErrInvalidInput, "agent id is required")
	}
	if cfg.Type == "" {
		cfg.Type = domain.AgentTypeCustom
	}
	if err := m.registry.Register(cfg); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.started {
		m.startWorkerLocked(cfg.ID)
	}
	m.mu.Unlock()

	m.publish(domain.EventAgentCreated, "", map[string]any{"agent_id": cfg.ID, "type": cfg.Type})
	return cfg.ID, nil
}

// Instance returns a snapshot of one live instance.
func (m *Manager) Instance(instanceID string) (domain.AgentInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return domain.AgentInstance{}, domain.NewSubSystemError("dispatch", "Manager.Instance", domain.ErrInstanceNotFound, instanceID)
	}
	return *inst, nil
}

// AgentStatus returns a status snapshot for one agent.
func (m *Manager) AgentStatus(agentID string) (*domain.AgentStatusReport, error) {
	cfg, err := m.registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	metrics := m.metrics.Snapshot(agentID)

	m.mu.Lock()
	active := 0
	for _, inst := range m.instances {
		if inst.AgentID == agentID && inst.Status != domain.AgentStatusOffline {
			active++
		}
	}
	m.mu.Unlock()

	status := "offline"
	if active > 0 {
		status = "online"
	}
	successRate := 0.0
	if metrics.TotalRequests > 0 {
		successRate = float64(metrics.SuccessfulRequests) / float64(metrics.TotalRequests) * 100
	}

	tools := cfg.Tools
	if m.tools != nil {
		tools = m.resolveTools(cfg)
	}

	return &domain.AgentStatusReport{
		AgentID:             agentID,
		Name:                cfg.Name,
		Type:                cfg.Type,
		Status:              status,
		ActiveInstances:     active,
		TotalRequests:       metrics.TotalRequests,
		SuccessRate:         successRate,
		AverageResponseTime: metrics.AverageResponseTime,
		Tools:               tools,
	}, nil
}

// ListAgents returns status snapshots for every registered agent.
func (m *Manager) ListAgents() []domain.AgentStatusReport {
	ids := m.registry.IDs()
	reports := make([]domain.AgentStatusReport, 0, len(ids))
	for _, id := range ids {
		if report, err := m.AgentStatus(id); err == nil {
			reports = append(reports, *report)
		}
	}
	return reports
}

// Metrics returns the running totals for one agent.
func (m *Manager) Metrics(agentID string) domain.AgentMetrics {
	return m.metrics.Snapshot(agentID)
}

// --- workers ---

func (m *Manager) startWorkerLocked(agentID string) {
	if _, exists := m.queues[agentID]; exists {
		return
	}
	queue := make(chan domain.DispatchTask, m.cfg.QueueSize)
	m.queues[agentID] = queue

	m.wg.Add(1)
	go m.worker(agentID, queue)
}

// worker drains one agent's queue. Tasks for the same agent never run
// concurrently; a failing task does not stop the loop.
func (m *Manager) worker(agentID string, queue chan domain.DispatchTask) {
	defer m.wg.Done()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case task := <-queue:
			m.processTask(agentID, task)
		}
	}
}

func (m *Manager) processTask(agentID string, task domain.DispatchTask) {
	agentCfg, err := m.registry.Get(agentID)
	if err != nil {
		m.logger.Error("worker running for unknown agent", "agent_id", agentID)
		return
	}

	m.mu.Lock()
	if inst, ok := m.instances[task.InstanceID]; ok {
		inst.Status = domain.AgentStatusBusy
		inst.CurrentTask = truncate(task.Message, 100)
		inst.LastActivity = time.Now()
	}
	m.mu.Unlock()

	history, err := m.store.RecentHistory(m.runCtx, task.SessionID, historyWindow)
	if err != nil {
		m.logger.Warn("failed to load history", "session_id", task.SessionID, "error", err)
	}

	req := CompletionRequest{
		AgentID:      agentID,
		SessionID:    task.SessionID,
		Model:        agentCfg.Model,
		Instructions: agentCfg.Instructions,
		Message:      task.Message,
		History:      history,
		Tools:        m.resolveTools(agentCfg),
		Context:      task.Context,
	}

	start := time.Now()
	reply, err := m.executor.Execute(m.runCtx, agentCfg, req)
	elapsed := time.Since(start)

	if err != nil {
		m.metrics.RecordFailure(agentID)
		m.mu.Lock()
		if inst, ok := m.instances[task.InstanceID]; ok {
			inst.Status = domain.AgentStatusError
			inst.CurrentTask = ""
			inst.ErrorCount++
			inst.LastActivity = time.Now()
		}
		m.mu.Unlock()

		m.logger.Error("agent task failed", "agent_id", agentID, "instance_id", task.InstanceID, "error", err)
		m.publish(domain.EventAgentError, task.SessionID, map[string]any{
			"agent_id":    agentID,
			"instance_id": task.InstanceID,
			"error":       err.Error(),
			"code":        domain.ErrorCodeOf(err),
		})
		return
	}

	m.metrics.RecordSuccess(agentID, elapsed)

	m.mu.Lock()
	if inst, ok := m.instances[task.InstanceID]; ok {
		inst.Status = domain.AgentStatusIdle
		inst.CurrentTask = ""
		inst.MessageCount++
		inst.LastActivity = time.Now()
	}
	m.mu.Unlock()

	if err := m.store.AppendMessage(m.runCtx, task.SessionID, domain.RoleAssistant, reply,
		map[string]any{"agent_id": agentID}); err != nil {
		m.logger.Warn("failed to record assistant message", "session_id", task.SessionID, "error", err)
	}

	m.publish(domain.EventAgentResponse, task.SessionID, map[string]any{
		"agent_id":      agentID,
		"instance_id":   task.InstanceID,
		"response":      reply,
		"response_time": elapsed.Seconds(),
	})
}

// --- instances ---

// getOrCreateInstance binds a session to exactly one instance. Repeated
// submits on the same session reuse the binding regardless of where the
// router would send a fresh message.
func (m *Manager) getOrCreateInstance(agentID, sessionID string) *domain.AgentInstance {
	m.mu.Lock()
	if instanceID, ok := m.sessions[sessionID]; ok {
		if inst, ok := m.instances[instanceID]; ok {
			m.mu.Unlock()
			return inst
		}
	}

	now := time.Now()
	inst := &domain.AgentInstance{
		InstanceID:   newID(),
		AgentID:      agentID,
		SessionID:    sessionID,
		Status:       domain.AgentStatusIdle,
		StartTime:    now,
		LastActivity: now,
	}
	m.instances[inst.InstanceID] = inst
	m.sessions[sessionID] = inst.InstanceID
	m.mu.Unlock()

	m.logger.Info("agent instance created", "instance_id", inst.InstanceID, "agent_id", agentID, "session_id", sessionID)
	m.publish(domain.EventInstanceCreated, sessionID, map[string]any{
		"instance_id": inst.InstanceID,
		"agent_id":    agentID,
	})
	return inst
}

// --- sweeps ---

// monitorLoop flags busy instances with no recent activity and logs
// per-agent metrics.
func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.StuckCheckInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.sweepStuck()
			m.logMetrics()
		}
	}
}

func (m *Manager) sweepStuck() {
	threshold := m.cfg.StuckThreshold.Std()
	now := time.Now()

	type stuck struct{ instanceID, agentID, sessionID string }
	var flagged []stuck

	m.mu.Lock()
	for _, inst := range m.instances {
		if inst.Status == domain.AgentStatusBusy && now.Sub(inst.LastActivity) > threshold {
			inst.Status = domain.AgentStatusError
			inst.CurrentTask = ""
			flagged = append(flagged, stuck{inst.InstanceID, inst.AgentID, inst.SessionID})
		}
	}
	m.mu.Unlock()

	for _, s := range flagged {
		m.logger.Warn("instance appears stuck, resetting", "instance_id", s.instanceID, "agent_id", s.agentID)
		m.publish(domain.EventInstanceStuck, s.sessionID, map[string]any{
			"instance_id": s.instanceID,
			"agent_id":    s.agentID,
		})
	}
}

func (m *Manager) logMetrics() {
	for _, agentID := range m.registry.IDs() {
		metrics := m.metrics.Snapshot(agentID)
		if metrics.TotalRequests == 0 {
			continue
		}
		successRate := float64(metrics.SuccessfulRequests) / float64(metrics.TotalRequests) * 100
		m.logger.Info("agent metrics",
			"agent_id", agentID,
			"requests", metrics.TotalRequests,
			"success_rate", successRate,
			"avg_response_time", metrics.AverageResponseTime)
	}
}

// cleanupLoop removes instances whose sessions have gone quiet.
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ExpiryCheckInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	threshold := m.cfg.ExpiryThreshold.Std()
	now := time.Now()

	type expired struct{ instanceID, agentID, sessionID string }
	var removed []expired

	m.mu.Lock()
	for id, inst := range m.instances {
		if now.Sub(inst.LastActivity) > threshold {
			delete(m.instances, id)
			delete(m.sessions, inst.SessionID)
			removed = append(removed, expired{id, inst.AgentID, inst.SessionID})
		}
	}
	m.mu.Unlock()

	for _, e := range removed {
		m.limiter.Forget(e.sessionID)
		m.logger.Info("cleaned up expired instance", "instance_id", e.instanceID, "agent_id", e.agentID)
		m.publish(domain.EventInstanceExpired, e.sessionID, map[string]any{
			"instance_id": e.instanceID,
			"agent_id":    e.agentID,
		})
	}
}

// --- helpers ---

func (m *Manager) resolveTools(cfg *domain.AgentConfig) []string {
	tools := make([]string, 0, len(cfg.Tools))
	seen := make(map[string]bool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if !seen[t] {
			seen[t] = true
			tools = append(tools, t)
		}
	}
	if m.tools != nil {
		for _, t := range m.tools.ToolsForAgent(cfg.Type) {
			if !seen[t] {
				seen[t] = true
				tools = append(tools, t)
			}
		}
	}
	return tools
}

func (m *Manager) publish(eventType domain.EventType, sessionID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	m.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   data,
	})
}

// truncate cuts s to at most max bytes, backing up to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
