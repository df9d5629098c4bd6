package toolproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker/v2"

	"agenthub/internal/domain"
	"agenthub/internal/infra/config"
)

// toolEntry maps a registered tool name to its owning process and the
// compiled argument schema (nil when the tool declares none).
type toolEntry struct {
	spec    domain.ToolSpec
	process string
	schema  *jsonschema.Schema
}

// Manager owns every supervised tool process and the flat tool registry
// built from their discoveries. It implements domain.ToolCaller.
type Manager struct {
	breakerCfg config.BreakerConfig
	bus        domain.EventBus
	logger     *slog.Logger

	mu        sync.RWMutex
	processes map[string]*Process
	configs   map[string]config.ToolProcess
	tools     map[string]toolEntry
	breakers  map[string]*gobreaker.CircuitBreaker[json.RawMessage]
	restarts  map[string]*sync.Mutex // serializes Restart per process
}

// NewManager creates an empty Manager.
func NewManager(breakerCfg config.BreakerConfig, bus domain.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		breakerCfg: breakerCfg,
		bus:        bus,
		logger:     logger,
		processes:  make(map[string]*Process),
		configs:    make(map[string]config.ToolProcess),
		tools:      make(map[string]toolEntry),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[json.RawMessage]),
		restarts:   make(map[string]*sync.Mutex),
	}
}

// Initialize starts every configured process. A process that fails to start
// is logged and skipped; the rest still come up.
func (m *Manager) Initialize(ctx context.Context, procs map[string]config.ToolProcess) {
	names := make([]string, 0, len(procs))
	for name := range procs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.Add(ctx, name, procs[name]); err != nil {
			m.logger.Error("tool process failed to start, skipping",
				"server", name, "error", err)
		}
	}
}

// Add starts a new named process and registers its tools.
func (m *Manager) Add(ctx context.Context, name string, cfg config.ToolProcess) error {
	m.mu.Lock()
	if _, exists := m.processes[name]; exists {
		m.mu.Unlock()
		return domain.NewSubSystemError("toolproc", "Manager.Add", domain.ErrDuplicateProcess, name)
	}
	m.mu.Unlock()

	proc := NewProcess(name, cfg, m.logger)
	if err := proc.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.processes[name] = proc
	m.configs[name] = cfg
	m.breakers[name] = m.newBreaker(name)
	m.registerToolsLocked(proc)
	m.mu.Unlock()

	m.emit(ctx, domain.EventProcessStarted, name)
	return nil
}

// Remove stops a process and drops its tools from the registry.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	proc, ok := m.processes[name]
	if !ok {
		m.mu.Unlock()
		return domain.NewSubSystemError("toolproc", "Manager.Remove", domain.ErrNotFound, name)
	}
	delete(m.processes, name)
	delete(m.configs, name)
	delete(m.breakers, name)
	m.unregisterToolsLocked(name)
	m.mu.Unlock()

	err := proc.Stop(ctx)
	m.emit(ctx, domain.EventProcessStopped, name)
	return err
}

// Restart stops and relaunches a process. The registry swap is atomic:
// readers see either the old tool set or the new one, never both and never
// a mix. A failed relaunch leaves the process removed and its tools
// unregistered. Restarts of the same process are serialized, so two
// callers observing the same death cannot both launch a replacement.
func (m *Manager) Restart(ctx context.Context, name string) error {
	lock := m.restartLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	proc, ok := m.processes[name]
	cfg := m.configs[name]
	m.mu.Unlock()
	if !ok {
		return domain.NewSubSystemError("toolproc", "Manager.Restart", domain.ErrNotFound, name)
	}

	if err := proc.Stop(ctx); err != nil {
		m.logger.Warn("stop during restart failed", "server", name, "error", err)
	}

	fresh := NewProcess(name, cfg, m.logger)
	if err := fresh.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.processes, name)
		delete(m.configs, name)
		delete(m.breakers, name)
		m.unregisterToolsLocked(name)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.processes[name] = fresh
	m.breakers[name] = m.newBreaker(name)
	m.unregisterToolsLocked(name)
	m.registerToolsLocked(fresh)
	m.mu.Unlock()

	m.emit(ctx, domain.EventProcessRestarted, name)
	return nil
}

// CallTool implements domain.ToolCaller. Arguments are validated against
// the tool's declared schema before the call crosses the process boundary.
// When the owning process has died and is configured for auto-restart, one
// restart-and-retry is attempted.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	result, err := m.callOnce(ctx, name, args)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, domain.ErrProcessTerminated) {
		m.mu.RLock()
		entry, ok := m.tools[name]
		var autoRestart bool
		if ok {
			autoRestart = m.configs[entry.process].AutoRestart
		}
		m.mu.RUnlock()

		if ok && autoRestart {
			// A concurrent caller may have restarted the process while this
			// call was failing; only restart a process that is still down.
			m.mu.RLock()
			proc := m.processes[entry.process]
			m.mu.RUnlock()
			if proc == nil || !proc.Running() {
				m.logger.Warn("tool process died, restarting", "server", entry.process, "tool", name)
				if rerr := m.Restart(ctx, entry.process); rerr != nil {
					return nil, rerr
				}
			}
			return m.callOnce(ctx, name, args)
		}
	}
	return nil, err
}

func (m *Manager) callOnce(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	m.mu.RLock()
	entry, ok := m.tools[name]
	var proc *Process
	var breaker *gobreaker.CircuitBreaker[json.RawMessage]
	if ok {
		proc = m.processes[entry.process]
		breaker = m.breakers[entry.process]
	}
	m.mu.RUnlock()

	if !ok || proc == nil {
		return nil, domain.NewSubSystemError("toolproc", "Manager.CallTool", domain.ErrToolNotFound, name)
	}

	if entry.schema != nil {
		if err := validateArgs(entry.schema, args); err != nil {
			return nil, domain.NewSubSystemError("toolproc", "Manager.CallTool", domain.ErrToolInvocation,
				fmt.Sprintf("%s: %v", name, err))
		}
	}

	result, err := breaker.Execute(func() (json.RawMessage, error) {
		return proc.Call(ctx, name, args)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewSubSystemError("toolproc", "Manager.CallTool", domain.ErrToolInvocation,
				fmt.Sprintf("%s: circuit open for %q: %v", name, entry.process, err))
		}
		return nil, err
	}
	return result, nil
}

// ListTools implements domain.ToolCaller.
func (m *Manager) ListTools() []domain.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	specs := make([]domain.ToolSpec, 0, len(m.tools))
	for _, entry := range m.tools {
		specs = append(specs, entry.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ToolsForAgent implements domain.ToolCaller: it filters the registry down
// to the categories an agent type works with.
func (m *Manager) ToolsForAgent(agentType domain.AgentType) []string {
	wanted := categoriesFor(agentType)

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		if wanted == nil || wanted[categorize(name)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ProcessHealth describes one supervised process.
type ProcessHealth struct {
	Running    bool   `json:"running"`
	Tools      int    `json:"tools"`
	Connection string `json:"connection"`
}

// HealthReport summarizes the supervisor: per-process detail plus
// running/total counts.
type HealthReport struct {
	Running   int                      `json:"running"`
	Total     int                      `json:"total"`
	Processes map[string]ProcessHealth `json:"processes"`
}

// Health reports per-process liveness, tool counts, and connection kinds.
func (m *Manager) Health() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := HealthReport{Processes: make(map[string]ProcessHealth, len(m.processes))}
	for name, proc := range m.processes {
		running := proc.Running()
		report.Processes[name] = ProcessHealth{
			Running:    running,
			Tools:      len(proc.Tools()),
			Connection: m.configs[name].Connection,
		}
		report.Total++
		if running {
			report.Running++
		}
	}
	return report
}

// Stop shuts down every process.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	procs := make([]*Process, 0, len(m.processes))
	for _, p := range m.processes {
		procs = append(procs, p)
	}
	m.processes = make(map[string]*Process)
	m.tools = make(map[string]toolEntry)
	m.breakers = make(map[string]*gobreaker.CircuitBreaker[json.RawMessage])
	m.mu.Unlock()

	for _, p := range procs {
		if err := p.Stop(ctx); err != nil {
			m.logger.Warn("tool process stop failed", "server", p.Name(), "error", err)
		}
	}
}

// --- internal ---

// registerToolsLocked folds a process's discovered tools into the flat
// registry. Name collisions resolve last-registration-wins.
func (m *Manager) registerToolsLocked(proc *Process) {
	for _, spec := range proc.Tools() {
		if prev, exists := m.tools[spec.Name]; exists && prev.process != proc.Name() {
			m.logger.Warn("tool name collision, replacing",
				"tool", spec.Name, "old_server", prev.process, "new_server", proc.Name())
		}

		schema, err := compileSchema(spec)
		if err != nil {
			m.logger.Warn("tool schema failed to compile, skipping validation",
				"tool", spec.Name, "server", proc.Name(), "error", err)
		}
		m.tools[spec.Name] = toolEntry{spec: spec, process: proc.Name(), schema: schema}
	}
}

func (m *Manager) restartLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.restarts[name]
	if !ok {
		lock = &sync.Mutex{}
		m.restarts[name] = lock
	}
	return lock
}

func (m *Manager) unregisterToolsLocked(processName string) {
	for name, entry := range m.tools {
		if entry.process == processName {
			delete(m.tools, name)
		}
	}
}

func (m *Manager) newBreaker(name string) *gobreaker.CircuitBreaker[json.RawMessage] {
	maxFailures := m.breakerCfg.MaxFailures
	logger := m.logger
	return gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "toolproc:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    m.breakerCfg.Interval.Std(),
		Timeout:     m.breakerCfg.Timeout.Std(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

func (m *Manager) emit(ctx context.Context, eventType domain.EventType, processName string) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"server": processName})
	m.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func compileSchema(spec domain.ToolSpec) (*jsonschema.Schema, error) {
	raw := spec.InputSchema
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", spec.Name, err)
	}
	return compiler.Compile("schema.json")
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// Round-trip through JSON so the value shape matches what the schema
	// library expects (float64 numbers, map[string]interface{}).
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// Tool name categories, used to scope what each agent type sees.
const (
	categoryBrowser = "browser_automation"
	categoryFile    = "file_operations"
	categoryWeb     = "web_automation"
	categoryGeneral = "general"
)

// categorize buckets a tool by its name.
func categorize(name string) string {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "browser", "page", "click", "screenshot"):
		return categoryBrowser
	case containsAny(n, "file", "read", "write", "directory"):
		return categoryFile
	case containsAny(n, "web", "http", "url", "fetch"):
		return categoryWeb
	default:
		return categoryGeneral
	}
}

// categoriesFor returns the categories an agent type works with, or nil
// for "everything".
func categoriesFor(agentType domain.AgentType) map[string]bool {
	switch agentType {
	case domain.AgentTypeBrowser:
		return map[string]bool{categoryBrowser: true, categoryWeb: true}
	case domain.AgentTypeData:
		return map[string]bool{categoryFile: true, categoryWeb: true}
	default:
		return nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ domain.ToolCaller = (*Manager)(nil)
