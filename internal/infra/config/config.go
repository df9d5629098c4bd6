package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"agenthub/internal/domain"
)

// Duration wraps time.Duration so config files can use "30s"-style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// GatewayConfig controls the fanout server.
type GatewayConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	Path   string `yaml:"path"`   // sqlite file path
}

// DispatchConfig holds dispatcher tunables.
type DispatchConfig struct {
	QueueSize           int      `yaml:"queue_size"`
	StuckCheckInterval  Duration `yaml:"stuck_check_interval"`
	StuckThreshold      Duration `yaml:"stuck_threshold"`
	ExpiryCheckInterval Duration `yaml:"expiry_check_interval"`
	ExpiryThreshold     Duration `yaml:"expiry_threshold"`
	ShutdownGrace       Duration `yaml:"shutdown_grace"`
	SessionRateLimit    int      `yaml:"session_rate_limit"` // submits per window per session; 0 disables
	SessionRateWindow   Duration `yaml:"session_rate_window"`
}

// BreakerConfig configures the per-process circuit breaker for tool calls.
type BreakerConfig struct {
	MaxFailures uint32   `yaml:"max_failures"`
	Timeout     Duration `yaml:"timeout"`
	Interval    Duration `yaml:"interval"`
}

// ToolProcess configures one supervised tool-provider process.
type ToolProcess struct {
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Timeout     Duration          `yaml:"timeout"`
	AutoRestart bool              `yaml:"auto_restart"`
	Connection  string            `yaml:"connection_type"` // stdio, socket, http
}

// AgentSpec configures a custom agent loaded at startup.
type AgentSpec struct {
	ID           string              `yaml:"id"`
	Name         string              `yaml:"name"`
	Type         domain.AgentType    `yaml:"type"`
	Model        string              `yaml:"model"`
	Instructions string              `yaml:"instructions"`
	Tools        []string            `yaml:"tools,omitempty"`
	Capabilities []domain.Capability `yaml:"capabilities,omitempty"`
	MaxTokens    int                 `yaml:"max_tokens,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	Logger        LoggerConfig           `yaml:"logger"`
	Gateway       GatewayConfig          `yaml:"gateway"`
	Store         StoreConfig            `yaml:"store"`
	Dispatch      DispatchConfig         `yaml:"dispatch"`
	Breaker       BreakerConfig          `yaml:"breaker"`
	Agents        []AgentSpec            `yaml:"agents,omitempty"`
	ToolProcesses map[string]ToolProcess `yaml:"tool_processes,omitempty"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Logger:  LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Gateway: GatewayConfig{Addr: "127.0.0.1:8765"},
		Store:   StoreConfig{Driver: "memory"},
		Dispatch: DispatchConfig{
			QueueSize:           64,
			StuckCheckInterval:  Duration(60 * time.Second),
			StuckThreshold:      Duration(5 * time.Minute),
			ExpiryCheckInterval: Duration(5 * time.Minute),
			ExpiryThreshold:     Duration(time.Hour),
			ShutdownGrace:       Duration(10 * time.Second),
			SessionRateWindow:   Duration(time.Minute),
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     Duration(30 * time.Second),
			Interval:    Duration(60 * time.Second),
		},
	}
}

// Load reads and validates a YAML config file, applying defaults for
// anything left unset and AGENTHUB_* environment overrides last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = def.Dispatch.QueueSize
	}
	if c.Dispatch.StuckCheckInterval <= 0 {
		c.Dispatch.StuckCheckInterval = def.Dispatch.StuckCheckInterval
	}
	if c.Dispatch.StuckThreshold <= 0 {
		c.Dispatch.StuckThreshold = def.Dispatch.StuckThreshold
	}
	if c.Dispatch.ExpiryCheckInterval <= 0 {
		c.Dispatch.ExpiryCheckInterval = def.Dispatch.ExpiryCheckInterval
	}
	if c.Dispatch.ExpiryThreshold <= 0 {
		c.Dispatch.ExpiryThreshold = def.Dispatch.ExpiryThreshold
	}
	if c.Dispatch.ShutdownGrace <= 0 {
		c.Dispatch.ShutdownGrace = def.Dispatch.ShutdownGrace
	}
	if c.Dispatch.SessionRateWindow <= 0 {
		c.Dispatch.SessionRateWindow = def.Dispatch.SessionRateWindow
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = def.Breaker.MaxFailures
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = def.Breaker.Timeout
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = def.Breaker.Interval
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = def.Gateway.Addr
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	for name, tp := range c.ToolProcesses {
		if tp.Timeout <= 0 {
			tp.Timeout = Duration(30 * time.Second)
		}
		if tp.Connection == "" {
			tp.Connection = domain.ConnectionStdio
		}
		c.ToolProcesses[name] = tp
	}
}

// envOverrides maps AGENTHUB_* variables onto deploy-time knobs.
type envOverrides struct {
	GatewayAddr string `envconfig:"GATEWAY_ADDR"`
	StoreDriver string `envconfig:"STORE_DRIVER"`
	StorePath   string `envconfig:"STORE_PATH"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// ApplyEnv overlays AGENTHUB_* environment variables onto the config.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("agenthub", &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if env.GatewayAddr != "" {
		c.Gateway.Addr = env.GatewayAddr
	}
	if env.StoreDriver != "" {
		c.Store.Driver = env.StoreDriver
	}
	if env.StorePath != "" {
		c.Store.Path = env.StorePath
	}
	if env.LogLevel != "" {
		c.Logger.Level = env.LogLevel
	}
	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	for name, tp := range c.ToolProcesses {
		if name == "" {
			return fmt.Errorf("tool_processes: empty process name")
		}
		if tp.Command == "" {
			return fmt.Errorf("tool_processes[%s]: command is required", name)
		}
		switch tp.Connection {
		case domain.ConnectionStdio, domain.ConnectionSocket, domain.ConnectionHTTP:
		default:
			return fmt.Errorf("tool_processes[%s]: unknown connection_type %q", name, tp.Connection)
		}
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents: agent id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("agents: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
