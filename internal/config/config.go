// Package config implements the runtime's configuration surface (§6.5):
// context budget, agent pool sizing, activity/permission timeouts, context
// thresholds, and per-tool overrides, loadable from YAML in the reference
// project's Default*Config+merge-if-nonzero idiom.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document for one nexus-agent
// process.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	AgentPool  AgentPoolConfig  `yaml:"agent_pool"`
	Permission PermissionConfig `yaml:"permission"`
	Tools      ToolsConfig      `yaml:"tools"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LLMConfig selects and configures the LLM provider backing the runtime
// (§6.2): either an Anthropic-compatible or an OpenAI-compatible endpoint.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "anthropic" or "openai"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// RuntimeConfig configures the Agent Runtime Turn Loop (§4.1/§6.5).
type RuntimeConfig struct {
	ContextSize             int               `yaml:"context_size"`
	ContextThresholds       ContextThresholds `yaml:"context_thresholds"`
	RequiredToolMaxWarnings int               `yaml:"required_tool_max_warnings"`
	ActivityTimeoutMs       int               `yaml:"activity_timeout_ms"`
	MaxIterations           int               `yaml:"max_iterations"`
}

// ContextThresholds are the percentage breakpoints described in §6.5.
type ContextThresholds struct {
	Informational int `yaml:"informational"`
	ReminderSoft  int `yaml:"reminder_soft"`
	ReminderHard  int `yaml:"reminder_hard"`
	Compact       int `yaml:"compact"`
}

// AgentPoolConfig configures the Delegation Subsystem's Agent Pool (§4.3).
type AgentPoolConfig struct {
	MaxSize           int `yaml:"max_size"`
	IdleTimeoutMs     int `yaml:"idle_timeout_ms"`
	CleanupIntervalMs int `yaml:"cleanup_interval_ms"`
}

// PermissionConfig configures the Permission / Trust Gate (§4.4).
type PermissionConfig struct {
	TimeoutMs        int      `yaml:"timeout_ms"`
	SafeTools        []string `yaml:"safe_tools"`
	DestructiveTools []string `yaml:"destructive_tools"`
}

// ToolsConfig carries per-tool overrides (§6.5 "Per-tool: timeout_ms,
// max_tokens").
type ToolsConfig struct {
	Defaults ToolOverride            `yaml:"defaults"`
	PerTool  map[string]ToolOverride `yaml:"per_tool"`
}

// ToolOverride is one tool's timeout/token override.
type ToolOverride struct {
	TimeoutMs int `yaml:"timeout_ms"`
	MaxTokens int `yaml:"max_tokens"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the canonical defaults named throughout §6.5.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		Runtime: RuntimeConfig{
			ContextSize: 8192,
			ContextThresholds: ContextThresholds{
				Informational: 70,
				ReminderSoft:  75,
				ReminderHard:  90,
				Compact:       95,
			},
			RequiredToolMaxWarnings: 5,
			ActivityTimeoutMs:       60000,
			MaxIterations:           50,
		},
		AgentPool: AgentPoolConfig{
			MaxSize:           10,
			IdleTimeoutMs:     300000,
			CleanupIntervalMs: 60000,
		},
		Permission: PermissionConfig{
			TimeoutMs: 30000,
			SafeTools: []string{
				"read", "grep", "ls", "web-fetch", "agent-delegate",
			},
			DestructiveTools: []string{"write", "edit", "bash"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses a YAML config file at path, applying defaults for
// any zero-valued field (the reference project's merge-if-nonzero pattern,
// here expressed as "parse onto the defaults" rather than a post-hoc merge
// pass, since yaml.Unmarshal only overwrites keys present in the document).
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	sanitize(cfg)
	return cfg, nil
}

func sanitize(cfg *Config) {
	d := Default()
	if cfg.Runtime.ContextSize <= 0 {
		cfg.Runtime.ContextSize = d.Runtime.ContextSize
	}
	if cfg.Runtime.ContextThresholds == (ContextThresholds{}) {
		cfg.Runtime.ContextThresholds = d.Runtime.ContextThresholds
	}
	if cfg.Runtime.RequiredToolMaxWarnings <= 0 {
		cfg.Runtime.RequiredToolMaxWarnings = d.Runtime.RequiredToolMaxWarnings
	}
	if cfg.Runtime.ActivityTimeoutMs <= 0 {
		cfg.Runtime.ActivityTimeoutMs = d.Runtime.ActivityTimeoutMs
	}
	if cfg.Runtime.MaxIterations <= 0 {
		cfg.Runtime.MaxIterations = d.Runtime.MaxIterations
	}
	if cfg.AgentPool.MaxSize <= 0 {
		cfg.AgentPool.MaxSize = d.AgentPool.MaxSize
	}
	if cfg.AgentPool.IdleTimeoutMs <= 0 {
		cfg.AgentPool.IdleTimeoutMs = d.AgentPool.IdleTimeoutMs
	}
	if cfg.AgentPool.CleanupIntervalMs <= 0 {
		cfg.AgentPool.CleanupIntervalMs = d.AgentPool.CleanupIntervalMs
	}
	if cfg.Permission.TimeoutMs <= 0 {
		cfg.Permission.TimeoutMs = d.Permission.TimeoutMs
	}
	if len(cfg.Permission.SafeTools) == 0 {
		cfg.Permission.SafeTools = d.Permission.SafeTools
	}
	if len(cfg.Permission.DestructiveTools) == 0 {
		cfg.Permission.DestructiveTools = d.Permission.DestructiveTools
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

// ActivityTimeout returns RuntimeConfig.ActivityTimeoutMs as a Duration.
func (r RuntimeConfig) ActivityTimeout() time.Duration {
	return time.Duration(r.ActivityTimeoutMs) * time.Millisecond
}

// IdleTimeout returns AgentPoolConfig.IdleTimeoutMs as a Duration.
func (p AgentPoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutMs) * time.Millisecond
}

// CleanupInterval returns AgentPoolConfig.CleanupIntervalMs as a Duration.
func (p AgentPoolConfig) CleanupInterval() time.Duration {
	return time.Duration(p.CleanupIntervalMs) * time.Millisecond
}

// Timeout returns PermissionConfig.TimeoutMs as a Duration.
func (p PermissionConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}
