package runtime

import (
	"log/slog"
	"time"
)

// ContextThresholds are the canonical percentages from §4.5/§6.5.
type ContextThresholds struct {
	Informational int // 70
	ReminderSoft  int // 75
	ReminderHard  int // 90
	Compact       int // 95
}

// DefaultContextThresholds returns the spec's canonical values.
func DefaultContextThresholds() ContextThresholds {
	return ContextThresholds{Informational: 70, ReminderSoft: 75, ReminderHard: 90, Compact: 95}
}

// Config configures an Agent. Follows the reference's Default*Config +
// merge-if-nonzero pattern (internal/agent/options.go).
type Config struct {
	Logger *slog.Logger

	ContextSize       int
	ContextThresholds ContextThresholds

	RequiredToolMaxWarnings int
	ActivityTimeout         time.Duration

	// MaxIterations bounds the LLM-call/tool-execute loop per turn as a
	// last-resort safety net beyond the required-tools warning ceiling.
	MaxIterations int
}

// DefaultConfig returns the §6.5 canonical defaults.
func DefaultConfig() Config {
	return Config{
		Logger:                  slog.Default(),
		ContextSize:             8192,
		ContextThresholds:       DefaultContextThresholds(),
		RequiredToolMaxWarnings: 5,
		ActivityTimeout:         60 * time.Second,
		MaxIterations:           50,
	}
}

func sanitizeConfig(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = d.ContextSize
	}
	if cfg.ContextThresholds == (ContextThresholds{}) {
		cfg.ContextThresholds = d.ContextThresholds
	}
	if cfg.RequiredToolMaxWarnings <= 0 {
		cfg.RequiredToolMaxWarnings = d.RequiredToolMaxWarnings
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = d.ActivityTimeout
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	return cfg
}
