package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesPartialDocumentOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "llm:\n  provider: openai\n  api_key: sk-test\nruntime:\n  context_size: 4096\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected overridden LLM fields, got %+v", cfg.LLM)
	}
	if cfg.Runtime.ContextSize != 4096 {
		t.Fatalf("expected overridden context size 4096, got %d", cfg.Runtime.ContextSize)
	}
	// Untouched fields should fall back to defaults.
	if cfg.Runtime.MaxIterations != Default().Runtime.MaxIterations {
		t.Fatalf("expected default max iterations preserved, got %d", cfg.Runtime.MaxIterations)
	}
	if cfg.AgentPool.MaxSize != Default().AgentPool.MaxSize {
		t.Fatalf("expected default agent pool size preserved, got %d", cfg.AgentPool.MaxSize)
	}
	if len(cfg.Permission.SafeTools) == 0 {
		t.Fatal("expected default safe tools list preserved when the document omits it")
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestSanitizeFillsZeroContextThresholdsWholesale(t *testing.T) {
	cfg := &Config{}
	sanitize(cfg)
	if cfg.Runtime.ContextThresholds != Default().Runtime.ContextThresholds {
		t.Fatalf("expected zero-valued thresholds replaced wholesale by defaults, got %+v", cfg.Runtime.ContextThresholds)
	}
}

func TestDefaultConfigHasCoherentTimeouts(t *testing.T) {
	d := Default()
	if d.Permission.Timeout() <= 0 {
		t.Fatal("expected a positive default permission timeout")
	}
	if d.AgentPool.IdleTimeout() <= 0 {
		t.Fatal("expected a positive default agent pool idle timeout")
	}
	if d.Runtime.ActivityTimeout() <= 0 {
		t.Fatal("expected a positive default activity timeout")
	}
}
