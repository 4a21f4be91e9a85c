package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ruster.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "default_model: anthropic/claude-sonnet-4\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SocketPath != "/tmp/ruster.sock" {
		t.Errorf("SocketPath = %q, want default", cfg.SocketPath)
	}
	if cfg.MaxToolRounds != 8 {
		t.Errorf("MaxToolRounds = %d, want 8", cfg.MaxToolRounds)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("LLM.Provider = %q, want anthropic", cfg.LLM.Provider)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RUSTER_TEST_KEY", "secret-123")
	path := writeConfig(t, "llm:\n  provider: anthropic\n  anthropic_api_key: ${RUSTER_TEST_KEY}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.AnthropicKey != "secret-123" {
		t.Errorf("AnthropicKey = %q, want expanded env var", cfg.LLM.AnthropicKey)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "not_a_real_key: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := &Config{MaxToolRounds: 1, SocketPath: "/tmp/x.sock"}
	cfg.LLM.Provider = "made-up"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown llm provider")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := &Config{MaxToolRounds: 1, SocketPath: "/tmp/x.sock", RAGThreshold: 1.5}
	cfg.LLM.Provider = "anthropic"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for out-of-range rag_threshold")
	}
}
