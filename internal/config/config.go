// Package config loads and validates the daemon's YAML configuration file
// (spec.md §6's configuration-keys table), following the teacher's
// read-expand-decode-default-validate pipeline.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's top-level configuration.
type Config struct {
	SocketPath string `yaml:"socket_path"`
	SocketMode uint32 `yaml:"socket_mode"`
	BaseDir    string `yaml:"base_dir"`

	DefaultModel string  `yaml:"default_model"`
	RAGModel     string  `yaml:"rag_model"`
	RAGTopN      int     `yaml:"rag_top_n"`
	RAGThreshold float64 `yaml:"rag_threshold"`

	SkillsDirs    []string `yaml:"skills_dirs"`
	InitialSkills []string `yaml:"initial_skills"`

	ProactiveIntervalSecs int    `yaml:"proactive_interval_secs"`
	LogLevel              string `yaml:"log_level"`

	ToolRunDir      string `yaml:"tool_run_dir"`
	ToolOutputLines int    `yaml:"tool_output_lines"`
	ToolTimeoutSecs int    `yaml:"tool_timeout_secs"`
	MaxToolRounds   int    `yaml:"max_tool_rounds"`

	ProxyURL string `yaml:"proxy_url"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LLMConfig selects and credentials the upstream chat provider (spec.md's
// "HTTP proxy that mediates with upstream model providers", treated as an
// opaque chat/stream endpoint — Ruster talks to it through internal/llmgateway).
type LLMConfig struct {
	Provider     string `yaml:"provider"` // "anthropic" or "openai"
	AnthropicKey string `yaml:"anthropic_api_key"`
	OpenAIKey    string `yaml:"openai_api_key"`
	BaseURL      string `yaml:"base_url"`
}

// EmbeddingConfig selects the embedding provider and its cache location,
// backing both the RAG Selector's skill vectors and query embeddings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "http" talks to BaseURL/embed
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	CachePath string `yaml:"cache_path"`
	Dimension int    `yaml:"dimension"`
}

// MetricsConfig enables the optional Prometheus HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads path, expands ${ENV_VAR} references, decodes strict YAML,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: %s: expected a single YAML document", path)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/tmp/ruster.sock"
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0o666
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/var/lib/ruster"
	}
	if cfg.RAGTopN == 0 {
		cfg.RAGTopN = 3
	}
	if cfg.RAGThreshold == 0 {
		cfg.RAGThreshold = 0.3
	}
	if cfg.ProactiveIntervalSecs == 0 {
		cfg.ProactiveIntervalSecs = 300
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ToolRunDir == "" {
		cfg.ToolRunDir = cfg.BaseDir + "/tool_runs"
	}
	if cfg.ToolOutputLines == 0 {
		cfg.ToolOutputLines = 10
	}
	if cfg.ToolTimeoutSecs == 0 {
		cfg.ToolTimeoutSecs = 30
	}
	if cfg.MaxToolRounds == 0 {
		cfg.MaxToolRounds = 8
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "http"
	}
	if cfg.Embedding.CachePath == "" {
		cfg.Embedding.CachePath = cfg.BaseDir + "/state/embeddings.db"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 1536
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9090"
	}
	if len(cfg.SkillsDirs) == 0 {
		cfg.SkillsDirs = []string{cfg.BaseDir + "/skills"}
	}
}

// Validate rejects configurations the daemon cannot safely start with.
func Validate(cfg *Config) error {
	if cfg.SocketPath == "" {
		return fmt.Errorf("config: socket_path is required")
	}
	if cfg.RAGTopN < 0 {
		return fmt.Errorf("config: rag_top_n must be >= 0")
	}
	if cfg.RAGThreshold < 0 || cfg.RAGThreshold > 1 {
		return fmt.Errorf("config: rag_threshold must be in [0,1]")
	}
	if cfg.MaxToolRounds <= 0 {
		return fmt.Errorf("config: max_tool_rounds must be > 0")
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: llm.provider must be anthropic or openai, got %q", cfg.LLM.Provider)
	}
	return nil
}
