// Package embeddings treats the embedding model as the opaque external
// collaborator spec.md §1 describes: "embed(text) → vector". Correctness
// of any concrete backend is out of scope; only the interface and a
// minimal HTTP-backed default exist so the daemon is runnable end to end.
package embeddings

import "context"

// Provider embeds text into a fixed-dimension vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Dimension() int
}

// Config configures the default HTTP-backed provider.
type Config struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}
