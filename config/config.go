package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the librarian engine. It is passed
// explicitly to each component constructor; there is no ambient state.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Query      QueryConfig      `yaml:"query"`
	Library    LibraryConfig    `yaml:"library"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig holds fragment store configuration.
type StoreConfig struct {
	Path string `yaml:"path"` // empty means .librarian/library.db under the data dir
}

// ChunkerConfig holds chunking configuration.
type ChunkerConfig struct {
	ChunkTokens  int `yaml:"chunk_tokens"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// EmbeddingConfig holds embedding provider configuration. The triple
// (provider, model, dimension) is part of the store's schema contract.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`    // "openai", "ollama", "jina", "mock"
	Model       string `yaml:"model"`       // e.g. "nomic-embed-text"
	APIKeyEnv   string `yaml:"api_key_env"` // environment variable holding the API key
	BaseURL     string `yaml:"base_url"`
	Dimension   int    `yaml:"dimension"`
	BatchSize   int    `yaml:"batch_size"`
	MaxParallel int    `yaml:"max_parallel"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// CompletionConfig holds completion backend configuration.
type CompletionConfig struct {
	Provider     string  `yaml:"provider"` // "openai", "ollama", "mock"
	Model        string  `yaml:"model"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	BaseURL      string  `yaml:"base_url"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Stream       bool    `yaml:"stream"`
}

// QueryConfig holds query engine configuration.
type QueryConfig struct {
	TopK          int    `yaml:"top_k"`
	ContextBudget int    `yaml:"context_budget"` // token budget for the assembled context
	OnEmpty       string `yaml:"on_empty"`       // "skip" or "prompt"
	TimeoutSecs   int    `yaml:"timeout_secs"`
	CacheSize     int    `yaml:"cache_size"`
	CacheTTLSecs  int    `yaml:"cache_ttl_secs"`
}

// LibraryConfig holds directory ingestion configuration.
type LibraryConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	// OnEmptySkip returns a no-context answer without calling the
	// completion backend when retrieval is empty.
	OnEmptySkip = "skip"
	// OnEmptyPrompt calls the completion backend with an explicit notice
	// that no context was found.
	OnEmptyPrompt = "prompt"
)

// DefaultSystemPrompt mirrors the tone expected by the research workbench.
const DefaultSystemPrompt = "You are a medical professional answering fellow medical professionals. " +
	"Be truthful, terse and concise. Answer only from the provided context and cite sources as [n]. " +
	"If the context does not contain the answer, say so."

// DefaultConfig returns the default configuration. Defaults target a local
// Ollama instance so the engine works without API keys.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{},
		Chunker: ChunkerConfig{
			ChunkTokens:  256,
			ChunkOverlap: 32,
		},
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			Model:       "nomic-embed-text",
			APIKeyEnv:   "OPENAI_API_KEY",
			Dimension:   768,
			BatchSize:   64,
			MaxParallel: 4,
			TimeoutSecs: 120,
		},
		Completion: CompletionConfig{
			Provider:     "ollama",
			Model:        "llama3",
			APIKeyEnv:    "OPENAI_API_KEY",
			SystemPrompt: DefaultSystemPrompt,
			Temperature:  0.2,
			MaxTokens:    1024,
		},
		Query: QueryConfig{
			TopK:          5,
			ContextBudget: 3000,
			OnEmpty:       OnEmptySkip,
			TimeoutSecs:   120,
			CacheSize:     100,
			CacheTTLSecs:  300,
		},
		Library: LibraryConfig{
			Includes: []string{"**/*.txt", "**/*.md"},
			Excludes: []string{"**/.librarian/**", "**/.git/**"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks configuration invariants that must fail fast.
func (c *Config) Validate() error {
	if c.Chunker.ChunkTokens <= 0 {
		return fmt.Errorf("chunker: chunk_tokens must be positive, got %d", c.Chunker.ChunkTokens)
	}
	if c.Chunker.ChunkOverlap < 0 {
		return fmt.Errorf("chunker: chunk_overlap must not be negative, got %d", c.Chunker.ChunkOverlap)
	}
	if c.Chunker.ChunkOverlap >= c.Chunker.ChunkTokens {
		return fmt.Errorf("chunker: chunk_overlap (%d) must be smaller than chunk_tokens (%d)",
			c.Chunker.ChunkOverlap, c.Chunker.ChunkTokens)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding: dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding: batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.MaxParallel <= 0 {
		return fmt.Errorf("embedding: max_parallel must be positive, got %d", c.Embedding.MaxParallel)
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("query: top_k must be positive, got %d", c.Query.TopK)
	}
	if c.Query.OnEmpty != OnEmptySkip && c.Query.OnEmpty != OnEmptyPrompt {
		return fmt.Errorf("query: on_empty must be %q or %q, got %q", OnEmptySkip, OnEmptyPrompt, c.Query.OnEmpty)
	}
	return nil
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for librarian.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "librarian.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".librarian", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StorePath returns the path to the fragment store database.
func (c *Config) StorePath(dir string) string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(dir, ".librarian", "library.db")
}

// EnsureDataDir ensures the .librarian directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".librarian"), 0755)
}
