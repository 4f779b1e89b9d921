// Package config provides configuration types and loading for the archive server.
//
// Configuration is resolved in three layers: defaults, an optional YAML file,
// and environment variables (optionally loaded from a .env file). Environment
// variables win.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Embedder EmbedderConfig `yaml:"embedder"`
	LLM      LLMConfig      `yaml:"llm"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host to bind. Default: 0.0.0.0
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty"`

	// UploadDir is where raw uploads are stored. Default: ./uploads
	UploadDir string `yaml:"upload_dir,omitempty"`

	// MaxUploadBytes limits upload size. Default: 100MB
	MaxUploadBytes int64 `yaml:"max_upload_bytes,omitempty"`
}

// DatabaseConfig configures the SQLite record store.
type DatabaseConfig struct {
	// Path to the SQLite database file. Default: archiva.db
	Path string `yaml:"path,omitempty"`
}

// AuthConfig configures JWT authentication.
type AuthConfig struct {
	// Secret signs HS256 tokens. Must be at least 32 bytes.
	Secret string `yaml:"secret,omitempty"`

	// Issuer claim for issued tokens. Default: archiva
	Issuer string `yaml:"issuer,omitempty"`

	// TokenTTLHours is token lifetime in hours. Default: 168 (7 days)
	TokenTTLHours int `yaml:"token_ttl_hours,omitempty"`
}

// EmbedderConfig configures the embedding backend.
// An empty APIKey means embeddings are disabled and every dependent
// operation degrades per its contract.
type EmbedderConfig struct {
	APIKey string `yaml:"api_key,omitempty"`

	// Host of an OpenAI-compatible embeddings API. Default: https://api.openai.com/v1
	Host string `yaml:"host,omitempty"`

	// Model name. Default: text-embedding-3-small
	Model string `yaml:"model,omitempty"`

	// BatchSize caps texts per external call. Default: 100
	BatchSize int `yaml:"batch_size,omitempty"`

	// TimeoutSeconds per external call. Default: 30
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// MaxRetries for transient failures. Default: 3
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	APIKey string `yaml:"api_key,omitempty"`

	// Host of an OpenAI-compatible chat API. Default: https://api.openai.com/v1
	Host string `yaml:"host,omitempty"`

	// Model name. Default: gpt-4o-mini
	Model string `yaml:"model,omitempty"`

	// TimeoutSeconds per completion call. Default: 120
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// ChunkingConfig configures text chunking for embedding.
type ChunkingConfig struct {
	// Size is the target chunk size in characters. Default: 1000
	Size int `yaml:"size,omitempty"`

	// Overlap between consecutive chunks in characters. Default: 200
	Overlap int `yaml:"overlap,omitempty"`
}

// SearchConfig holds the tunable ranking constants. The defaults are the
// shipped behavior; they are exposed as configuration rather than derived.
type SearchConfig struct {
	// SimilarityFloor is the minimum cosine similarity for RAG retrieval. Default: 0.3
	SimilarityFloor float64 `yaml:"similarity_floor,omitempty"`

	// SemanticFloor is the minimum per-file similarity for the hybrid
	// semantic arm. Default: 0.5
	SemanticFloor float64 `yaml:"semantic_floor,omitempty"`

	// KeywordFloor is the minimum lexical relevance kept. Default: 2.0
	KeywordFloor float64 `yaml:"keyword_floor,omitempty"`

	// KeywordBoost multiplies normalized keyword scores. Default: 1.2
	KeywordBoost float64 `yaml:"keyword_boost,omitempty"`

	// DualMatchBoost multiplies scores of files matched by both arms. Default: 1.3
	DualMatchBoost float64 `yaml:"dual_match_boost,omitempty"`

	// PriorityBoost is added to similarities of priority files. Default: 0.15
	PriorityBoost float64 `yaml:"priority_boost,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format: simple or verbose. Default: simple
	Format string `yaml:"format,omitempty"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./uploads"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 100 << 20
	}
	if c.Database.Path == "" {
		c.Database.Path = "archiva.db"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "archiva"
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 168
	}
	if c.Embedder.Host == "" {
		c.Embedder.Host = "https://api.openai.com/v1"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.BatchSize == 0 {
		c.Embedder.BatchSize = 100
	}
	if c.Embedder.TimeoutSeconds == 0 {
		c.Embedder.TimeoutSeconds = 30
	}
	if c.Embedder.MaxRetries == 0 {
		c.Embedder.MaxRetries = 3
	}
	if c.LLM.Host == "" {
		c.LLM.Host = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.Chunking.Size == 0 {
		c.Chunking.Size = 1000
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = 200
	}
	if c.Search.SimilarityFloor == 0 {
		c.Search.SimilarityFloor = 0.3
	}
	if c.Search.SemanticFloor == 0 {
		c.Search.SemanticFloor = 0.5
	}
	if c.Search.KeywordFloor == 0 {
		c.Search.KeywordFloor = 2.0
	}
	if c.Search.KeywordBoost == 0 {
		c.Search.KeywordBoost = 1.2
	}
	if c.Search.DualMatchBoost == 0 {
		c.Search.DualMatchBoost = 1.3
	}
	if c.Search.PriorityBoost == 0 {
		c.Search.PriorityBoost = 0.15
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 bytes, got %d", len(c.Auth.Secret))
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunk overlap must be non-negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunk overlap (%d) must be less than chunk size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	return nil
}

// Load reads configuration from an optional YAML file and the environment.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides configuration from environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ARCHIVA_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ARCHIVA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ARCHIVA_UPLOAD_DIR"); v != "" {
		c.Server.UploadDir = v
	}
	if v := os.Getenv("ARCHIVA_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedder.APIKey = v
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Embedder.Host = v
		c.LLM.Host = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ARCHIVA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
