// Package config provides configuration loading and structs for the kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Query       QueryConfig       `yaml:"query"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for local state that is not part of the vector index.
type StorageConfig struct {
	LedgerPath string `yaml:"ledger_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
// Secrets are never stored in the file; APIKeyEnv and EndpointEnv name the
// environment variables that hold them.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Dimensions  int           `yaml:"dimensions"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	BaseURL     string        `yaml:"base_url"`
	EndpointEnv string        `yaml:"endpoint_env"`
	APIVersion  string        `yaml:"api_version"`
	Deployment  string        `yaml:"deployment"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheSize   int           `yaml:"cache_size"`

	// ONNX provider only. VocabPath defaults to vocab.txt next to the model.
	ModelPath string `yaml:"model_path"`
	VocabPath string `yaml:"vocab_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey returns the provider API key from the environment.
func (e EmbeddingConfig) APIKey() string {
	return lookupEnv(e.APIKeyEnv)
}

// Endpoint returns the provider base URL, preferring the environment over BaseURL.
func (e EmbeddingConfig) Endpoint() string {
	if v := lookupEnv(e.EndpointEnv); v != "" {
		return v
	}
	return e.BaseURL
}

// VectorStoreConfig describes the vector index and the backend that hosts it.
type VectorStoreConfig struct {
	Type      string `yaml:"type"`
	IndexName string `yaml:"index_name"`
	Namespace string `yaml:"namespace"`
	Metric    string `yaml:"metric"`
	Cloud     string `yaml:"cloud"`
	Region    string `yaml:"region"`

	SQLite   SQLiteStoreConfig `yaml:"sqlite"`
	Memory   MemoryStoreConfig `yaml:"memory"`
	PGVector PGVectorConfig    `yaml:"pgvector"`
	Qdrant   QdrantConfig      `yaml:"qdrant"`
}

// SQLiteStoreConfig configures the embedded SQLite vector store.
type SQLiteStoreConfig struct {
	Path string `yaml:"path"`
}

// MemoryStoreConfig configures the in-process store. An empty Path disables snapshots.
type MemoryStoreConfig struct {
	Path string `yaml:"path"`
}

// PGVectorConfig configures the PostgreSQL + pgvector store.
type PGVectorConfig struct {
	DSNEnv       string `yaml:"dsn_env"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN returns the connection string from the environment.
func (p PGVectorConfig) DSN() string {
	return lookupEnv(p.DSNEnv)
}

// QdrantConfig configures the Qdrant REST store.
type QdrantConfig struct {
	URL       string        `yaml:"url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// APIKey returns the Qdrant API key from the environment, if any.
func (q QdrantConfig) APIKey() string {
	return lookupEnv(q.APIKeyEnv)
}

// IngestConfig holds corpus loading, chunking and upsert settings.
type IngestConfig struct {
	Directory        string      `yaml:"directory"`
	Pattern          string      `yaml:"pattern"`
	Recursive        *bool       `yaml:"recursive"`
	OnStartup        *bool       `yaml:"on_startup"`
	ChunkSize        int         `yaml:"chunk_size"`
	ChunkOverlap     *int        `yaml:"chunk_overlap"`
	BatchSize        int         `yaml:"batch_size"`
	Concurrency      int         `yaml:"concurrency"`
	CompletionMarker bool        `yaml:"completion_marker"`
	Retry            RetryConfig `yaml:"retry"`
}

// RecursiveOrDefault returns whether to walk the corpus recursively; defaults to true when unset.
func (i *IngestConfig) RecursiveOrDefault() bool {
	if i.Recursive != nil {
		return *i.Recursive
	}
	return true
}

// OnStartupOrDefault returns whether serve ingests before accepting queries; defaults to true.
func (i *IngestConfig) OnStartupOrDefault() bool {
	if i.OnStartup != nil {
		return *i.OnStartup
	}
	return true
}

// OverlapOrDefault returns the chunk overlap. Zero is a valid explicit value.
func (i *IngestConfig) OverlapOrDefault() int {
	if i.ChunkOverlap != nil {
		return *i.ChunkOverlap
	}
	return DefaultChunkOverlap
}

// QueryConfig holds retrieval settings.
type QueryConfig struct {
	DefaultK int         `yaml:"default_k"`
	MaxK     int         `yaml:"max_k"`
	MinScore float64     `yaml:"min_score"`
	Retry    RetryConfig `yaml:"retry"`
}

// RetryConfig bounds retries of calls to the embedding provider and the vector store.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// WatchConfig holds corpus watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))

	return &cfg, nil
}

// Default returns a config with every default applied and paths resolved
// against the working directory. Used when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	if wd, err := os.Getwd(); err == nil {
		cfg.expandPaths(wd)
	}
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.LedgerPath = expandPath(c.Storage.LedgerPath, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	if c.Embedding.VocabPath != "" {
		c.Embedding.VocabPath = expandPath(c.Embedding.VocabPath, configDir)
	}
	c.VectorStore.SQLite.Path = expandPath(c.VectorStore.SQLite.Path, configDir)
	if c.VectorStore.Memory.Path != "" {
		c.VectorStore.Memory.Path = expandPath(c.VectorStore.Memory.Path, configDir)
	}
	c.Ingest.Directory = expandPath(c.Ingest.Directory, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" paths are relative to the home directory; other relative paths are kept as given.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
