package config

import (
	"fmt"
	"path/filepath"
	"regexp"
)

var indexNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks settings that do not depend on the environment. Missing
// credentials are reported later, when the client that needs them is opened.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai", "azure", "onnx", "mock":
	default:
		return &ConfigurationError{Field: "embedding.provider", Reason: fmt.Sprintf("unknown provider %q", c.Embedding.Provider)}
	}
	if c.Embedding.Dimensions <= 0 {
		return &ConfigurationError{Field: "embedding.dimensions", Reason: "must be positive"}
	}

	switch c.VectorStore.Type {
	case "sqlite", "memory", "pgvector", "qdrant":
	default:
		return &ConfigurationError{Field: "vector_store.type", Reason: fmt.Sprintf("unknown store type %q", c.VectorStore.Type)}
	}
	if !indexNamePattern.MatchString(c.VectorStore.IndexName) || len(c.VectorStore.IndexName) > 45 {
		return &ConfigurationError{Field: "vector_store.index_name", Reason: "must be 1-45 lowercase alphanumeric characters or hyphens"}
	}
	switch c.VectorStore.Metric {
	case "cosine", "dotproduct":
	default:
		return &ConfigurationError{Field: "vector_store.metric", Reason: fmt.Sprintf("unsupported metric %q", c.VectorStore.Metric)}
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.URL == "" {
		return &ConfigurationError{Field: "vector_store.qdrant.url", Reason: "required for qdrant store"}
	}

	if err := ValidateChunking(c.Ingest.ChunkSize, c.Ingest.OverlapOrDefault()); err != nil {
		return err
	}
	if _, err := filepath.Match(c.Ingest.Pattern, ""); err != nil {
		return &ConfigurationError{Field: "ingest.pattern", Reason: "malformed glob", Err: err}
	}
	if c.Ingest.BatchSize <= 0 {
		return &ConfigurationError{Field: "ingest.batch_size", Reason: "must be positive"}
	}
	if c.Ingest.Concurrency <= 0 {
		return &ConfigurationError{Field: "ingest.concurrency", Reason: "must be positive"}
	}
	if err := validateRetry("ingest.retry", c.Ingest.Retry); err != nil {
		return err
	}

	if c.Query.DefaultK <= 0 || c.Query.DefaultK > c.Query.MaxK {
		return &ConfigurationError{Field: "query.default_k", Reason: fmt.Sprintf("must be between 1 and max_k (%d)", c.Query.MaxK)}
	}
	if c.Query.MinScore < -1 || c.Query.MinScore > 1 {
		return &ConfigurationError{Field: "query.min_score", Reason: "must be within [-1, 1]"}
	}
	return validateRetry("query.retry", c.Query.Retry)
}

// ValidateChunking enforces 0 <= overlap < size.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return &ConfigurationError{Field: "ingest.chunk_size", Reason: "must be positive"}
	}
	if overlap < 0 || overlap >= size {
		return &ConfigurationError{Field: "ingest.chunk_overlap", Reason: fmt.Sprintf("must satisfy 0 <= overlap < chunk_size (%d), got %d", size, overlap)}
	}
	return nil
}

func validateRetry(field string, r RetryConfig) error {
	if r.MaxAttempts < 1 {
		return &ConfigurationError{Field: field + ".max_attempts", Reason: "must be at least 1"}
	}
	if r.MaxInterval < r.InitialInterval {
		return &ConfigurationError{Field: field + ".max_interval", Reason: "must not be shorter than initial_interval"}
	}
	return nil
}
