package config

import "time"

// Defaults mirror the production deployment the service was built for.
const (
	DefaultIndexName      = "dianai"
	DefaultNamespace      = "default"
	DefaultMetric         = "cosine"
	DefaultCloud          = "aws"
	DefaultRegion         = "us-east-1"
	DefaultEmbeddingModel = "text-embedding-3-large"
	DefaultDimensions     = 3072
	DefaultPattern        = "*.pdf"
	DefaultChunkSize      = 1500
	DefaultChunkOverlap   = 150
	DefaultK              = 6
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "./data/ledger.db"
	}

	applyEmbeddingDefaults(&cfg.Embedding)
	applyVectorStoreDefaults(&cfg.VectorStore)

	if cfg.Ingest.Directory == "" {
		cfg.Ingest.Directory = "./corpus"
	}
	if cfg.Ingest.Pattern == "" {
		cfg.Ingest.Pattern = DefaultPattern
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = DefaultChunkSize
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 64
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	applyRetryDefaults(&cfg.Ingest.Retry, 5)

	if cfg.Query.DefaultK == 0 {
		cfg.Query.DefaultK = DefaultK
	}
	if cfg.Query.MaxK == 0 {
		cfg.Query.MaxK = 50
	}
	applyRetryDefaults(&cfg.Query.Retry, 3)

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "openai"
	}
	switch e.Provider {
	case "openai":
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = "OPENAI_API_KEY"
		}
	case "azure":
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = "AZURE_OPENAI_API_KEY"
		}
		if e.EndpointEnv == "" {
			e.EndpointEnv = "AZURE_OPENAI_ENDPOINT"
		}
		if e.APIVersion == "" {
			e.APIVersion = "2024-02-01"
		}
	case "onnx":
		if e.ModelPath == "" {
			e.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
		}
		if e.MaxTokens == 0 {
			e.MaxTokens = 256
		}
		if e.Dimensions == 0 {
			e.Dimensions = 384
		}
		if e.Model == "" {
			e.Model = "all-MiniLM-L6-v2"
		}
	}
	if e.Model == "" {
		e.Model = DefaultEmbeddingModel
	}
	if e.Dimensions == 0 {
		e.Dimensions = DefaultDimensions
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
}

func applyVectorStoreDefaults(v *VectorStoreConfig) {
	if v.Type == "" {
		v.Type = "sqlite"
	}
	if v.IndexName == "" {
		v.IndexName = DefaultIndexName
	}
	if v.Namespace == "" {
		v.Namespace = DefaultNamespace
	}
	if v.Metric == "" {
		v.Metric = DefaultMetric
	}
	if v.Cloud == "" {
		v.Cloud = DefaultCloud
	}
	if v.Region == "" {
		v.Region = DefaultRegion
	}
	if v.SQLite.Path == "" {
		v.SQLite.Path = "./data/vectors.db"
	}
	if v.PGVector.DSNEnv == "" {
		v.PGVector.DSNEnv = "DATABASE_URL"
	}
	if v.PGVector.MaxOpenConns == 0 {
		v.PGVector.MaxOpenConns = 25
	}
	if v.Qdrant.APIKeyEnv == "" {
		v.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
	}
	if v.Qdrant.Timeout == 0 {
		v.Qdrant.Timeout = 15 * time.Second
	}
}

func applyRetryDefaults(r *RetryConfig, attempts int) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = attempts
	}
	if r.InitialInterval == 0 {
		r.InitialInterval = 200 * time.Millisecond
	}
	if r.MaxInterval == 0 {
		r.MaxInterval = 5 * time.Second
	}
}
