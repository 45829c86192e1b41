package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// StoreType names a backend.
type StoreType string

const (
	// StoreTypeSQLite keeps vectors in a local SQLite file and searches by brute force.
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeMemory keeps vectors in process, optionally snapshotted to disk.
	StoreTypeMemory StoreType = "memory"
	// StoreTypePGVector keeps vectors in Postgres with the pgvector extension.
	StoreTypePGVector StoreType = "pgvector"
	// StoreTypeQdrant keeps vectors in a Qdrant server.
	StoreTypeQdrant StoreType = "qdrant"
)

// Open creates the store described by cfg. Missing connection settings are
// reported as *config.ConfigurationError.
func Open(ctx context.Context, cfg config.VectorStoreConfig) (Store, error) {
	switch StoreType(cfg.Type) {
	case StoreTypeSQLite, "":
		return NewSQLiteStore(cfg.SQLite.Path)
	case StoreTypeMemory:
		return NewMemoryStore(cfg.Memory.Path)
	case StoreTypePGVector:
		dsn, err := config.RequireEnv("vector_store.pgvector.dsn_env", cfg.PGVector.DSNEnv)
		if err != nil {
			return nil, err
		}
		return NewPGVectorStore(ctx, dsn, cfg.PGVector.MaxOpenConns)
	case StoreTypeQdrant:
		if cfg.Qdrant.URL == "" {
			return nil, &config.ConfigurationError{Field: "vector_store.qdrant.url", Reason: "required for qdrant store"}
		}
		return NewQdrantStore(cfg.Qdrant.URL, cfg.Qdrant.APIKey(), cfg.Qdrant.Timeout), nil
	default:
		return nil, &config.ConfigurationError{
			Field:  "vector_store.type",
			Reason: fmt.Sprintf("unknown store type %q (supported: sqlite, memory, pgvector, qdrant)", cfg.Type),
		}
	}
}

// SpecFromConfig builds the index spec the service expects for cfg.
func SpecFromConfig(vs config.VectorStoreConfig, emb config.EmbeddingConfig) IndexSpec {
	return IndexSpec{
		Name:           vs.IndexName,
		Dimension:      emb.Dimensions,
		Metric:         Metric(vs.Metric),
		Cloud:          vs.Cloud,
		Region:         vs.Region,
		EmbeddingModel: emb.Model,
	}
}
