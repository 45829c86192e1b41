package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, config.VectorStoreConfig{Type: "sqlite", SQLite: config.SQLiteStoreConfig{Path: filepath.Join(dir, "v.db")}})
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		if _, ok := s.(*SQLiteStore); !ok {
			t.Errorf("Open(sqlite) returned %T", s)
		}
	})
	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, config.VectorStoreConfig{Type: "memory"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := s.(*MemoryStore); !ok {
			t.Errorf("Open(memory) returned %T", s)
		}
	})
	t.Run("qdrant", func(t *testing.T) {
		s, err := Open(ctx, config.VectorStoreConfig{Type: "qdrant", Qdrant: config.QdrantConfig{URL: "http://localhost:6333"}})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := s.(*QdrantStore); !ok {
			t.Errorf("Open(qdrant) returned %T", s)
		}
	})

	errCases := []struct {
		name string
		cfg  config.VectorStoreConfig
	}{
		{"unknown", config.VectorStoreConfig{Type: "faiss"}},
		{"qdrant_no_url", config.VectorStoreConfig{Type: "qdrant"}},
		{"pgvector_no_dsn", config.VectorStoreConfig{Type: "pgvector", PGVector: config.PGVectorConfig{DSNEnv: "KOTAE_TEST_UNSET_DSN"}}},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KOTAE_TEST_UNSET_DSN", "")
			_, err := Open(ctx, tt.cfg)
			if !config.IsConfigurationError(err) {
				t.Errorf("Open = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestSpecFromConfig(t *testing.T) {
	cfg := config.Default()
	spec := SpecFromConfig(cfg.VectorStore, cfg.Embedding)
	if spec.Name != config.DefaultIndexName || spec.Dimension != config.DefaultDimensions || spec.Metric != MetricCosine {
		t.Errorf("spec = %+v", spec)
	}
	if spec.EmbeddingModel != config.DefaultEmbeddingModel || spec.Cloud != "aws" || spec.Region != "us-east-1" {
		t.Errorf("spec = %+v", spec)
	}
	if err := spec.Validate(); err != nil {
		t.Error(err)
	}
}
