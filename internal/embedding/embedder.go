// Package embedding turns text into vectors through a hosted provider, a
// local ONNX model, or a deterministic hashing model for tests.
package embedding

import "context"

// Embedder produces vector embeddings for text. Ingestion and querying must
// use embedders that report the same Model and Dimensions.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}
