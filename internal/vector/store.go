// Package vector provides named, namespaced vector indexes behind a common
// interface, with embedded, in-process and remote backends.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Metric is the similarity function an index ranks by. Higher scores are closer.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricDotProduct Metric = "dotproduct"
)

var (
	// ErrIndexNotFound is returned when a named index does not exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned by CreateIndex when the name is taken.
	ErrIndexExists = errors.New("index already exists")
	// ErrDimensionMismatch is returned for vectors whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// IndexSpec describes an index. Cloud and Region are placement hints kept for
// managed backends; EmbeddingModel records which model produced the vectors.
type IndexSpec struct {
	Name           string `json:"name"`
	Dimension      int    `json:"dimension"`
	Metric         Metric `json:"metric"`
	Cloud          string `json:"cloud,omitempty"`
	Region         string `json:"region,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// Validate checks the name, dimension and metric.
func (s IndexSpec) Validate() error {
	if s.Name == "" {
		return errors.New("index name is required")
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("index %s: dimension must be positive", s.Name)
	}
	switch s.Metric {
	case MetricCosine, MetricDotProduct:
		return nil
	default:
		return fmt.Errorf("index %s: unsupported metric %q", s.Name, s.Metric)
	}
}

// Record is a vector with its source text and metadata.
type Record struct {
	ID       string
	Values   []float32
	Text     string
	Metadata map[string]interface{}
}

// Match is a search hit.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]interface{}
}

// NamespaceStats describes one namespace of an index.
type NamespaceStats struct {
	Namespace   string `json:"namespace"`
	VectorCount int64  `json:"vector_count"`
	Dimension   int    `json:"dimension"`
}

// Store manages indexes.
type Store interface {
	CreateIndex(ctx context.Context, spec IndexSpec) error
	HasIndex(ctx context.Context, name string) (bool, error)
	DescribeIndex(ctx context.Context, name string) (*IndexSpec, error)
	// Index returns a handle to an existing index, or ErrIndexNotFound.
	Index(ctx context.Context, name string) (Index, error)
	Close() error
}

// Index reads and writes one index. Implementations are safe for concurrent use.
type Index interface {
	Name() string
	Dimension() int
	Metric() Metric
	DescribeStats(ctx context.Context, namespace string) (NamespaceStats, error)
	// Upsert inserts records, replacing records with the same ID in the namespace.
	Upsert(ctx context.Context, namespace string, records []Record) error
	// SimilaritySearch returns at most k matches ordered by non-increasing score.
	// An empty namespace yields no matches and no error.
	SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]Match, error)
}

func validateRecords(records []Record, dim int) error {
	for _, r := range records {
		if r.ID == "" {
			return errors.New("record id is required")
		}
		if len(r.Values) != dim {
			return fmt.Errorf("%w: record %s has %d values, index expects %d", ErrDimensionMismatch, r.ID, len(r.Values), dim)
		}
	}
	return nil
}

func checkQuery(query []float32, dim int) error {
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d values, index expects %d", ErrDimensionMismatch, len(query), dim)
	}
	return nil
}

// encodeMetadata returns metadata as JSON, "{}" for nil.
func encodeMetadata(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// IsPermanent reports whether err from a Store or Index cannot succeed on
// retry: dimension mismatches, missing indexes and non-temporary HTTP answers.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrIndexNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && !se.Temporary()
}
