// Package models defines core data structures for documents, chunks, queries, and answers.
package models

import "time"

// Document is one unit of loaded corpus text: a whole file, or a single page or
// sheet of a paged format. Documents are not modified after loading.
type Document struct {
	ID       string                 `json:"id"`
	Source   string                 `json:"source"`
	Page     int                    `json:"page,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentChunk is a contiguous span of a Document sized for embedding.
// Offset is the rune offset of the chunk within the document content.
type DocumentChunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Source     string                 `json:"source"`
	Page       int                    `json:"page,omitempty"`
	ChunkIndex int                    `json:"chunk_index"`
	Offset     int                    `json:"offset"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embedding  []float32              `json:"-"`
}

// FileFailure records a corpus file that could not be loaded.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// IngestionReport summarizes one ingestion run.
type IngestionReport struct {
	RunID         string        `json:"run_id,omitempty"`
	Index         string        `json:"index"`
	Namespace     string        `json:"namespace"`
	Skipped       bool          `json:"skipped"`
	SkipReason    string        `json:"skip_reason,omitempty"`
	IndexCreated  bool          `json:"index_created"`
	ExistingCount int64         `json:"existing_vector_count"`
	Documents     int           `json:"documents"`
	Chunks        int           `json:"chunks"`
	Upserted      int           `json:"upserted"`
	FailedBatches int           `json:"failed_batches"`
	Failures      []FileFailure `json:"failures,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}
