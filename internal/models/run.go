package models

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// IngestionRun is one ingestion attempt as recorded in the ledger. Stale is set
// when the corpus changed after the run completed.
type IngestionRun struct {
	ID             string     `json:"id"`
	Index          string     `json:"index"`
	Namespace      string     `json:"namespace"`
	Status         RunStatus  `json:"status"`
	Directory      string     `json:"directory"`
	Pattern        string     `json:"pattern"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	Documents      int        `json:"documents"`
	Chunks         int        `json:"chunks"`
	Upserted       int        `json:"upserted"`
	Error          string     `json:"error,omitempty"`
	Stale          bool       `json:"stale"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the run reached a terminal state.
func (r *IngestionRun) Finished() bool {
	return r.Status != RunRunning && r.Status != ""
}

// Status describes the serving state of one index namespace.
type Status struct {
	Ready          bool          `json:"ready"`
	Reason         string        `json:"reason,omitempty"`
	StoreType      string        `json:"store_type"`
	Index          string        `json:"index"`
	Namespace      string        `json:"namespace"`
	Dimension      int           `json:"dimension"`
	Metric         string        `json:"metric"`
	EmbeddingModel string        `json:"embedding_model"`
	VectorCount    int64         `json:"vector_count"`
	Ingesting      bool          `json:"ingesting"`
	LastRun        *IngestionRun `json:"last_run,omitempty"`
	DiskUsageBytes int64         `json:"disk_usage_bytes"`
}
