// Package storage defines the ingestion ledger: a durable record of ingestion
// runs per index namespace.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrRunNotFound is returned when no run matches a lookup.
var ErrRunNotFound = errors.New("ingestion run not found")

// Ledger records ingestion runs.
type Ledger interface {
	// BeginRun stores run with status running. ID and StartedAt are filled in when empty.
	BeginRun(ctx context.Context, run *models.IngestionRun) error
	// FinishRun stores the terminal status, counts and error of run.
	FinishRun(ctx context.Context, run *models.IngestionRun) error
	// LastRun returns the most recent run for the namespace, or ErrRunNotFound.
	LastRun(ctx context.Context, index, namespace string) (*models.IngestionRun, error)
	// LastCompletedRun returns the most recent completed run, stale or not.
	LastCompletedRun(ctx context.Context, index, namespace string) (*models.IngestionRun, error)
	// MarkStale flags every completed run of the namespace and returns how many changed.
	MarkStale(ctx context.Context, index, namespace string) (int64, error)

	Close() error
}
