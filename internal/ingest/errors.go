package ingest

import (
	"errors"
	"fmt"
)

// ErrIngestionInProgress is returned when a run for the same namespace is
// already active in this process.
var ErrIngestionInProgress = errors.New("ingestion already in progress")

// Stages reported by IngestionError.
const (
	StageIndex  = "index"
	StageLoad   = "load"
	StageUpsert = "upsert"
	StageLedger = "ledger"
)

// IngestionError reports a run that did not complete. Err may join several
// batch failures.
type IngestionError struct {
	Stage     string
	Namespace string
	Err       error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion of namespace %q failed during %s: %v", e.Namespace, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IsIngestionError reports whether err is or wraps an IngestionError.
func IsIngestionError(err error) bool {
	var ie *IngestionError
	return errors.As(err, &ie)
}
