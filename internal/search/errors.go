package search

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is matched by NotInitializedError.
var ErrNotInitialized = errors.New("vector index not initialized")

// NotInitializedError is returned when a query arrives before the engine has
// an index handle. Reason says why, when known.
type NotInitializedError struct {
	Reason string
}

func (e *NotInitializedError) Error() string {
	if e.Reason == "" {
		return ErrNotInitialized.Error()
	}
	return ErrNotInitialized.Error() + ": " + e.Reason
}

func (e *NotInitializedError) Is(target error) bool { return target == ErrNotInitialized }

// Retrieval operations reported by RetrievalError.
const (
	OpEmbed  = "embed"
	OpSearch = "search"
)

// RetrievalError reports an embedding or similarity search that failed after
// retries.
type RetrievalError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err is or wraps a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}
