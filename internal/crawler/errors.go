package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInterrupted marks a query abandoned by a graceful drain. The query is
	// left unmarked so the next run picks it up again.
	ErrInterrupted = errors.New("query processing interrupted")
	// ErrStorageOutage is returned by the orchestrator once consecutive storage
	// failures cross the configured threshold.
	ErrStorageOutage = errors.New("storage outage")
	// ErrQueueClosed is returned by a Queue once it is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// UnrecoverableFetchError is returned once retries for a page are exhausted.
type UnrecoverableFetchError struct {
	Query    Query
	Offset   int
	Attempts int
	Err      error
}

func (e *UnrecoverableFetchError) Error() string {
	return fmt.Sprintf("fetch query %q at offset %d failed after %d attempts: %v",
		e.Query, e.Offset, e.Attempts, e.Err)
}

func (e *UnrecoverableFetchError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failed RecordStore operation for one query.
type StorageError struct {
	Op    string
	Query Query
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s for query %q: %v", e.Op, e.Query, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsUnrecoverableFetch reports whether err carries an UnrecoverableFetchError.
func IsUnrecoverableFetch(err error) bool {
	var fe *UnrecoverableFetchError
	return errors.As(err, &fe)
}
