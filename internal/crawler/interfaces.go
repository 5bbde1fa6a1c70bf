package crawler

import (
	"context"
	"time"
)

// SearchClient performs one remote catalog search call. Implementations must
// be safe for concurrent use by multiple workers.
type SearchClient interface {
	Search(ctx context.Context, req SearchRequest) (Page, error)
}

// Fetcher retrieves one page for a query, hiding retry mechanics.
type Fetcher interface {
	Fetch(ctx context.Context, query Query, offset, limit int) (Page, error)
}

// RecordStore persists catalog records and the per-query completion ledger.
// Every method is a single atomic operation safe for concurrent callers.
type RecordStore interface {
	// Initialize creates the records table and ledger if missing.
	Initialize(ctx context.Context) error
	// UpsertRecord inserts or replaces a record keyed by ID.
	UpsertRecord(ctx context.Context, rec CatalogRecord) error
	// IsComplete reports whether the ledger holds a completed entry for query.
	IsComplete(ctx context.Context, query Query) (bool, error)
	// MarkComplete records query as finished.
	MarkComplete(ctx context.Context, query Query) error
	// MarkPartial records query as unfinished, to be resumed at offset.
	MarkPartial(ctx context.Context, query Query, offset int) error
	// ResumeOffset returns the stored resume offset, or 0 when none exists.
	ResumeOffset(ctx context.Context, query Query) (int, error)
	// GetRecord loads one record by ID.
	GetRecord(ctx context.Context, id string) (CatalogRecord, error)
	// CountRecords returns the number of persisted records.
	CountRecords(ctx context.Context) (int, error)
	Close() error
}

// Queue provides enqueue/dequeue semantics for pending queries.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// Limiter paces outbound remote calls.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// RetryPolicy decides whether and when a failed call is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
