package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageQueryStart   Stage = "QUERY_START"
	StagePageDone     Stage = "PAGE_DONE"
	StageQueryDone    Stage = "QUERY_DONE"
	StageQueryError   Stage = "QUERY_ERROR"
	StageQuerySkipped Stage = "QUERY_SKIPPED"
	StageQueryAborted Stage = "QUERY_ABORTED"
	StageFetchRetry   Stage = "FETCH_RETRY"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Query is required for every stage except the run lifecycle ones.
	Query string
	// Offset is the page offset for PAGE_DONE and FETCH_RETRY, or the resume
	// offset for QUERY_START.
	Offset int
	// Records counts records written by the page (PAGE_DONE) or query (QUERY_DONE).
	Records int
	// Attempt is the failed attempt number for FETCH_RETRY.
	Attempt int
	// Wait is the backoff scheduled before the next attempt.
	Wait time.Duration
	// Dur captures elapsed time for completed queries and runs.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageQueryStart, StageQueryDone, StageQueryError, StageQuerySkipped, StageQueryAborted:
		if e.Query == "" {
			return fmt.Errorf("%s requires query", e.Stage)
		}
	case StagePageDone, StageFetchRetry:
		if e.Query == "" {
			return fmt.Errorf("%s requires query", e.Stage)
		}
		if e.Offset < 0 {
			return errors.New("offset must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Wait < 0 {
		return errors.New("durations must be >= 0")
	}
	if e.Records < 0 {
		return errors.New("records must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual UUID into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
