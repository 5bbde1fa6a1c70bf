// Package memory provides an in-process RecordStore for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

// RecordStore keeps records and the completion ledger in maps guarded by a
// single RWMutex. Nothing survives the process.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]crawler.CatalogRecord
	ledger  map[crawler.Query]crawler.LedgerEntry
	writes  int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]crawler.CatalogRecord),
		ledger:  make(map[crawler.Query]crawler.LedgerEntry),
	}
}

// Initialize is a no-op; the maps exist from construction.
func (s *RecordStore) Initialize(context.Context) error {
	return nil
}

// UpsertRecord inserts or replaces a record keyed by ID.
func (s *RecordStore) UpsertRecord(_ context.Context, rec crawler.CatalogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
	s.writes++
	return nil
}

// IsComplete reports whether query has a completed ledger entry.
func (s *RecordStore) IsComplete(_ context.Context, query crawler.Query) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger[query].Completed, nil
}

// MarkComplete records query as finished.
func (s *RecordStore) MarkComplete(_ context.Context, query crawler.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[query] = crawler.LedgerEntry{Query: query, Completed: true}
	return nil
}

// MarkPartial records query as unfinished with a resume offset.
func (s *RecordStore) MarkPartial(_ context.Context, query crawler.Query, offset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[query] = crawler.LedgerEntry{Query: query, ResumeOffset: offset}
	return nil
}

// ResumeOffset returns the stored resume offset for an unfinished query.
func (s *RecordStore) ResumeOffset(_ context.Context, query crawler.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.ledger[query]
	if !ok || entry.Completed {
		return 0, nil
	}
	return entry.ResumeOffset, nil
}

// GetRecord fetches a record by ID.
func (s *RecordStore) GetRecord(_ context.Context, id string) (crawler.CatalogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return crawler.CatalogRecord{}, crawler.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// CountRecords returns the number of distinct record IDs.
func (s *RecordStore) CountRecords(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Ledger returns a copy of the completion ledger.
func (s *RecordStore) Ledger() map[crawler.Query]crawler.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[crawler.Query]crawler.LedgerEntry, len(s.ledger))
	for k, v := range s.ledger {
		out[k] = v
	}
	return out
}

// Writes returns how many upserts have been applied, including overwrites.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close implements crawler.RecordStore.
func (s *RecordStore) Close() error {
	return nil
}

func cloneRecord(rec crawler.CatalogRecord) crawler.CatalogRecord {
	out := rec
	out.Markets = append([]string(nil), rec.Markets...)
	out.Languages = append([]string(nil), rec.Languages...)
	if rec.TotalEpisodes != nil {
		v := *rec.TotalEpisodes
		out.TotalEpisodes = &v
	}
	if rec.Explicit != nil {
		v := *rec.Explicit
		out.Explicit = &v
	}
	return out
}
