// Package sqlite provides the default SQLite-backed RecordStore.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS podcasts (
		id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		publisher TEXT,
		total_episodes INTEGER,
		explicit BOOLEAN,
		media_type TEXT,
		available_markets TEXT,
		languages TEXT,
		image_url TEXT,
		external_url TEXT,
		href TEXT,
		market TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS query_progress (
		query TEXT PRIMARY KEY,
		completed BOOLEAN NOT NULL DEFAULT 0,
		resume_offset INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,
}

const recordColumns = `id, name, description, publisher, total_episodes, explicit, media_type,
	available_markets, languages, image_url, external_url, href, market`

// RecordStore persists catalog records and the completion ledger in SQLite.
type RecordStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) the database file at path. Writes are
// funneled through a single connection so concurrent workers never contend
// for the SQLite write lock.
func Open(path string) (*RecordStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &RecordStore{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *RecordStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	if err := s.sqlDB.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}

// Initialize creates both tables if they do not exist. Safe to repeat.
func (s *RecordStore) Initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertRecord inserts or replaces a record keyed by ID.
func (s *RecordStore) UpsertRecord(ctx context.Context, rec crawler.CatalogRecord) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR REPLACE INTO podcasts (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		nullString(rec.Name),
		nullString(rec.Description),
		nullString(rec.Publisher),
		nullInt(rec.TotalEpisodes),
		nullBool(rec.Explicit),
		nullString(rec.MediaType),
		nullString(crawler.JoinList(rec.Markets)),
		nullString(crawler.JoinList(rec.Languages)),
		nullString(rec.ImageURL),
		nullString(rec.ExternalURL),
		nullString(rec.Href),
		nullString(rec.Market),
	)
	if err != nil {
		return fmt.Errorf("upsert podcast %q: %w", rec.ID, err)
	}
	return nil
}

// IsComplete reports whether the ledger holds a completed entry for query.
func (s *RecordStore) IsComplete(ctx context.Context, query crawler.Query) (bool, error) {
	var completed bool
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT completed FROM query_progress WHERE query = ?`, query.String(),
	).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check query %q: %w", query, err)
	}
	return completed, nil
}

// MarkComplete records query as finished.
func (s *RecordStore) MarkComplete(ctx context.Context, query crawler.Query) error {
	return s.writeLedger(ctx, query, true, 0)
}

// MarkPartial records query as unfinished, to be resumed at offset.
func (s *RecordStore) MarkPartial(ctx context.Context, query crawler.Query, offset int) error {
	return s.writeLedger(ctx, query, false, offset)
}

func (s *RecordStore) writeLedger(ctx context.Context, query crawler.Query, completed bool, offset int) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR REPLACE INTO query_progress (query, completed, resume_offset, updated_at)
		 VALUES (?, ?, ?, ?)`,
		query.String(), completed, offset, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("mark query %q: %w", query, err)
	}
	return nil
}

// ResumeOffset returns the resume offset of an unfinished query, or 0.
func (s *RecordStore) ResumeOffset(ctx context.Context, query crawler.Query) (int, error) {
	var offset int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT resume_offset FROM query_progress WHERE query = ? AND completed = 0`, query.String(),
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resume offset for %q: %w", query, err)
	}
	return offset, nil
}

// GetRecord loads one record by ID.
func (s *RecordStore) GetRecord(ctx context.Context, id string) (crawler.CatalogRecord, error) {
	var (
		rec                                              crawler.CatalogRecord
		name, description, publisher, mediaType, markets sql.NullString
		languages, imageURL, externalURL, href, market   sql.NullString
		totalEpisodes                                    sql.NullInt64
		explicit                                         sql.NullBool
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM podcasts WHERE id = ?`, id,
	).Scan(
		&rec.ID, &name, &description, &publisher, &totalEpisodes, &explicit, &mediaType,
		&markets, &languages, &imageURL, &externalURL, &href, &market,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CatalogRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.CatalogRecord{}, fmt.Errorf("get podcast %q: %w", id, err)
	}
	rec.Name = name.String
	rec.Description = description.String
	rec.Publisher = publisher.String
	rec.MediaType = mediaType.String
	rec.Markets = crawler.SplitList(markets.String)
	rec.Languages = crawler.SplitList(languages.String)
	rec.ImageURL = imageURL.String
	rec.ExternalURL = externalURL.String
	rec.Href = href.String
	rec.Market = market.String
	if totalEpisodes.Valid {
		v := int(totalEpisodes.Int64)
		rec.TotalEpisodes = &v
	}
	if explicit.Valid {
		v := explicit.Bool
		rec.Explicit = &v
	}
	return rec, nil
}

// CountRecords returns the number of persisted records.
func (s *RecordStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM podcasts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count podcasts: %w", err)
	}
	return n, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
